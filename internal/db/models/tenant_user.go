// Package models - tenant_user.go defines membership (TenantUser), the anchor every
// role assignment and direct permission grant attaches to.
package models

import "time"

// MembershipStatus is the lifecycle state of a TenantUser. Memberships are never
// hard-deleted; removal flips the status so audit history keeps resolving.
type MembershipStatus string

const (
	MembershipStatusActive  MembershipStatus = "active"
	MembershipStatusRemoved MembershipStatus = "removed"
)

// TenantUser represents a user's membership in a tenant
type TenantUser struct {
	ID        string           `json:"id"`
	TenantID  string           `json:"tenant_id"`
	UserID    string           `json:"user_id"`
	Status    MembershipStatus `json:"status"`
	JoinedAt  time.Time        `json:"joined_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// IsActive reports whether the membership currently confers permissions
func (m *TenantUser) IsActive() bool {
	return m.Status == MembershipStatusActive
}

// TenantUserRole assigns one global role to one membership
type TenantUserRole struct {
	TenantUserID string    `json:"tenant_user_id"`
	RoleID       string    `json:"role_id"`
	GrantedBy    *string   `json:"granted_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserPermission is a direct grant of one permission to one membership
type UserPermission struct {
	TenantUserID string    `json:"tenant_user_id"`
	PermissionID string    `json:"permission_id"`
	GrantedBy    *string   `json:"granted_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TenantMember includes user details and role names for display
type TenantMember struct {
	TenantUserID string           `json:"tenant_user_id"`
	TenantID     string           `json:"tenant_id"`
	UserID       string           `json:"user_id"`
	Status       MembershipStatus `json:"status"`
	JoinedAt     time.Time        `json:"joined_at"`
	Email        string           `json:"email"`
	Name         string           `json:"name"`
	Roles        []string         `json:"roles"`
}
