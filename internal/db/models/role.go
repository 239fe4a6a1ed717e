// Package models - role.go defines global roles, permissions and their groups, along with
// the predefined system roles seeded by the initial migration.
package models

import "time"

// Role is a named permission bundle shared by every tenant. A role row is reference
// data: the same row is attached to memberships across tenants.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description *string   `json:"description,omitempty"`
	IsSystem    bool      `json:"is_system"`
	Permissions []string  `json:"permissions"` // Permission names, sorted
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PermissionGroup groups permissions for presentation
type PermissionGroup struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// Permission is an atomic capability identified by its stable name
type Permission struct {
	ID          string `json:"id"`
	GroupID     string `json:"group_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RolePermission links a role to one of its permissions
type RolePermission struct {
	RoleID       string
	PermissionID string
}

// Names of the system roles seeded by the initial migration
const (
	RoleOrgAdmin   = "org-admin"
	RoleOrgManager = "org-manager"
	RoleOrgUser    = "org-user"
)

// PredefinedRoles returns the system roles and their permission names, mirroring the
// seed data in migrations/000001_init.up.sql.
func PredefinedRoles() []Role {
	adminDesc := "Full control of the tenant"
	managerDesc := "Manages members and their access"
	userDesc := "Regular member"

	return []Role{
		{
			Name:        RoleOrgAdmin,
			DisplayName: "Organization Administrator",
			Description: &adminDesc,
			IsSystem:    true,
			Permissions: []string{
				"assign-permissions", "erase-users", "invite-users", "manage-roles",
				"manage-tenant", "remove-users", "view-audit-log", "view-users",
			},
		},
		{
			Name:        RoleOrgManager,
			DisplayName: "Organization Manager",
			Description: &managerDesc,
			IsSystem:    true,
			Permissions: []string{"assign-permissions", "invite-users", "remove-users", "view-audit-log", "view-users"},
		},
		{
			Name:        RoleOrgUser,
			DisplayName: "Organization User",
			Description: &userDesc,
			IsSystem:    true,
			Permissions: []string{"view-users"},
		},
	}
}
