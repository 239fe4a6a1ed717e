// Package models - user.go defines the User model. A user exists once across the system
// (email is unique) and may belong to several tenants through TenantUser.
package models

import (
	"strings"
	"time"
)

// UserStatus is the lifecycle state of a user account
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusDisabled UserStatus = "disabled"
	UserStatusErased   UserStatus = "erased"
)

// ErasedDisplayName replaces a user's name wherever it is shown after erasure.
const ErasedDisplayName = "Deleted User"

// User represents a user in the system
type User struct {
	ID         string     `json:"id"`
	ExternalID *string    `json:"external_id,omitempty"` // Identity provider user id
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	FirstName  string     `json:"first_name"`
	LastName   string     `json:"last_name"`
	Phone      *string    `json:"phone,omitempty"`
	Status     UserStatus `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// DisplayName returns "First Last", falling back to the username.
func (u *User) DisplayName() string {
	if u.Status == UserStatusErased {
		return ErasedDisplayName
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// IsErased reports whether the user's personal data has been scrubbed
func (u *User) IsErased() bool {
	return u.Status == UserStatusErased
}

// ErasedEmail is the placeholder address written over an erased user's email. It stays
// unique per user so the users_email_key index is never violated.
func ErasedEmail(userID string) string {
	return "erased+" + userID + "@invalid"
}
