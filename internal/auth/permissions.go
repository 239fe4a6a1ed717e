// Package auth - permissions.go defines the permission name catalogue and PermissionSet,
// the effective set of capabilities an actor holds within one tenant.
package auth

import (
	"fmt"
	"sort"
)

// Permission is the stable name of an atomic capability
type Permission string

const (
	// Member management
	PermInviteUsers Permission = "invite-users"
	PermViewUsers   Permission = "view-users"
	PermRemoveUsers Permission = "remove-users"
	PermEraseUsers  Permission = "erase-users" // Scrub PII and anonymize audit history

	// Access control
	PermAssignPermissions Permission = "assign-permissions" // Grant and revoke roles and direct permissions
	PermManageRoles       Permission = "manage-roles"

	// Tenant administration
	PermViewAuditLog Permission = "view-audit-log"
	PermManageTenant Permission = "manage-tenant" // Includes the global grant policy switch
)

// AllPermissions returns every permission seeded by the initial migration
func AllPermissions() []Permission {
	return []Permission{
		PermInviteUsers,
		PermViewUsers,
		PermRemoveUsers,
		PermEraseUsers,
		PermAssignPermissions,
		PermManageRoles,
		PermViewAuditLog,
		PermManageTenant,
	}
}

// ValidPermissions returns a map of valid permission names
func ValidPermissions() map[string]bool {
	valid := make(map[string]bool)
	for _, p := range AllPermissions() {
		valid[string(p)] = true
	}
	return valid
}

// ValidatePermissionName checks a single permission name against the catalogue
func ValidatePermissionName(name string) error {
	if !ValidPermissions()[name] {
		return fmt.Errorf("invalid permission: %s", name)
	}
	return nil
}

// Names converts permissions to their string names
func Names(perms ...Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// PermissionSet is a set of permission names. The zero value is an empty set.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names; duplicates collapse.
func NewPermissionSet(names ...string) PermissionSet {
	s := make(PermissionSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Add inserts a name
func (s PermissionSet) Add(name string) {
	s[name] = struct{}{}
}

// Has reports whether name is in the set
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// HasAny reports whether at least one of names is present. An empty list is false.
func (s PermissionSet) HasAny(names ...string) bool {
	for _, n := range names {
		if s.Has(n) {
			return true
		}
	}
	return false
}

// HasAll reports whether every name is present. An empty list is true.
func (s PermissionSet) HasAll(names ...string) bool {
	for _, n := range names {
		if !s.Has(n) {
			return false
		}
	}
	return true
}

// Missing returns the names not in the set, sorted
func (s PermissionSet) Missing(names ...string) []string {
	var out []string
	for _, n := range names {
		if !s.Has(n) {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// Names returns the members of the set, sorted
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
