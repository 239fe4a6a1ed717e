// Package models - audit_log.go defines the AuditLog model for recording privileged mutations,
// capturing actor, tenant, affected resource and before/after snapshots.
package models

import (
	"encoding/json"
	"time"
)

// AuditLog represents one immutable audit entry. Only the anonymization pass may
// rewrite ActorName, OldValues and NewValues after insertion.
type AuditLog struct {
	ID           string          `json:"id"`
	UserID       *string         `json:"user_id,omitempty"`    // Nullable for system actions
	ActorName    *string         `json:"actor_name,omitempty"` // Display name at the time of the action
	TenantID     *string         `json:"tenant_id,omitempty"`
	Action       string          `json:"action"`                  // "tenant.create", "member.grant_role", "user.erase"
	ResourceType *string         `json:"resource_type,omitempty"` // "tenant", "user", "tenant_user", "setting"
	ResourceID   *string         `json:"resource_id,omitempty"`
	OldValues    json.RawMessage `json:"old_values,omitempty"` // JSONB snapshot before the change
	NewValues    json.RawMessage `json:"new_values,omitempty"` // JSONB snapshot after the change
	IPAddress    *string         `json:"ip_address,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
