// Package models - onboarding_failure.go defines the failure ledger entry written when an
// onboarding attempt could not clean up the state it created in the identity provider.
package models

import "time"

// OnboardingFailure is a durable record for manual reconciliation. Entries are never
// deleted automatically; an operator marks them resolved.
type OnboardingFailure struct {
	ID                string     `json:"id"`
	TenantName        string     `json:"tenant_name"`
	Domain            string     `json:"domain"`
	Email             string     `json:"email"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	FailedStep        string     `json:"failed_step"`
	ExternalOrgID     *string    `json:"external_org_id,omitempty"`
	ExternalUserID    *string    `json:"external_user_id,omitempty"`
	MembershipLinked  bool       `json:"membership_linked"`
	ErrorMessage      string     `json:"error_message"`
	CompensationError string     `json:"compensation_error"`
	RolledBack        bool       `json:"rolled_back"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy        *string    `json:"resolved_by,omitempty"`
	ResolutionNote    *string    `json:"resolution_note,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// IsResolved reports whether an operator has reconciled the entry
func (f *OnboardingFailure) IsResolved() bool {
	return f.ResolvedAt != nil
}
