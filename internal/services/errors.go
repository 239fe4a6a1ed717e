package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when the membership or user an operation targets does not exist
var ErrNotFound = errors.New("not found")

// ErrInvalidInput is wrapped by validation failures of service requests
var ErrInvalidInput = errors.New("invalid input")

// ConflictError reports that a tenant, domain, user or grant already exists
type ConflictError struct {
	Resource string // "tenant", "domain", "user", "grant"
	Value    string
	// External is true when the collision was found in the identity provider rather
	// than the database.
	External bool
}

func (e *ConflictError) Error() string {
	where := ""
	if e.External {
		where = " in identity provider"
	}
	return fmt.Sprintf("%s %q already exists%s", e.Resource, e.Value, where)
}

// PrivilegeEscalationError is returned when the grant policy switch is on and the
// grantor does not hold every permission being handed out.
type PrivilegeEscalationError struct {
	Missing []string
}

func (e *PrivilegeEscalationError) Error() string {
	return fmt.Sprintf("grantor lacks permissions being granted: %s", strings.Join(e.Missing, ", "))
}

// Stable codes carried by OnboardingError
const (
	CodeConflict            = "conflict"
	CodeProviderUnavailable = "provider_unavailable"
	CodeProviderRejected    = "provider_rejected"
	CodePersistFailed       = "persist_failed"
	CodeCancelled           = "cancelled"
	CodeInternal            = "internal_error"
)

// OnboardingError is the terminal failure of an onboarding attempt, reported after
// compensation has run.
type OnboardingError struct {
	Code             string
	Step             Step
	CleanupSucceeded bool
	// LedgerID references the FailureLedger entry written when cleanup did not succeed.
	LedgerID string
	Err      error
}

func (e *OnboardingError) Error() string {
	return fmt.Sprintf("onboarding failed at %s (%s): %v", e.Step, e.Code, e.Err)
}

func (e *OnboardingError) Unwrap() error {
	return e.Err
}

// CompensationFailure is one compensating call that did not succeed. These are
// aggregated into the FailureLedger entry and never returned on their own.
type CompensationFailure struct {
	Action string
	Err    error
}

func (e *CompensationFailure) Error() string {
	return fmt.Sprintf("compensation %s failed: %v", e.Action, e.Err)
}

func (e *CompensationFailure) Unwrap() error {
	return e.Err
}
