package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the actor or tenant identity is missing or unparseable.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the identity resolved but lacks the required permissions.
	ErrForbidden = errors.New("forbidden")
)

// NotAMemberError is returned when no active membership exists for the (tenant, user)
// pair. It matches ErrUnauthorized under errors.Is, since callers treat a non-member
// the same as an unknown actor.
type NotAMemberError struct {
	TenantID string
	UserID   string
}

func (e *NotAMemberError) Error() string {
	return fmt.Sprintf("user %s is not an active member of tenant %s", e.UserID, e.TenantID)
}

// Is lets errors.Is(err, ErrUnauthorized) match
func (e *NotAMemberError) Is(target error) bool {
	return target == ErrUnauthorized
}
