package repositories

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrUniqueViolation is matched (via errors.Is) by every insert that collided with a
// unique constraint.
var ErrUniqueViolation = errors.New("unique constraint violation")

// PostgreSQL error codes checked by this package
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
)

// UniqueViolationError carries the name of the violated constraint so callers can tell
// a duplicate domain from a duplicate email.
type UniqueViolationError struct {
	Constraint string
	Err        error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("unique constraint %q violated", e.Constraint)
}

// Is lets errors.Is(err, ErrUniqueViolation) match
func (e *UniqueViolationError) Is(target error) bool {
	return target == ErrUniqueViolation
}

func (e *UniqueViolationError) Unwrap() error {
	return e.Err
}

// wrapUnique converts a pq unique violation into a *UniqueViolationError and returns any
// other error unchanged.
func wrapUnique(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return &UniqueViolationError{Constraint: pqErr.Constraint, Err: err}
	}
	return err
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqSerializationFailure
}
