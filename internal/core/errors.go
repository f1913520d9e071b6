package core

import (
	"errors"
	"fmt"
)

// ErrValidation is wrapped by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError rejects a request before any remote call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ErrRollbackIneligible is wrapped by every error that refuses a rollback.
// Nothing is changed when it is returned.
var ErrRollbackIneligible = errors.New("rollback not allowed")

var (
	ErrEntryNotFound     = fmt.Errorf("%w: entry not found", ErrRollbackIneligible)
	ErrNotRollbackable   = fmt.Errorf("%w: entry cannot be rolled back", ErrRollbackIneligible)
	ErrAlreadyRolledBack = fmt.Errorf("%w: entry was already rolled back", ErrRollbackIneligible)
	ErrNotImplemented    = fmt.Errorf("%w: rollback type not implemented", ErrRollbackIneligible)
)

// ErrNothingToRetry is returned when a batch has no failed items.
var ErrNothingToRetry = errors.New("batch has no failed items")
