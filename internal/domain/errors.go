package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDispatchFailure     = errors.New("external dispatch failure")
	ErrStaleCallback       = errors.New("stale callback")
)

// ValidationError reports malformed or missing caller input. It is never
// retried and is surfaced to the caller as-is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError reports a state-machine action attempted from a
// status that does not allow it.
type InvalidTransitionError struct {
	From   JobStatus
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("action %q is not allowed from status %q", e.Action, e.From)
}
