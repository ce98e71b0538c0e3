package stores

import (
	"errors"
	"fmt"
)

// ErrorClass classifies store errors for retry and recovery decisions.
type ErrorClass string

const (
	// ErrorClassConflict indicates writer contention that outlasted the
	// bounded retry window. Callers may retry the whole operation later.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassInvalidTransition indicates a segment status change that is
	// not an edge of the state machine. This is a programming or data error
	// and must not be retried.
	ErrorClassInvalidTransition ErrorClass = "invalid_transition"

	// ErrorClassUnavailable indicates the underlying database could not be
	// opened, migrated, or reached. Fatal to the calling operation; the
	// process may retry the whole run later.
	ErrorClassUnavailable ErrorClass = "unavailable"
)

// StoreError is a classified persistence error.
// nolint:revive // StoreError is intentionally named to distinguish from standard errors
type StoreError struct {
	Class ErrorClass
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Class, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Op)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewConflictError creates a conflict-class error.
func NewConflictError(op string, err error) *StoreError {
	return &StoreError{Class: ErrorClassConflict, Op: op, Err: err}
}

// NewInvalidTransitionError creates an invalid-transition error for the
// rejected edge from -> to.
func NewInvalidTransitionError(op string, from, to SegmentStatus) *StoreError {
	return &StoreError{
		Class: ErrorClassInvalidTransition,
		Op:    op,
		Err:   fmt.Errorf("no transition %s -> %s", from, to),
	}
}

// NewUnavailableError creates an unavailable-class error.
func NewUnavailableError(op string, err error) *StoreError {
	return &StoreError{Class: ErrorClassUnavailable, Op: op, Err: err}
}

// IsConflict returns true if the error is classified as contention.
func IsConflict(err error) bool {
	var e *StoreError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsInvalidTransition returns true if the error is an invalid status change.
func IsInvalidTransition(err error) bool {
	var e *StoreError
	if errors.As(err, &e) {
		return e.Class == ErrorClassInvalidTransition
	}
	return false
}

// IsUnavailable returns true if the error indicates the store is unreachable.
func IsUnavailable(err error) bool {
	var e *StoreError
	if errors.As(err, &e) {
		return e.Class == ErrorClassUnavailable
	}
	return false
}
