package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when a record does not exist or belongs to
// another tenant.  The two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("not found")

// ErrConflict signals a concurrent or state conflict: a unique key race, a
// stale version, or a transition the current state does not allow.
var ErrConflict = errors.New("conflict")

// ErrForbidden is returned when the caller's role may not perform an action.
var ErrForbidden = errors.New("forbidden")

// ValidationError is a client-correctable input problem.  Fields maps a
// field key to a short machine-readable reason.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation: " + e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("validation: %s (%s)", e.Message, strings.Join(parts, "; "))
}

// Invalid builds a ValidationError without field details.
func Invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DependencyError wraps a failure of the relational store or blob storage.
// Op names the sub-step that failed.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *DependencyError) Unwrap() error { return e.Err }

// Conflictf wraps ErrConflict with context.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
