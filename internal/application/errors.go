package application

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrAlreadyExists is returned when a unique attribute is already taken.
	ErrAlreadyExists = errors.New("application: already exists")
)

// ValidationError captures field level validation issues that callers can
// surface to users. It is always recovered locally and never retried.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// ConflictError reports that a proposed slot overlaps existing schedules. It
// carries the conflicting set so callers can show the blocking sessions.
type ConflictError struct {
	Conflicts []Schedule
}

// Error implements the error interface.
func (c *ConflictError) Error() string {
	return fmt.Sprintf("schedule conflicts with %d existing session(s)", len(c.Conflicts))
}

// ConflictCheckError reports that the conflict detector could not run because
// the storage read failed. Callers decide whether to block or proceed.
type ConflictCheckError struct {
	Cause error
}

// Error implements the error interface.
func (c *ConflictCheckError) Error() string {
	return fmt.Sprintf("conflict check unavailable: %v", c.Cause)
}

// Unwrap exposes the storage failure.
func (c *ConflictCheckError) Unwrap() error {
	return c.Cause
}
