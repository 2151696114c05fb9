package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job record cannot be found
	ErrNotFound = errors.New("asset not found")

	// ErrDuplicateJob is returned when a job_id already exists
	ErrDuplicateJob = errors.New("job id already exists")

	// ErrInvalidTransition is returned when a status write would move a record backward
	ErrInvalidTransition = errors.New("status transition not allowed")

	// ErrInvalidMode is returned for unknown generation modes
	ErrInvalidMode = errors.New("invalid generation mode")

	// ErrNotConnected is returned by broadcasters used before Connect
	ErrNotConnected = errors.New("broadcaster not connected")
)

// ValidationError marks bad input. It is never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Message
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ExternalServiceError wraps transient failures of a remote dependency
// (generation backend, vision model, embedding backend, object store).
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// NewExternalServiceError wraps err as a failure of service
func NewExternalServiceError(service string, err error) error {
	return &ExternalServiceError{Service: service, Err: err}
}

// PersistenceError wraps failures of the record store itself.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps err as a failed store operation
func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsExternal reports whether err is or wraps an ExternalServiceError.
func IsExternal(err error) bool {
	var e *ExternalServiceError
	return errors.As(err, &e)
}
