// Package services holds the read and write operations the HTTP API and the
// CLI share, on top of persistence.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/paperdigest/pkg/persistence"
)

var (
	// ErrExecutionNotFound is returned when an execution does not exist.
	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	// ErrProfileNotFound is returned when a profile does not exist.
	ErrProfileNotFound = persistence.ErrProfileNotFound

	// Validation errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidLimit   = errors.New("invalid limit")
	ErrEmptyID        = errors.New("id cannot be empty")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError reports whether err should be answered with HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidLimit) ||
		errors.Is(err, ErrEmptyID)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
