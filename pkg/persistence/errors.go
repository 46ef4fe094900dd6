// Package persistence defines the storage contracts of the digest pipeline and
// the error values every implementation returns.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrExecutionNotFound indicates no execution exists for the given id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStepNotFound indicates no step record exists for the given key.
	ErrStepNotFound = errors.New("step record not found")

	// ErrUnknownField indicates an update named a column outside the whitelist.
	ErrUnknownField = errors.New("unknown field")

	// ErrProfileNotFound indicates no user profile exists for the given id.
	ErrProfileNotFound = errors.New("user profile not found")

	// ErrStateNotFound indicates a pipeline state key was never set.
	ErrStateNotFound = errors.New("state key not found")
)

// ExecutionError wraps execution-related errors with additional context.
type ExecutionError struct {
	Op          string // Operation being performed (e.g., "UpdateStep")
	ExecutionID string
	StepName    string // Step name if applicable
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.StepName != "" {
		return fmt.Sprintf("%s operation failed for step %s of execution %s: %v", e.Op, e.StepName, e.ExecutionID, e.Err)
	}

	return fmt.Sprintf("%s operation failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for execution errors.
func (e *ExecutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewExecutionError creates a new execution error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// NewStepError creates an execution error scoped to one step record.
func NewStepError(op, executionID, stepName string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, StepName: stepName, Err: err}
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsStepNotFound checks if an error indicates a step record was not found.
func IsStepNotFound(err error) bool {
	return errors.Is(err, ErrStepNotFound)
}

// IsProfileNotFound checks if an error indicates a profile was not found.
func IsProfileNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound)
}

// IsStateNotFound checks if an error indicates a state key was never set.
func IsStateNotFound(err error) bool {
	return errors.Is(err, ErrStateNotFound)
}
