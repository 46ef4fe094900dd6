package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSteps is returned when a run starts without registered steps.
	ErrNoSteps = errors.New("no steps registered")

	// ErrUnknownWorkflowType is returned for a workflow type without a definition.
	ErrUnknownWorkflowType = errors.New("unknown workflow type")

	// ErrExecutionFinished is returned when resuming a completed or stopped execution.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrWorkflowMismatch is returned when the persisted step records do not
	// match the step sequence of the workflow definition.
	ErrWorkflowMismatch = errors.New("persisted steps do not match workflow definition")

	// ErrAlreadyRunning is returned when resuming an execution this process
	// is still driving.
	ErrAlreadyRunning = errors.New("execution is already running")
)

// StepError reports a step that failed every attempt.
type StepError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// PanicError is a recovered panic from inside a step.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("step panicked: %v", e.Value)
}
