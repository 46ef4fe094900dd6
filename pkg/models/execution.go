// Package models defines the persisted records of the digest pipeline: workflow
// executions, their step records, and the paper/profile domain rows the steps
// read and write.
package models

import "time"

// ExecutionStatus is the lifecycle state of one workflow run.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusStopped   ExecutionStatus = "stopped"
)

// IsTerminal reports whether no further step may run under this status.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusStopped
}

// Execution is one end-to-end run of a named workflow.
type Execution struct {
	ID                string          `json:"id"`
	WorkflowType      string          `json:"workflow_type"`
	Status            ExecutionStatus `json:"status"`
	TotalSteps        int             `json:"total_steps"`
	CompletedSteps    int             `json:"completed_steps"`
	CurrentStep       string          `json:"current_step,omitempty"`
	TotalTokensInput  int64           `json:"total_tokens_input"`
	TotalTokensOutput int64           `json:"total_tokens_output"`
	TotalCost         float64         `json:"total_cost"`
	Metadata          map[string]any  `json:"metadata,omitempty"`
	ErrorMessage      string          `json:"error_message,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// Execution columns accepted by ExecutionRepository.UpdateExecution.
const (
	ExecutionFieldTotalSteps     = "total_steps"
	ExecutionFieldCompletedSteps = "completed_steps"
	ExecutionFieldCurrentStep    = "current_step"
	ExecutionFieldMetadata       = "metadata"
	ExecutionFieldErrorMessage   = "error_message"
	ExecutionFieldCompletedAt    = "completed_at"
)
