package models

import "time"

// StepStatus is the persisted state of one step within an execution.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// IsDone reports whether a resumed run may pass over this step.
func (s StepStatus) IsDone() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped
}

// Progress is the latest fractional progress a step reported.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// StepRecord is the durable row for one (execution, step) pair.
type StepRecord struct {
	ID             string         `json:"id"`
	ExecutionID    string         `json:"execution_id"`
	StepName       string         `json:"step_name"`
	StepOrder      int            `json:"step_order"`
	Status         StepStatus     `json:"status"`
	RetryCount     int            `json:"retry_count"`
	MaxRetries     int            `json:"max_retries"`
	DurationMs     int64          `json:"duration_ms"`
	TokensInput    int64          `json:"tokens_input"`
	TokensOutput   int64          `json:"tokens_output"`
	Cost           float64        `json:"cost"`
	ModelName      string         `json:"model_name,omitempty"`
	CacheHitTokens int64          `json:"cache_hit_tokens"`
	RequestCount   int64          `json:"request_count"`
	Progress       *Progress      `json:"progress,omitempty"`
	Metrics        map[string]any `json:"metrics,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ErrorStack     string         `json:"error_stack,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// Step record columns accepted by ExecutionRepository.UpdateStep.
const (
	StepFieldRetryCount     = "retry_count"
	StepFieldMaxRetries     = "max_retries"
	StepFieldDurationMs     = "duration_ms"
	StepFieldTokensInput    = "tokens_input"
	StepFieldTokensOutput   = "tokens_output"
	StepFieldCost           = "cost"
	StepFieldModelName      = "model_name"
	StepFieldCacheHitTokens = "cache_hit_tokens"
	StepFieldRequestCount   = "request_count"
	StepFieldProgress       = "progress"
	StepFieldMetrics        = "metrics"
	StepFieldErrorMessage   = "error_message"
	StepFieldErrorStack     = "error_stack"
	StepFieldStartedAt      = "started_at"
	StepFieldCompletedAt    = "completed_at"
)
