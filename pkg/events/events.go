// Package events defines the execution lifecycle events published by the
// workflow engine.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic carries every execution lifecycle event.
const Topic = "paperdigest.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionResumedEvent   EventType = "execution.resumed"
	StepCompletedEvent      EventType = "execution.step.completed"
	StepFailedEvent         EventType = "execution.step.failed"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionStoppedEvent   EventType = "execution.stopped"
)

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	ExecutionID  string    `json:"execution_id"`
	WorkflowType string    `json:"workflow_type"`
}

// NewBaseEvent stamps a fresh id and time on an event envelope.
func NewBaseEvent(eventType EventType, executionID, workflowType string) BaseEvent {
	return BaseEvent{
		ID:           uuid.NewString(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		ExecutionID:  executionID,
		WorkflowType: workflowType,
	}
}

type ExecutionStarted struct {
	BaseEvent

	Steps []string `json:"steps"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionResumed struct {
	BaseEvent

	FromStep string `json:"from_step"`
}

func (e ExecutionResumed) GetType() EventType {
	return ExecutionResumedEvent
}

type StepCompleted struct {
	BaseEvent

	StepName     string  `json:"step_name"`
	Attempt      int     `json:"attempt"`
	DurationMs   int64   `json:"duration_ms"`
	TokensInput  int64   `json:"tokens_input"`
	TokensOutput int64   `json:"tokens_output"`
	Cost         float64 `json:"cost"`
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepFailed struct {
	BaseEvent

	StepName string `json:"step_name"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

func (e StepFailed) GetType() EventType {
	return StepFailedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	TotalTokensInput  int64         `json:"total_tokens_input"`
	TotalTokensOutput int64         `json:"total_tokens_output"`
	TotalCost         float64       `json:"total_cost"`
	Duration          time.Duration `json:"duration"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	StepName string `json:"step_name,omitempty"`
	Error    string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type ExecutionStopped struct {
	BaseEvent

	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e ExecutionStopped) GetType() EventType {
	return ExecutionStoppedEvent
}
