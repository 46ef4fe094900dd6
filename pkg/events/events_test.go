package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypes(t *testing.T) {
	base := NewBaseEvent(ExecutionStoppedEvent, "exec-1", "daily_digest")

	assert.NotEmpty(t, base.ID)
	assert.False(t, base.Timestamp.IsZero())

	assert.Equal(t, ExecutionStartedEvent, ExecutionStarted{}.GetType())
	assert.Equal(t, ExecutionResumedEvent, ExecutionResumed{}.GetType())
	assert.Equal(t, StepCompletedEvent, StepCompleted{}.GetType())
	assert.Equal(t, StepFailedEvent, StepFailed{}.GetType())
	assert.Equal(t, ExecutionCompletedEvent, ExecutionCompleted{}.GetType())
	assert.Equal(t, ExecutionFailedEvent, ExecutionFailed{}.GetType())
	assert.Equal(t, ExecutionStoppedEvent, ExecutionStopped{}.GetType())
}

func TestExecutionStopped_JSONFlattensBase(t *testing.T) {
	event := ExecutionStopped{
		BaseEvent: NewBaseEvent(ExecutionStoppedEvent, "exec-1", "daily_digest"),
		Reason:    "no_update",
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "exec-1", raw["execution_id"])
	assert.Equal(t, "execution.stopped", raw["type"])
	assert.Equal(t, "no_update", raw["reason"])
	assert.NotContains(t, raw, "message")
}
