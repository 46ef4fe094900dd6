package eventbus

import (
	"context"
	"log/slog"

	"github.com/dukex/paperdigest/pkg/events"
)

// LogLifecycle registers handlers on sub that log execution outcomes.
// Failures and stops are logged at warn level, completions at info.
func LogLifecycle(sub EventSubscriber, logger *slog.Logger) error {
	for _, eventType := range []events.EventType{
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
		events.ExecutionStoppedEvent,
	} {
		if err := sub.Handle(eventType, logEvent(logger)); err != nil {
			return err
		}
	}

	return nil
}

func logEvent(logger *slog.Logger) EventHandler {
	return func(ctx context.Context, event any) error {
		switch e := event.(type) {
		case *events.ExecutionCompleted:
			logger.InfoContext(ctx, "Execution completed",
				"execution_id", e.ExecutionID,
				"workflow_type", e.WorkflowType,
				"duration", e.Duration,
				"tokens_input", e.TotalTokensInput,
				"tokens_output", e.TotalTokensOutput,
				"cost", e.TotalCost)
		case *events.ExecutionFailed:
			logger.WarnContext(ctx, "Execution failed",
				"execution_id", e.ExecutionID,
				"workflow_type", e.WorkflowType,
				"step", e.StepName,
				"error", e.Error)
		case *events.ExecutionStopped:
			logger.WarnContext(ctx, "Execution stopped",
				"execution_id", e.ExecutionID,
				"workflow_type", e.WorkflowType,
				"reason", e.Reason,
				"message", e.Message)
		}

		return nil
	}
}
