package workflow

import "context"

// Alert categories sent by the engine.
const (
	AlertWorkflowFailed = "workflow_failed"
)

// Notifier alerts operators. Implementations may fail; the engine logs the
// error and carries on.
type Notifier interface {
	Notify(ctx context.Context, category, message string, details map[string]any) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, category, message string, details map[string]any) error

func (f NotifierFunc) Notify(ctx context.Context, category, message string, details map[string]any) error {
	return f(ctx, category, message, details)
}
