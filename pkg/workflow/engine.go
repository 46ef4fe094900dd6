// Package workflow runs ordered step pipelines with persisted state, per-step
// retry, throttled progress, cost accounting and resume from checkpoint.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dukex/paperdigest/pkg/cost"
	"github.com/dukex/paperdigest/pkg/eventbus"
	"github.com/dukex/paperdigest/pkg/events"
	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/otelhelper"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Engine drives one execution. It owns the registered steps and the shared
// context, and is not safe for concurrent use; build one engine per run.
type Engine struct {
	repo        persistence.ExecutionRepository
	logger      *slog.Logger
	notifier    Notifier
	publisher   eventbus.EventPublisher
	metrics     *Metrics
	tracer      trace.Tracer
	pricing     cost.Table
	retryBase   time.Duration
	sleep       SleepFunc
	now         func() time.Time
	definitions *Registry

	steps        []Step
	executionID  string
	workflowType string
	context      Context
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option { return func(e *Engine) { e.logger = logger } }

func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

func WithPublisher(p eventbus.EventPublisher) Option { return func(e *Engine) { e.publisher = p } }

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

func WithPricing(t cost.Table) Option { return func(e *Engine) { e.pricing = t } }

// WithRetryBaseDelay sets the base of the exponential backoff between attempts.
func WithRetryBaseDelay(d time.Duration) Option { return func(e *Engine) { e.retryBase = d } }

// WithSleep replaces the backoff sleep, e.g. to record delays in tests.
func WithSleep(s SleepFunc) Option { return func(e *Engine) { e.sleep = s } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithDefinitions provides the workflow definitions used to rebuild steps on resume.
func WithDefinitions(r *Registry) Option { return func(e *Engine) { e.definitions = r } }

// New returns an engine persisting through repo.
func New(repo persistence.ExecutionRepository, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		logger:    slog.Default(),
		tracer:    otelhelper.NoopTracer(),
		pricing:   cost.DefaultTable,
		retryBase: DefaultRetryBaseDelay,
		sleep:     Sleep,
		now:       func() time.Time { return time.Now().UTC() },
		context:   Context{},
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "workflow")

	return e
}

// ExecutionID is the id of the execution this engine drives, once known.
func (e *Engine) ExecutionID() string { return e.executionID }

// Context returns a copy of the current shared context.
func (e *Engine) Context() Context { return e.context.Clone() }

// RegisterStep appends step to the pipeline. Registration order is execution order.
func (e *Engine) RegisterStep(step Step) {
	e.steps = append(e.steps, step)
}

// CreateExecution writes a running execution with no steps yet and returns
// its id without executing anything.
func (e *Engine) CreateExecution(ctx context.Context, workflowType string, initial Context) (string, error) {
	now := e.now()

	execution := &models.Execution{
		ID:           uuid.NewString(),
		WorkflowType: workflowType,
		Status:       models.ExecutionStatusRunning,
		Metadata:     initial.Clone(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.repo.CreateExecution(ctx, execution); err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}

	e.executionID = execution.ID
	e.workflowType = workflowType
	e.context = initial.Clone()

	e.logger.InfoContext(ctx, "Execution created", "execution_id", execution.ID, "workflow_type", workflowType)

	return execution.ID, nil
}

// ExecuteWorkflow runs every registered step in order. It creates the
// execution first unless CreateExecution already did, then writes one
// pending step record per step before the first step starts.
//
// A cooperative stop returns the id with a nil error. A step that exhausts
// its retries marks the execution failed, alerts the notifier and returns
// a *StepError.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowType string, initial Context) (string, error) {
	if len(e.steps) == 0 {
		return "", ErrNoSteps
	}

	if e.executionID == "" {
		if _, err := e.CreateExecution(ctx, workflowType, initial); err != nil {
			return "", err
		}
	} else {
		e.workflowType = workflowType
		e.context.Merge(initial)
	}

	err := e.repo.UpdateExecution(ctx, e.executionID, models.ExecutionStatusRunning, models.Fields{
		models.ExecutionFieldTotalSteps: len(e.steps),
		models.ExecutionFieldMetadata:   e.context,
	})
	if err != nil {
		return e.executionID, fmt.Errorf("failed to mark execution running: %w", err)
	}

	records := make([]*models.StepRecord, len(e.steps))
	for i, step := range e.steps {
		records[i] = e.newStepRecord(step, i)
	}

	if err := e.repo.CreateSteps(ctx, records); err != nil {
		return e.executionID, e.fail(ctx, "", fmt.Errorf("failed to create step records: %w", err))
	}

	e.publish(ctx, events.ExecutionStarted{
		BaseEvent: e.baseEvent(events.ExecutionStartedEvent),
		Steps:     e.stepNames(),
	})

	return e.run(ctx, 0)
}

// ResumeWorkflow continues a failed or interrupted execution from its first
// step that is neither completed nor skipped, with the context restored
// from the execution metadata.
func (e *Engine) ResumeWorkflow(ctx context.Context, executionID string) (string, error) {
	start, err := e.prepareResume(ctx, executionID)
	if err != nil {
		return executionID, err
	}

	return e.run(ctx, start)
}

func (e *Engine) prepareResume(ctx context.Context, executionID string) (int, error) {
	execution, records, err := e.repo.ExecutionWithSteps(ctx, executionID)
	if err != nil {
		return 0, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if execution.Status == models.ExecutionStatusCompleted || execution.Status == models.ExecutionStatusStopped {
		return 0, fmt.Errorf("execution %s is %s: %w", executionID, execution.Status, ErrExecutionFinished)
	}

	e.executionID = execution.ID
	e.workflowType = execution.WorkflowType
	e.context = Context(execution.Metadata).Clone()

	if len(e.steps) == 0 {
		if e.definitions == nil {
			return 0, fmt.Errorf("%q: %w", execution.WorkflowType, ErrUnknownWorkflowType)
		}

		def, err := e.definitions.Lookup(execution.WorkflowType)
		if err != nil {
			return 0, err
		}

		for _, step := range def.Build() {
			e.RegisterStep(step)
		}
	}

	if len(e.steps) == 0 {
		return 0, ErrNoSteps
	}

	if len(records) == 0 {
		records = make([]*models.StepRecord, len(e.steps))
		for i, step := range e.steps {
			records[i] = e.newStepRecord(step, i)
		}

		if err := e.repo.CreateSteps(ctx, records); err != nil {
			return 0, fmt.Errorf("failed to create step records: %w", err)
		}
	}

	if len(records) != len(e.steps) {
		return 0, fmt.Errorf("%d persisted steps, %d defined: %w", len(records), len(e.steps), ErrWorkflowMismatch)
	}

	for i, record := range records {
		if record.StepName != e.steps[i].Name() {
			return 0, fmt.Errorf("step %d is %q, defined as %q: %w", i, record.StepName, e.steps[i].Name(), ErrWorkflowMismatch)
		}
	}

	start := len(records)

	for i, record := range records {
		if !record.Status.IsDone() {
			start = i

			break
		}
	}

	err = e.repo.UpdateExecution(ctx, e.executionID, models.ExecutionStatusRunning, models.Fields{
		models.ExecutionFieldTotalSteps:   len(e.steps),
		models.ExecutionFieldErrorMessage: "",
		models.ExecutionFieldCompletedAt:  (*time.Time)(nil),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark execution running: %w", err)
	}

	fromStep := ""
	if start < len(e.steps) {
		fromStep = e.steps[start].Name()
	}

	e.logger.InfoContext(ctx, "Resuming execution",
		"execution_id", e.executionID, "workflow_type", e.workflowType, "from_step", fromStep, "index", start)

	e.publish(ctx, events.ExecutionResumed{
		BaseEvent: e.baseEvent(events.ExecutionResumedEvent),
		FromStep:  fromStep,
	})

	return start, nil
}

func (e *Engine) run(ctx context.Context, start int) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.ExecutionIDKey, e.executionID),
		attribute.String(otelhelper.WorkflowTypeKey, e.workflowType),
	)
	defer span.End()

	began := e.now()

	for i := start; i < len(e.steps); i++ {
		if e.context.ShouldStop() {
			return e.stop(ctx)
		}

		if err := ctx.Err(); err != nil {
			otelhelper.SetError(span, err)

			return e.executionID, e.fail(ctx, e.steps[i].Name(), fmt.Errorf("execution interrupted: %w", err))
		}

		if err := e.runStep(ctx, i); err != nil {
			otelhelper.SetError(span, err)

			return e.executionID, e.fail(ctx, e.steps[i].Name(), err)
		}
	}

	if e.context.ShouldStop() {
		return e.stop(ctx)
	}

	otelhelper.SetOK(span)

	return e.executionID, e.complete(ctx, began)
}

// runStep executes step i with up to MaxRetries+1 attempts.
func (e *Engine) runStep(ctx context.Context, index int) error {
	step := e.steps[index]
	name := step.Name()
	attempts := step.MaxRetries() + 1

	stepID, err := e.repo.StepID(ctx, e.executionID, name)
	if err != nil {
		return fmt.Errorf("failed to find step record: %w", err)
	}

	logger := e.logger.With("execution_id", e.executionID, "step", name)

	var (
		lastErr   error
		lastStack string
		duration  time.Duration
		attempt   int
	)

	for attempt = 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			step.Reset()
		}

		startedAt := e.now()

		err := e.repo.UpdateStep(ctx, stepID, models.StepStatusRunning, models.Fields{
			models.StepFieldRetryCount: attempt - 1,
			models.StepFieldMaxRetries: step.MaxRetries(),
			models.StepFieldStartedAt:  startedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to mark step running: %w", err)
		}

		if t, ok := step.(tracked); ok {
			t.track(models.StepStatusRunning, startedAt, nil)
		}

		step.SetProgressCallback(e.progressWriter(ctx, logger, stepID))

		logger.InfoContext(ctx, "Step attempt started", "attempt", attempt, "max_attempts", attempts)

		attemptCtx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.step",
			attribute.String(otelhelper.ExecutionIDKey, e.executionID),
			attribute.String(otelhelper.StepNameKey, name),
			attribute.Int(otelhelper.StepAttemptKey, attempt),
		)

		update, stack, err := e.invoke(attemptCtx, step)
		duration = e.now().Sub(startedAt)

		if err == nil {
			otelhelper.SetOK(span)
			span.End()
			e.metrics.stepAttempt(name, "success", duration)

			if t, ok := step.(tracked); ok {
				t.track(models.StepStatusCompleted, e.now(), nil)
			}

			return e.completeStep(ctx, index, stepID, attempt, update, duration)
		}

		otelhelper.SetError(span, err)
		span.End()
		e.metrics.stepAttempt(name, "failure", duration)

		if t, ok := step.(tracked); ok {
			t.track(models.StepStatusFailed, e.now(), err)
		}

		lastErr, lastStack = err, stack

		if attempt == attempts {
			break
		}

		delay := Backoff(e.retryBase, attempt)
		logger.WarnContext(ctx, "Step attempt failed, retrying",
			"attempt", attempt, "max_attempts", attempts, "delay", delay, "error", err)

		if err := e.sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("retry of %s interrupted: %w", name, errors.Join(lastErr, err))

			break
		}
	}

	logger.ErrorContext(ctx, "Step failed", "attempts", min(attempt, attempts), "error", lastErr)

	err = e.repo.UpdateStep(context.WithoutCancel(ctx), stepID, models.StepStatusFailed, models.Fields{
		models.StepFieldErrorMessage: lastErr.Error(),
		models.StepFieldErrorStack:   lastStack,
		models.StepFieldDurationMs:   duration.Milliseconds(),
		models.StepFieldCompletedAt:  e.now(),
	})
	if err != nil {
		logger.ErrorContext(ctx, "Failed to persist step failure", "error", err)
	}

	stepErr := &StepError{Step: name, Attempts: min(attempt, attempts), Err: lastErr}

	e.publish(ctx, events.StepFailed{
		BaseEvent: e.baseEvent(events.StepFailedEvent),
		StepName:  name,
		Attempts:  stepErr.Attempts,
		Error:     lastErr.Error(),
	})

	return stepErr
}

// invoke calls Execute on a copy of the context, turning panics into errors.
// The returned stack is the panic stack or the %+v rendering of the error,
// which carries a trace for github.com/pkg/errors values.
func (e *Engine) invoke(ctx context.Context, step Step) (update Context, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			stackTrace := string(debug.Stack())
			update, stack, err = nil, stackTrace, &PanicError{Value: r, Stack: stackTrace}
		}
	}()

	update, err = step.Execute(ctx, e.context.Clone())
	if err != nil {
		return nil, fmt.Sprintf("%+v", err), err
	}

	return update, "", nil
}

func (e *Engine) completeStep(ctx context.Context, index int, stepID string, attempt int, update Context, duration time.Duration) error {
	step := e.steps[index]

	e.context.Merge(update)

	// Persist the context before anything else so a crash after this point
	// resumes from the next step.
	err := e.repo.UpdateExecution(ctx, e.executionID, "", models.Fields{
		models.ExecutionFieldMetadata: e.context,
	})
	if err != nil {
		return fmt.Errorf("failed to persist context after %s: %w", step.Name(), err)
	}

	metrics := step.Metrics()

	stepCost := step.Cost()
	if stepCost == 0 && (metrics.TokensInput > 0 || metrics.TokensOutput > 0) {
		stepCost = e.pricing.Cost(metrics.ModelName, metrics.TokensInput, metrics.TokensOutput)
	}

	err = e.repo.UpdateStep(ctx, stepID, models.StepStatusCompleted, models.Fields{
		models.StepFieldRetryCount:     attempt - 1,
		models.StepFieldDurationMs:     duration.Milliseconds(),
		models.StepFieldTokensInput:    metrics.TokensInput,
		models.StepFieldTokensOutput:   metrics.TokensOutput,
		models.StepFieldCost:           stepCost,
		models.StepFieldModelName:      metrics.ModelName,
		models.StepFieldCacheHitTokens: metrics.CacheHitTokens,
		models.StepFieldRequestCount:   metrics.RequestCount,
		models.StepFieldMetrics:        metrics.Custom,
		models.StepFieldCompletedAt:    e.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to persist completion of %s: %w", step.Name(), err)
	}

	err = e.repo.IncrementExecutionTotals(ctx, e.executionID, metrics.TokensInput, metrics.TokensOutput, stepCost)
	if err != nil {
		return fmt.Errorf("failed to add totals of %s: %w", step.Name(), err)
	}

	err = e.repo.UpdateExecution(ctx, e.executionID, "", models.Fields{
		models.ExecutionFieldCurrentStep:    step.Name(),
		models.ExecutionFieldCompletedSteps: index + 1,
	})
	if err != nil {
		return fmt.Errorf("failed to advance execution past %s: %w", step.Name(), err)
	}

	e.metrics.usage(metrics.TokensInput, metrics.TokensOutput, stepCost)

	e.logger.InfoContext(ctx, "Step completed",
		"execution_id", e.executionID,
		"step", step.Name(),
		"attempt", attempt,
		"duration", duration,
		"tokens_input", metrics.TokensInput,
		"tokens_output", metrics.TokensOutput,
		"cost", stepCost,
	)

	e.publish(ctx, events.StepCompleted{
		BaseEvent:    e.baseEvent(events.StepCompletedEvent),
		StepName:     step.Name(),
		Attempt:      attempt,
		DurationMs:   duration.Milliseconds(),
		TokensInput:  metrics.TokensInput,
		TokensOutput: metrics.TokensOutput,
		Cost:         stepCost,
	})

	return nil
}

// progressWriter persists throttled progress; write errors are only logged.
func (e *Engine) progressWriter(ctx context.Context, logger *slog.Logger, stepID string) ProgressFunc {
	throttle := &progressThrottle{}

	return func(current, total int, message string) {
		if !throttle.ShouldWrite(current, total) {
			return
		}

		err := e.repo.UpdateStep(ctx, stepID, "", models.Fields{
			models.StepFieldProgress: models.Progress{Current: current, Total: total, Message: message},
		})
		if err != nil {
			logger.WarnContext(ctx, "Failed to persist progress", "current", current, "total", total, "error", err)
		}
	}
}

// stop ends the execution early at the request of a step.
func (e *Engine) stop(ctx context.Context) (string, error) {
	reason := e.context.String(KeyStopReason)
	message := e.context.String(KeyMessage)

	err := e.repo.UpdateExecution(context.WithoutCancel(ctx), e.executionID, models.ExecutionStatusStopped, models.Fields{
		models.ExecutionFieldMetadata:    e.context,
		models.ExecutionFieldCompletedAt: e.now(),
	})
	if err != nil {
		return e.executionID, fmt.Errorf("failed to mark execution stopped: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution stopped",
		"execution_id", e.executionID, "workflow_type", e.workflowType, "reason", reason, "message", message)

	e.metrics.executionFinished(e.workflowType, string(models.ExecutionStatusStopped))

	e.publish(ctx, events.ExecutionStopped{
		BaseEvent: e.baseEvent(events.ExecutionStoppedEvent),
		Reason:    reason,
		Message:   message,
	})

	return e.executionID, nil
}

func (e *Engine) complete(ctx context.Context, began time.Time) error {
	err := e.repo.UpdateExecution(ctx, e.executionID, models.ExecutionStatusCompleted, models.Fields{
		models.ExecutionFieldCompletedAt: e.now(),
	})
	if err != nil {
		return fmt.Errorf("failed to mark execution completed: %w", err)
	}

	e.metrics.executionFinished(e.workflowType, string(models.ExecutionStatusCompleted))

	event := events.ExecutionCompleted{
		BaseEvent: e.baseEvent(events.ExecutionCompletedEvent),
		Duration:  e.now().Sub(began),
	}

	execution, records, err := e.repo.ExecutionWithSteps(ctx, e.executionID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to load execution summary", "execution_id", e.executionID, "error", err)
	} else {
		event.TotalTokensInput = execution.TotalTokensInput
		event.TotalTokensOutput = execution.TotalTokensOutput
		event.TotalCost = execution.TotalCost

		e.logger.InfoContext(ctx, "Execution completed\n"+Summary(execution, records),
			"execution_id", e.executionID,
			"total_cost", execution.TotalCost,
		)
	}

	e.publish(ctx, event)

	return nil
}

// fail marks the execution failed, alerts the notifier and returns cause.
func (e *Engine) fail(ctx context.Context, stepName string, cause error) error {
	bookkeeping := context.WithoutCancel(ctx)

	err := e.repo.UpdateExecution(bookkeeping, e.executionID, models.ExecutionStatusFailed, models.Fields{
		models.ExecutionFieldErrorMessage: cause.Error(),
		models.ExecutionFieldCompletedAt:  e.now(),
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to mark execution failed", "execution_id", e.executionID, "error", err)
	}

	e.logger.ErrorContext(ctx, "Execution failed",
		"execution_id", e.executionID, "workflow_type", e.workflowType, "step", stepName, "error", cause)

	e.metrics.executionFinished(e.workflowType, string(models.ExecutionStatusFailed))

	e.notify(bookkeeping, AlertWorkflowFailed, cause.Error(), map[string]any{
		"execution_id":  e.executionID,
		"workflow_type": e.workflowType,
		"step":          stepName,
	})

	e.publish(bookkeeping, events.ExecutionFailed{
		BaseEvent: e.baseEvent(events.ExecutionFailedEvent),
		StepName:  stepName,
		Error:     cause.Error(),
	})

	return cause
}

// notify never lets the notifier break the engine.
func (e *Engine) notify(ctx context.Context, category, message string, details map[string]any) {
	if e.notifier == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "Notifier panicked", "panic", r)
		}
	}()

	if err := e.notifier.Notify(ctx, category, message, details); err != nil {
		e.logger.WarnContext(ctx, "Failed to send alert", "category", category, "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	if err := e.publisher.Publish(ctx, e.executionID, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) baseEvent(eventType events.EventType) events.BaseEvent {
	return events.NewBaseEvent(eventType, e.executionID, e.workflowType)
}

func (e *Engine) newStepRecord(step Step, order int) *models.StepRecord {
	return &models.StepRecord{
		ID:          uuid.NewString(),
		ExecutionID: e.executionID,
		StepName:    step.Name(),
		StepOrder:   order,
		Status:      models.StepStatusPending,
		MaxRetries:  step.MaxRetries(),
	}
}

func (e *Engine) stepNames() []string {
	names := make([]string, len(e.steps))
	for i, step := range e.steps {
		names[i] = step.Name()
	}

	return names
}
