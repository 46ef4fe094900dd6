package workflow

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
)

// ProgressFunc receives fractional progress from a running step.
type ProgressFunc func(current, total int, message string)

// StepMetrics is what a step reports about its own resource use.
type StepMetrics struct {
	TokensInput    int64
	TokensOutput   int64
	Cost           float64
	ModelName      string
	CacheHitTokens int64
	RequestCount   int64
	Custom         map[string]any
}

// Step is one unit of work in a workflow.
//
// Execute receives a copy of the shared context and returns the partial
// update to merge into it; an error fails the attempt. Reset clears the
// per-attempt counters before a retry.
type Step interface {
	Name() string
	MaxRetries() int
	Execute(ctx context.Context, wctx Context) (Context, error)
	Cost() float64
	Metrics() StepMetrics
	Reset()
	SetProgressCallback(fn ProgressFunc)
}

// tracked is implemented by steps embedding BaseStep so the engine can
// mirror the attempt lifecycle onto the in-memory object.
type tracked interface {
	track(status models.StepStatus, at time.Time, err error)
}

// BaseStep implements everything in Step except Execute. Concrete steps
// embed a *BaseStep and call AddUsage/SetMetric/ReportProgress while they work; all
// methods are safe for use by concurrent workers inside Execute.
type BaseStep struct {
	name       string
	maxRetries int

	mu          sync.Mutex
	status      models.StepStatus
	startedAt   time.Time
	completedAt time.Time
	errMessage  string
	usage       StepMetrics
	progress    ProgressFunc
}

// NewBaseStep returns a pending step for embedding.
func NewBaseStep(name string, maxRetries int) *BaseStep {
	return &BaseStep{name: name, maxRetries: maxRetries, status: models.StepStatusPending}
}

func (b *BaseStep) Name() string { return b.name }

func (b *BaseStep) MaxRetries() int { return b.maxRetries }

// Cost is the explicit USD cost the step computed; zero lets the engine
// derive it from token counts.
func (b *BaseStep) Cost() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.usage.Cost
}

func (b *BaseStep) Metrics() StepMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.usage
	m.Custom = maps.Clone(b.usage.Custom)

	return m
}

// Reset clears usage counters, custom metrics and the last error.
func (b *BaseStep) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.usage = StepMetrics{}
	b.errMessage = ""
	b.status = models.StepStatusPending
}

func (b *BaseStep) SetProgressCallback(fn ProgressFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.progress = fn
}

// ReportProgress forwards to the engine's callback, if any.
func (b *BaseStep) ReportProgress(current, total int, message string) {
	b.mu.Lock()
	fn := b.progress
	b.mu.Unlock()

	if fn != nil {
		fn(current, total, message)
	}
}

// AddUsage accumulates one or more LLM calls. An empty model keeps the
// previously reported one.
func (b *BaseStep) AddUsage(model string, tokensIn, tokensOut, cacheHit, requests int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.usage.TokensInput += tokensIn
	b.usage.TokensOutput += tokensOut
	b.usage.CacheHitTokens += cacheHit
	b.usage.RequestCount += requests

	if model != "" {
		b.usage.ModelName = model
	}
}

// AddCost adds an explicitly computed USD cost.
func (b *BaseStep) AddCost(usd float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.usage.Cost += usd
}

// SetMetric records a custom metric.
func (b *BaseStep) SetMetric(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.usage.Custom == nil {
		b.usage.Custom = make(map[string]any)
	}

	b.usage.Custom[key] = value
}

// IncMetric adds delta to an integer custom metric.
func (b *BaseStep) IncMetric(key string, delta int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.usage.Custom == nil {
		b.usage.Custom = make(map[string]any)
	}

	current, _ := b.usage.Custom[key].(int)
	b.usage.Custom[key] = current + delta
}

// Status is the in-memory status of the current attempt.
func (b *BaseStep) Status() models.StepStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.status
}

// StartedAt and CompletedAt bound the last attempt.
func (b *BaseStep) StartedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.startedAt
}

func (b *BaseStep) CompletedAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.completedAt
}

// ErrorMessage is the error of the last failed attempt.
func (b *BaseStep) ErrorMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.errMessage
}

func (b *BaseStep) track(status models.StepStatus, at time.Time, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.status = status

	switch status {
	case models.StepStatusRunning:
		b.startedAt = at
		b.completedAt = time.Time{}
	case models.StepStatusCompleted, models.StepStatusFailed:
		b.completedAt = at
	}

	if err != nil {
		b.errMessage = err.Error()
	}
}
