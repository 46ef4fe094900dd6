package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dukex/paperdigest/pkg/log"
	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/persistence/memory"
)

var errBoom = errors.New("boom")

// funcStep runs fn and counts its calls.
type funcStep struct {
	*BaseStep

	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, wctx Context, call int, s *funcStep) (Context, error)
}

func newFuncStep(name string, maxRetries int, fn func(ctx context.Context, wctx Context, call int, s *funcStep) (Context, error)) *funcStep {
	return &funcStep{BaseStep: NewBaseStep(name, maxRetries), fn: fn}
}

func (s *funcStep) Execute(ctx context.Context, wctx Context) (Context, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	return s.fn(ctx, wctx, call, s)
}

func (s *funcStep) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

func succeed(update Context) func(context.Context, Context, int, *funcStep) (Context, error) {
	return func(context.Context, Context, int, *funcStep) (Context, error) { return update, nil }
}

func failAlways(context.Context, Context, int, *funcStep) (Context, error) {
	return nil, errBoom
}

// sleepRecorder replaces backoff sleeps.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()

	return ctx.Err()
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Duration(nil), r.delays...)
}

// recordingNotifier collects alerts.
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []string
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, category, message string, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.alerts = append(n.alerts, category+": "+message)

	return n.err
}

func (n *recordingNotifier) Alerts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append([]string(nil), n.alerts...)
}

// progressCountingStore records every persisted progress value.
type progressCountingStore struct {
	persistence.Persistence

	mu       sync.Mutex
	progress []int
	failAll  bool
}

func (s *progressCountingStore) UpdateStep(ctx context.Context, stepID string, status models.StepStatus, fields models.Fields) error {
	if p, ok := fields[models.StepFieldProgress].(models.Progress); ok {
		s.mu.Lock()
		s.progress = append(s.progress, p.Current)
		fail := s.failAll
		s.mu.Unlock()

		if fail {
			return errBoom
		}
	}

	return s.Persistence.UpdateStep(ctx, stepID, status, fields)
}

func (s *progressCountingStore) Written() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]int(nil), s.progress...)
}

func newTestEngine(store persistence.ExecutionRepository, opts ...Option) (*Engine, *sleepRecorder) {
	sleeper := &sleepRecorder{}

	base := []Option{
		WithLogger(log.Discard()),
		WithSleep(sleeper.Sleep),
		WithRetryBaseDelay(10 * time.Millisecond),
	}

	return New(store, append(base, opts...)...), sleeper
}

func newStore() *memory.Persistence {
	return memory.NewPersistence()
}
