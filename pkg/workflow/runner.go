package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/paperdigest/pkg/persistence"
)

// Task is a workflow run executing in the background.
type Task struct {
	id     string
	done   chan struct{}
	err    error
	cancel context.CancelFunc
}

// ID is the execution id, known as soon as the task is returned.
func (t *Task) ID() string { return t.id }

// Done is closed when the run ends.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err is the run's error; only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the run ends or ctx is done. Giving up the wait does
// not cancel the run.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel interrupts the run at the next step boundary or backoff sleep; the
// execution is then marked failed and can be resumed.
func (t *Task) Cancel() { t.cancel() }

// Runner starts executions of registered workflow types in the background,
// building a fresh Engine per run.
type Runner struct {
	repo     persistence.ExecutionRepository
	registry *Registry
	opts     []Option
	logger   *slog.Logger

	mu    sync.Mutex
	wg    sync.WaitGroup
	tasks map[string]*Task
}

// NewRunner returns a runner; opts are applied to every engine it builds.
func NewRunner(logger *slog.Logger, repo persistence.ExecutionRepository, registry *Registry, opts ...Option) *Runner {
	return &Runner{
		repo:     repo,
		registry: registry,
		opts:     append([]Option{WithLogger(logger), WithDefinitions(registry)}, opts...),
		logger:   logger.With("module", "workflow_runner"),
		tasks:    make(map[string]*Task),
	}
}

// Registry returns the workflow definitions the runner knows.
func (r *Runner) Registry() *Registry { return r.registry }

func (r *Runner) engine(def Definition) *Engine {
	e := New(r.repo, r.opts...)
	for _, step := range def.Build() {
		e.RegisterStep(step)
	}

	return e
}

// Start creates the execution synchronously and runs it in the background.
// The run outlives ctx's cancellation; use Task.Cancel to interrupt it.
func (r *Runner) Start(ctx context.Context, workflowType string, initial Context) (*Task, error) {
	def, err := r.registry.Lookup(workflowType)
	if err != nil {
		return nil, err
	}

	e := r.engine(def)

	id, err := e.CreateExecution(ctx, workflowType, initial)
	if err != nil {
		return nil, err
	}

	task, runCtx, err := r.reserve(ctx, id)
	if err != nil {
		return nil, err
	}

	return r.spawn(runCtx, task, func(runCtx context.Context) error {
		_, err := e.ExecuteWorkflow(runCtx, workflowType, nil)

		return err
	}), nil
}

// Resume validates the execution synchronously and continues it in the background.
// The id is claimed before the execution is loaded, so of two concurrent
// resumes of the same id exactly one proceeds.
func (r *Runner) Resume(ctx context.Context, executionID string) (*Task, error) {
	task, runCtx, err := r.reserve(ctx, executionID)
	if err != nil {
		return nil, err
	}

	e := New(r.repo, r.opts...)

	start, err := e.prepareResume(ctx, executionID)
	if err != nil {
		r.release(task)

		return nil, err
	}

	return r.spawn(runCtx, task, func(runCtx context.Context) error {
		_, err := e.run(runCtx, start)

		return err
	}), nil
}

// Run executes a workflow synchronously and returns its execution id.
func (r *Runner) Run(ctx context.Context, workflowType string, initial Context) (string, error) {
	def, err := r.registry.Lookup(workflowType)
	if err != nil {
		return "", err
	}

	return r.engine(def).ExecuteWorkflow(ctx, workflowType, initial)
}

// Running returns the ids of executions currently driven by this runner.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}

	return ids
}

// Shutdown cancels every running task and waits for them to finish.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, task := range r.tasks {
		task.Cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve claims id for a new task, failing with ErrAlreadyRunning when the
// runner already drives it.
func (r *Runner) reserve(ctx context.Context, id string) (*Task, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; ok {
		return nil, nil, fmt.Errorf("execution %s: %w", id, ErrAlreadyRunning)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	task := &Task{id: id, done: make(chan struct{}), cancel: cancel}
	r.tasks[id] = task

	return task, runCtx, nil
}

// release drops a reserved task that never started.
func (r *Runner) release(task *Task) {
	r.mu.Lock()
	delete(r.tasks, task.id)
	r.mu.Unlock()

	task.cancel()
	close(task.done)
}

func (r *Runner) spawn(runCtx context.Context, task *Task, body func(context.Context) error) *Task {
	id := task.id

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer task.cancel()

		task.err = body(runCtx)

		r.mu.Lock()
		delete(r.tasks, id)
		r.mu.Unlock()

		if task.err != nil {
			r.logger.ErrorContext(runCtx, "Background execution failed", "execution_id", id, "error", task.err)
		}

		close(task.done)
	}()

	return task
}
