// Package scheduler starts workflow runs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/robfig/cron/v3"
)

// Starter launches a background run; *workflow.Runner implements it.
type Starter interface {
	Start(ctx context.Context, workflowType string, initial workflow.Context) (*workflow.Task, error)
}

// Entry is a registered schedule and its next activation.
type Entry struct {
	WorkflowType   string    `json:"workflow_type"`
	CronExpression string    `json:"cron_expression"`
	Next           time.Time `json:"next"`
	LastExecution  string    `json:"last_execution_id,omitempty"`
}

// Scheduler fires each schedule's workflow. A schedule whose previous run is
// still going is skipped rather than queued.
type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	logger  *slog.Logger

	// ctx bounds the runs the scheduler waits on; cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[cron.EntryID]*models.Schedule
	last    map[*models.Schedule]string
}

// New validates and registers schedules; nothing runs before Start.
func New(logger *slog.Logger, starter Starter, schedules ...*models.Schedule) (*Scheduler, error) {
	logger = logger.With("module", "scheduler")
	cronLogger := slogCronLogger{logger: logger}

	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(models.ScheduleParser),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		starter: starter,
		logger:  logger,
		entries: make(map[cron.EntryID]*models.Schedule),
		last:    make(map[*models.Schedule]string),
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, schedule := range schedules {
		if err := s.Add(schedule); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Add registers one more schedule.
func (s *Scheduler) Add(schedule *models.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return fmt.Errorf("schedule %q for %s: %w", schedule.CronExpression, schedule.WorkflowType, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule.CronExpression, func() { s.fire(schedule) })
	if err != nil {
		return fmt.Errorf("failed to add cron job for %s: %w", schedule.WorkflowType, err)
	}

	s.entries[id] = schedule
	s.logger.Info("schedule registered", "workflow_type", schedule.WorkflowType, "cron", schedule.CronExpression)

	return nil
}

func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler", "schedules", len(s.entries))
	s.cron.Start()
}

// Stop stops firing, cancels the wait on in-flight runs and returns once the
// cron jobs have returned or ctx is done. Runs themselves keep going in the
// Starter.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("stopping scheduler")

	s.cancel()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries lists the schedules with their next activation, soonest first.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry

	for _, e := range s.cron.Entries() {
		schedule, ok := s.entries[e.ID]
		if !ok {
			continue
		}

		next := e.Next
		if next.IsZero() {
			next = e.Schedule.Next(time.Now().UTC())
		}

		out = append(out, Entry{
			WorkflowType:   schedule.WorkflowType,
			CronExpression: schedule.CronExpression,
			Next:           next,
			LastExecution:  s.last[schedule],
		})
	}

	return out
}

// fire starts one run and blocks until it ends, so SkipIfStillRunning can
// drop overlapping activations.
func (s *Scheduler) fire(schedule *models.Schedule) {
	logger := s.logger.With("workflow_type", schedule.WorkflowType)

	initial := workflow.Context{}
	maps.Copy(initial, schedule.InitialContext)
	initial["triggered_by"] = "schedule"
	initial["triggered_at"] = time.Now().UTC().Format(time.RFC3339)

	task, err := s.starter.Start(s.ctx, schedule.WorkflowType, initial)
	if err != nil {
		logger.Error("failed to start scheduled run", "error", err)

		return
	}

	s.mu.Lock()
	s.last[schedule] = task.ID()
	s.mu.Unlock()

	logger.Info("scheduled run started", "execution_id", task.ID())

	if err := task.Wait(s.ctx); err != nil {
		logger.Warn("scheduled run ended with error", "execution_id", task.ID(), "error", err)
	}
}

// slogCronLogger adapts cron's logger to slog.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
