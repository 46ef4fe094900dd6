package workflow

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/paperdigest/pkg/log"
	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger { return log.Discard() }

func TestRunner_StartReturnsIDBeforeRunFinishes(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	release := make(chan struct{})

	registry := NewRegistry(Definition{
		Type: "gated",
		Build: func() []Step {
			return []Step{newFuncStep("wait", 0, func(ctx context.Context, _ Context, _ int, _ *funcStep) (Context, error) {
				select {
				case <-release:
					return Context{"released": true}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			})}
		},
	})

	runner := NewRunner(discardLogger(), store, registry)

	task, err := runner.Start(ctx, "gated", Context{"force": true})
	require.NoError(t, err)
	require.NotEmpty(t, task.ID())

	execution, _, err := store.ExecutionWithSteps(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Nil(t, task.Err())

	close(release)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	require.NoError(t, task.Wait(waitCtx))

	execution, _, err = store.ExecutionWithSteps(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, true, execution.Metadata["released"])
	assert.Equal(t, true, execution.Metadata["force"])
	assert.Empty(t, runner.Running())
}

func TestRunner_UnknownType(t *testing.T) {
	runner := NewRunner(discardLogger(), newStore(), NewRegistry())

	_, err := runner.Start(context.Background(), "missing", nil)
	require.ErrorIs(t, err, ErrUnknownWorkflowType)
}

func TestRunner_CancelThenResume(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	blocking := true

	registry := NewRegistry(Definition{
		Type: "blocking",
		Build: func() []Step {
			return []Step{
				newFuncStep("first", 0, succeed(Context{"first": true})),
				newFuncStep("second", 0, func(ctx context.Context, _ Context, _ int, _ *funcStep) (Context, error) {
					if blocking {
						<-ctx.Done()

						return nil, ctx.Err()
					}

					return nil, nil
				}),
			}
		},
	})

	runner := NewRunner(discardLogger(), store, registry)

	task, err := runner.Start(ctx, "blocking", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, steps, err := store.ExecutionWithSteps(ctx, task.ID())

		return err == nil && len(steps) == 2 && steps[1].Status == models.StepStatusRunning
	}, 5*time.Second, 10*time.Millisecond)

	task.Cancel()
	<-task.Done()
	require.ErrorIs(t, task.Err(), context.Canceled)

	execution, _, err := store.ExecutionWithSteps(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)

	blocking = false

	resumed, err := runner.Resume(ctx, task.ID())
	require.NoError(t, err)
	require.NoError(t, resumed.Wait(ctx))

	execution, _, err = store.ExecutionWithSteps(ctx, task.ID())
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
}

func TestRunner_Shutdown(t *testing.T) {
	ctx := context.Background()

	registry := NewRegistry(Definition{
		Type: "forever",
		Build: func() []Step {
			return []Step{newFuncStep("block", 0, func(ctx context.Context, _ Context, _ int, _ *funcStep) (Context, error) {
				<-ctx.Done()

				return nil, ctx.Err()
			})}
		},
	})

	runner := NewRunner(discardLogger(), newStore(), registry)

	task, err := runner.Start(ctx, "forever", nil)
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	require.NoError(t, runner.Shutdown(shutdownCtx))
	assert.Error(t, task.Err())
}

// slowLoadStore delays reads so concurrent resumes overlap while loading.
type slowLoadStore struct {
	persistence.Persistence
}

func (s slowLoadStore) ExecutionWithSteps(ctx context.Context, id string) (*models.Execution, []*models.StepRecord, error) {
	time.Sleep(50 * time.Millisecond)

	return s.Persistence.ExecutionWithSteps(ctx, id)
}

func TestRunner_ConcurrentResumeRunsOnce(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int32

	unblock := make(chan struct{})

	registry := NewRegistry(Definition{
		Type: "send",
		Build: func() []Step {
			return []Step{newFuncStep("send", 0, func(context.Context, Context, int, *funcStep) (Context, error) {
				if calls.Add(1) == 1 {
					return nil, errBoom
				}

				<-unblock

				return Context{"sent": true}, nil
			})}
		},
	})

	runner := NewRunner(discardLogger(), slowLoadStore{newStore()}, registry)

	id, err := runner.Run(ctx, "send", nil)
	require.Error(t, err)
	require.NotEmpty(t, id)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		tasks []*Task
		errs  []error
	)

	for range 2 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			task, err := runner.Resume(ctx, id)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				errs = append(errs, err)

				return
			}

			tasks = append(tasks, task)
		}()
	}

	wg.Wait()
	close(unblock)

	require.Len(t, tasks, 1)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrAlreadyRunning)

	require.NoError(t, tasks[0].Wait(ctx))
	assert.EqualValues(t, 2, calls.Load())

	// the id is free again once the run ended
	assert.Empty(t, runner.Running())
}

func TestRunner_ResumeUnknownReleasesID(t *testing.T) {
	runner := NewRunner(discardLogger(), newStore(), NewRegistry())

	for range 2 {
		_, err := runner.Resume(context.Background(), "missing")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrAlreadyRunning)
	}

	assert.Empty(t, runner.Running())
}
