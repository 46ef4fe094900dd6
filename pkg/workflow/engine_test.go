package workflow

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dukex/paperdigest/pkg/cost"
	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateExecution_WritesRunningRowWithoutSteps(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	engine, _ := newTestEngine(store)

	id, err := engine.CreateExecution(ctx, "daily_digest", Context{"force": true})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	execution, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Equal(t, 0, execution.TotalSteps)
	assert.Equal(t, true, execution.Metadata["force"])
	assert.Empty(t, steps)
}

func TestExecuteWorkflow_CreatesPendingRecordsInOrderBeforeFirstStep(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	engine, _ := newTestEngine(store)

	var seen []*models.StepRecord

	engine.RegisterStep(newFuncStep("first", 0, func(ctx context.Context, _ Context, _ int, _ *funcStep) (Context, error) {
		var err error

		_, seen, err = store.ExecutionWithSteps(ctx, engine.ExecutionID())

		return nil, err
	}))
	engine.RegisterStep(newFuncStep("second", 0, succeed(nil)))
	engine.RegisterStep(newFuncStep("third", 0, succeed(nil)))

	id, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.NoError(t, err)

	require.Len(t, seen, 3)
	assert.Equal(t, []string{"first", "second", "third"}, []string{seen[0].StepName, seen[1].StepName, seen[2].StepName})
	assert.Equal(t, models.StepStatusRunning, seen[0].Status)
	assert.Equal(t, models.StepStatusPending, seen[1].Status)
	assert.Equal(t, models.StepStatusPending, seen[2].Status)

	execution, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, 3, execution.TotalSteps)
	assert.Equal(t, 3, execution.CompletedSteps)
	assert.Equal(t, "third", execution.CurrentStep)
	assert.NotNil(t, execution.CompletedAt)

	for i, step := range steps {
		assert.Equal(t, i, step.StepOrder)
		assert.Equal(t, models.StepStatusCompleted, step.Status)
		assert.NotNil(t, step.StartedAt)
		assert.NotNil(t, step.CompletedAt)
	}
}

func TestExecuteWorkflow_NoSteps(t *testing.T) {
	engine, _ := newTestEngine(newStore())

	_, err := engine.ExecuteWorkflow(context.Background(), "test", nil)
	require.ErrorIs(t, err, ErrNoSteps)
}

func TestExecuteWorkflow_UsesPreviouslyCreatedExecution(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	engine, _ := newTestEngine(store)

	id, err := engine.CreateExecution(ctx, "test", Context{"a": "1"})
	require.NoError(t, err)

	engine.RegisterStep(newFuncStep("only", 0, func(_ context.Context, wctx Context, _ int, _ *funcStep) (Context, error) {
		return Context{"seen_a": wctx.String("a"), "seen_b": wctx.String("b")}, nil
	}))

	got, err := engine.ExecuteWorkflow(ctx, "test", Context{"b": "2"})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	list, err := store.ListExecutions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, "1", list[0].Metadata["seen_a"])
	assert.Equal(t, "2", list[0].Metadata["seen_b"])
}

func TestExecuteWorkflow_RetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	notifier := &recordingNotifier{}
	engine, sleeper := newTestEngine(store, WithNotifier(notifier))

	failing := newFuncStep("flaky", 2, failAlways)
	after := newFuncStep("after", 0, succeed(nil))

	engine.RegisterStep(failing)
	engine.RegisterStep(after)

	id, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, errBoom)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "flaky", stepErr.Step)
	assert.Equal(t, 3, stepErr.Attempts)

	assert.Equal(t, 3, failing.Calls())
	assert.Equal(t, 0, after.Calls())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sleeper.Delays())

	execution, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
	assert.Contains(t, execution.ErrorMessage, "boom")
	assert.NotNil(t, execution.CompletedAt)

	assert.Equal(t, models.StepStatusFailed, steps[0].Status)
	assert.Equal(t, "boom", steps[0].ErrorMessage)
	assert.NotEmpty(t, steps[0].ErrorStack)
	assert.Equal(t, 2, steps[0].RetryCount)
	assert.Equal(t, models.StepStatusPending, steps[1].Status)

	alerts := notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.True(t, strings.HasPrefix(alerts[0], AlertWorkflowFailed))

	assert.Equal(t, models.StepStatusFailed, failing.Status())
	assert.Equal(t, "boom", failing.ErrorMessage())
}

func TestExecuteWorkflow_RetryThenSuccess(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	engine, sleeper := newTestEngine(store)

	flaky := newFuncStep("flaky", 1, func(_ context.Context, _ Context, call int, s *funcStep) (Context, error) {
		s.IncMetric("attempt_metric", 1)

		if call == 1 {
			return nil, errBoom
		}

		return Context{"ok": true}, nil
	})
	next := newFuncStep("next", 0, succeed(nil))

	engine.RegisterStep(flaky)
	engine.RegisterStep(next)

	id, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, flaky.Calls())
	assert.Equal(t, 1, next.Calls())
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, sleeper.Delays())

	_, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, 1, steps[0].RetryCount)
	assert.Equal(t, 1, steps[0].MaxRetries)
	// Reset between attempts clears per-attempt metrics.
	assert.EqualValues(t, 1, steps[0].Metrics["attempt_metric"])
	assert.Equal(t, models.StepStatusCompleted, steps[1].Status)
}

func TestExecuteWorkflow_PanicIsRetriedAndRecorded(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	engine, _ := newTestEngine(store)

	engine.RegisterStep(newFuncStep("panicky", 0, func(context.Context, Context, int, *funcStep) (Context, error) {
		panic("kaboom")
	}))

	id, err := engine.ExecuteWorkflow(ctx, "test", nil)

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)

	_, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusFailed, steps[0].Status)
	assert.Contains(t, steps[0].ErrorStack, "goroutine")
}

func TestExecuteWorkflow_ShouldStop(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	notifier := &recordingNotifier{}
	engine, _ := newTestEngine(store, WithNotifier(notifier))

	check := newFuncStep("check", 0, succeed(Stop("no_update", "nothing new")))
	later := newFuncStep("later", 0, succeed(nil))

	engine.RegisterStep(check)
	engine.RegisterStep(later)

	id, err := engine.ExecuteWorkflow(ctx, "test", Context{"keep": "me"})
	require.NoError(t, err)
	assert.Equal(t, 0, later.Calls())
	assert.Empty(t, notifier.Alerts())

	execution, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusStopped, execution.Status)
	assert.NotNil(t, execution.CompletedAt)
	assert.Equal(t, "no_update", execution.Metadata[KeyStopReason])
	assert.Equal(t, "nothing new", execution.Metadata[KeyMessage])
	assert.Equal(t, "me", execution.Metadata["keep"])

	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, models.StepStatusPending, steps[1].Status)
}

func TestExecuteWorkflow_ShouldStopFromLastStep(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	engine, _ := newTestEngine(store)

	engine.RegisterStep(newFuncStep("only", 0, succeed(Stop("done_early", ""))))

	id, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.NoError(t, err)

	execution, _, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusStopped, execution.Status)
}

func TestExecuteWorkflow_ProgressIsThrottled(t *testing.T) {
	ctx := context.Background()
	store := &progressCountingStore{Persistence: newStore()}
	engine, _ := newTestEngine(store)

	engine.RegisterStep(newFuncStep("iterate", 0, func(_ context.Context, _ Context, _ int, s *funcStep) (Context, error) {
		for i := 1; i <= 100; i++ {
			s.ReportProgress(i, 100, fmt.Sprintf("item %d", i))
		}

		return nil, nil
	}))

	id, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.NoError(t, err)

	written := store.Written()
	require.NotEmpty(t, written)
	assert.Equal(t, 1, written[0])
	assert.NotContains(t, written, 2)
	assert.Equal(t, 100, written[len(written)-1])
	assert.Len(t, written, 21)

	for i := 1; i < len(written); i++ {
		assert.LessOrEqual(t, written[i]-written[i-1], progressInterval)
	}

	_, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, steps[0].Progress)
	assert.Equal(t, models.Progress{Current: 100, Total: 100, Message: "item 100"}, *steps[0].Progress)
}

func TestExecuteWorkflow_ProgressWriteErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	store := &progressCountingStore{Persistence: newStore(), failAll: true}
	engine, _ := newTestEngine(store)

	engine.RegisterStep(newFuncStep("iterate", 0, func(_ context.Context, _ Context, _ int, s *funcStep) (Context, error) {
		s.ReportProgress(1, 2, "")
		s.ReportProgress(2, 2, "")

		return nil, nil
	}))

	id, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.NoError(t, err)

	execution, _, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Equal(t, []int{1, 2}, store.Written())
}

func TestExecuteWorkflow_CostAggregation(t *testing.T) {
	pricing := cost.Table{
		Entries: []cost.Entry{{Match: "tier-a", Pricing: cost.Pricing{InputPer1M: 0.5, OutputPer1M: 1.5}}},
		Default: cost.Pricing{InputPer1M: 0.5, OutputPer1M: 1.5},
	}

	pIn, pOut := 0.5, 1.5
	want := 4000.0/1e6*pIn + 6000.0/1e6*pOut

	cases := map[string]struct{ firstExplicit, secondExplicit bool }{
		"both fallback":  {false, false},
		"both explicit":  {true, true},
		"mixed":          {true, false},
		"mixed reversed": {false, true},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()
			engine, _ := newTestEngine(store, WithPricing(pricing))

			usage := func(in, out int64, explicit bool) func(context.Context, Context, int, *funcStep) (Context, error) {
				return func(_ context.Context, _ Context, _ int, s *funcStep) (Context, error) {
					s.AddUsage("tier-a-model", in, out, 0, 1)

					if explicit {
						s.AddCost(pricing.Cost("tier-a", in, out))
					}

					return nil, nil
				}
			}

			engine.RegisterStep(newFuncStep("one", 0, usage(1000, 2000, tc.firstExplicit)))
			engine.RegisterStep(newFuncStep("two", 0, usage(3000, 4000, tc.secondExplicit)))

			id, err := engine.ExecuteWorkflow(ctx, "test", nil)
			require.NoError(t, err)

			execution, steps, err := store.ExecutionWithSteps(ctx, id)
			require.NoError(t, err)
			assert.InDelta(t, want, execution.TotalCost, 1e-12)
			assert.EqualValues(t, 4000, execution.TotalTokensInput)
			assert.EqualValues(t, 6000, execution.TotalTokensOutput)
			assert.Equal(t, "tier-a-model", steps[0].ModelName)
			assert.EqualValues(t, 1, steps[0].RequestCount)
		})
	}
}

func TestExecuteWorkflow_EndToEndContextFlow(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	engine, _ := newTestEngine(store)

	a := newFuncStep("A", 0, succeed(Context{"x": 1}))
	b := newFuncStep("B", 1, func(_ context.Context, wctx Context, call int, _ *funcStep) (Context, error) {
		if call == 1 {
			return nil, errBoom
		}

		return Context{"y": wctx.Int("x") + 1}, nil
	})
	c := newFuncStep("C", 0, func(_ context.Context, wctx Context, _ int, _ *funcStep) (Context, error) {
		return Context{"z": wctx.Int("y") * 2}, nil
	})

	engine.RegisterStep(a)
	engine.RegisterStep(b)
	engine.RegisterStep(c)

	id, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.NoError(t, err)

	final := engine.Context()
	assert.Equal(t, 1, final.Int("x"))
	assert.Equal(t, 2, final.Int("y"))
	assert.Equal(t, 4, final.Int("z"))

	execution, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.EqualValues(t, 4, execution.Metadata["z"])
	assert.Equal(t, 1, steps[1].RetryCount)
}

func TestExecuteWorkflow_StepReceivesCopyOfContext(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(newStore())

	engine.RegisterStep(newFuncStep("mutator", 0, func(_ context.Context, wctx Context, _ int, _ *funcStep) (Context, error) {
		wctx["leak"] = true

		return nil, nil
	}))

	_, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.NoError(t, err)
	assert.NotContains(t, engine.Context(), "leak")
}

func TestExecuteWorkflow_NotifierFailureDoesNotCrash(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	panicking := NotifierFunc(func(context.Context, string, string, map[string]any) error {
		panic("notifier down")
	})

	engine, _ := newTestEngine(store, WithNotifier(panicking))
	engine.RegisterStep(newFuncStep("bad", 0, failAlways))

	id, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.ErrorIs(t, err, errBoom)

	execution, _, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
}

func TestExecuteWorkflow_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := newStore()

	engine, _ := newTestEngine(store, WithSleep(func(ctx context.Context, _ time.Duration) error {
		cancel()

		return ctx.Err()
	}))

	flaky := newFuncStep("flaky", 3, failAlways)
	engine.RegisterStep(flaky)

	id, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, flaky.Calls())

	execution, _, err := store.ExecutionWithSteps(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, execution.Status)
}

// resumeFixture registers a three-step definition whose third step fails
// until healed is set.
type resumeFixture struct {
	registry *Registry
	calls    map[string]int
	healed   bool
}

func newResumeFixture() *resumeFixture {
	f := &resumeFixture{calls: make(map[string]int)}

	counted := func(name string, fn func(wctx Context) (Context, error)) Step {
		return newFuncStep(name, 0, func(_ context.Context, wctx Context, _ int, _ *funcStep) (Context, error) {
			f.calls[name]++

			return fn(wctx)
		})
	}

	f.registry = NewRegistry(Definition{
		Type: "three",
		Build: func() []Step {
			return []Step{
				counted("one", func(Context) (Context, error) { return Context{"one": "done"}, nil }),
				counted("two", func(wctx Context) (Context, error) {
					return Context{"two": wctx.String("one") + "+two"}, nil
				}),
				counted("three", func(wctx Context) (Context, error) {
					if !f.healed {
						return nil, errBoom
					}

					return Context{"three": wctx.String("two") + "+three"}, nil
				}),
			}
		},
	})

	return f
}

func TestResumeWorkflow_RestartsFromFailedStep(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	fixture := newResumeFixture()

	runner := NewRunner(discardLogger(), store, fixture.registry, WithSleep((&sleepRecorder{}).Sleep))

	id, err := runner.Run(ctx, "three", nil)
	require.ErrorIs(t, err, errBoom)

	_, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, steps[0].Status)
	assert.Equal(t, models.StepStatusCompleted, steps[1].Status)
	assert.Equal(t, models.StepStatusFailed, steps[2].Status)

	fixture.healed = true
	fixture.calls = make(map[string]int)

	engine, _ := newTestEngine(store, WithDefinitions(fixture.registry))

	got, err := engine.ResumeWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	assert.Equal(t, 0, fixture.calls["one"])
	assert.Equal(t, 0, fixture.calls["two"])
	assert.Equal(t, 1, fixture.calls["three"])

	execution, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Empty(t, execution.ErrorMessage)
	assert.Equal(t, "done+two+three", execution.Metadata["three"])
	assert.Equal(t, 3, execution.CompletedSteps)
	assert.Equal(t, models.StepStatusCompleted, steps[2].Status)
}

func TestResumeWorkflow_ReopensFailedExecution(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	fixture := newResumeFixture()

	runner := NewRunner(discardLogger(), store, fixture.registry, WithSleep((&sleepRecorder{}).Sleep))

	id, err := runner.Run(ctx, "three", nil)
	require.ErrorIs(t, err, errBoom)

	execution, _, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, execution.CompletedAt)

	engine, _ := newTestEngine(store, WithDefinitions(fixture.registry))

	start, err := engine.prepareResume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, start)

	execution, _, err = store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
	assert.Nil(t, execution.CompletedAt)
	assert.Empty(t, execution.ErrorMessage)
}

func TestResumeWorkflow_MissingExecution(t *testing.T) {
	engine, _ := newTestEngine(newStore(), WithDefinitions(newResumeFixture().registry))

	_, err := engine.ResumeWorkflow(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestResumeWorkflow_RefusesFinishedExecutions(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	fixture := newResumeFixture()
	fixture.healed = true

	runner := NewRunner(discardLogger(), store, fixture.registry)

	id, err := runner.Run(ctx, "three", nil)
	require.NoError(t, err)

	engine, _ := newTestEngine(store, WithDefinitions(fixture.registry))

	_, err = engine.ResumeWorkflow(ctx, id)
	require.ErrorIs(t, err, ErrExecutionFinished)
}

func TestResumeWorkflow_DetectsDefinitionMismatch(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	fixture := newResumeFixture()

	runner := NewRunner(discardLogger(), store, fixture.registry, WithSleep((&sleepRecorder{}).Sleep))

	id, err := runner.Run(ctx, "three", nil)
	require.Error(t, err)

	changed := NewRegistry(Definition{
		Type: "three",
		Build: func() []Step {
			return []Step{
				newFuncStep("one", 0, succeed(nil)),
				newFuncStep("renamed", 0, succeed(nil)),
				newFuncStep("three", 0, succeed(nil)),
			}
		},
	})

	engine, _ := newTestEngine(store, WithDefinitions(changed))

	_, err = engine.ResumeWorkflow(ctx, id)
	require.ErrorIs(t, err, ErrWorkflowMismatch)
}

func TestResumeWorkflow_UnknownWorkflowType(t *testing.T) {
	ctx := context.Background()
	store := newStore()

	creator, _ := newTestEngine(store)
	id, err := creator.CreateExecution(ctx, "ghost", nil)
	require.NoError(t, err)

	engine, _ := newTestEngine(store, WithDefinitions(NewRegistry()))

	_, err = engine.ResumeWorkflow(ctx, id)
	require.ErrorIs(t, err, ErrUnknownWorkflowType)
}

func TestResumeWorkflow_CreatedButNeverStarted(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	fixture := newResumeFixture()
	fixture.healed = true

	creator, _ := newTestEngine(store)
	id, err := creator.CreateExecution(ctx, "three", Context{"seed": 1})
	require.NoError(t, err)

	engine, _ := newTestEngine(store, WithDefinitions(fixture.registry))

	_, err = engine.ResumeWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, fixture.calls["one"])

	execution, steps, err := store.ExecutionWithSteps(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, execution.Status)
	assert.Len(t, steps, 3)
	assert.EqualValues(t, 1, execution.Metadata["seed"])
}
