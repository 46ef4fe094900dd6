package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressThrottle(t *testing.T) {
	throttle := &progressThrottle{}

	var written []int

	for i := 1; i <= 100; i++ {
		if throttle.ShouldWrite(i, 100) {
			written = append(written, i)
		}
	}

	want := []int{1}
	for i := 6; i <= 96; i += 5 {
		want = append(want, i)
	}

	want = append(want, 100)

	assert.Equal(t, want, written)
}

func TestProgressThrottle_ShortRuns(t *testing.T) {
	throttle := &progressThrottle{}

	assert.True(t, throttle.ShouldWrite(1, 3))
	assert.False(t, throttle.ShouldWrite(2, 3))
	assert.True(t, throttle.ShouldWrite(3, 3))
}

func TestBackoff(t *testing.T) {
	base := 2 * time.Second

	assert.Equal(t, 2*time.Second, Backoff(base, 1))
	assert.Equal(t, 4*time.Second, Backoff(base, 2))
	assert.Equal(t, 8*time.Second, Backoff(base, 3))
	assert.Equal(t, 2*time.Second, Backoff(base, 0))
}

func TestSleep_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestContext_Accessors(t *testing.T) {
	c := Context{
		"flag":   true,
		"name":   "x",
		"n":      float64(3),
		"native": 4,
		"list":   []any{"a", 1, "b"},
		"typed":  []string{"c"},
	}

	assert.True(t, c.Bool("flag"))
	assert.False(t, c.Bool("name"))
	assert.Equal(t, "x", c.String("name"))
	assert.Equal(t, 3, c.Int("n"))
	assert.Equal(t, 4, c.Int("native"))
	assert.Equal(t, []string{"a", "b"}, c.Strings("list"))
	assert.Equal(t, []string{"c"}, c.Strings("typed"))
	assert.Nil(t, c.Strings("missing"))

	clone := c.Clone()
	clone["flag"] = false
	assert.True(t, c.Bool("flag"))

	stop := Stop("why", "msg")
	assert.True(t, stop.ShouldStop())
	assert.Equal(t, "why", stop.String(KeyStopReason))
}

func TestBaseStep_UsageAndReset(t *testing.T) {
	step := NewBaseStep("s", 2)

	step.AddUsage("model-a", 10, 20, 5, 1)
	step.AddUsage("", 1, 2, 0, 1)
	step.AddCost(0.5)
	step.SetMetric("k", "v")
	step.IncMetric("count", 2)
	step.IncMetric("count", 3)

	m := step.Metrics()
	assert.EqualValues(t, 11, m.TokensInput)
	assert.EqualValues(t, 22, m.TokensOutput)
	assert.EqualValues(t, 5, m.CacheHitTokens)
	assert.EqualValues(t, 2, m.RequestCount)
	assert.Equal(t, "model-a", m.ModelName)
	assert.InDelta(t, 0.5, step.Cost(), 1e-12)
	assert.Equal(t, 5, m.Custom["count"])

	// Returned metrics are a snapshot.
	m.Custom["k"] = "changed"
	assert.Equal(t, "v", step.Metrics().Custom["k"])

	step.Reset()
	assert.Equal(t, StepMetrics{}, step.Metrics())
	assert.Zero(t, step.Cost())
	assert.Equal(t, "s", step.Name())
	assert.Equal(t, 2, step.MaxRetries())
}

func TestBaseStep_ProgressCallback(t *testing.T) {
	step := NewBaseStep("s", 0)
	step.ReportProgress(1, 1, "no callback yet")

	var got []int

	step.SetProgressCallback(func(current, _ int, _ string) { got = append(got, current) })
	step.ReportProgress(1, 2, "")
	step.ReportProgress(2, 2, "")

	assert.Equal(t, []int{1, 2}, got)
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry(
		Definition{Type: "b", Build: func() []Step { return []Step{newFuncStep("x", 0, succeed(nil))} }},
		Definition{Type: "a", Build: func() []Step { return nil }},
	)

	assert.Equal(t, []string{"a", "b"}, registry.Types())

	def, err := registry.Lookup("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, def.StepNames())

	_, err = registry.Lookup("c")
	require.ErrorIs(t, err, ErrUnknownWorkflowType)
}

func TestSummary(t *testing.T) {
	execution := &models.Execution{ID: "exec-1", WorkflowType: "daily_digest", Status: models.ExecutionStatusCompleted}
	steps := []*models.StepRecord{
		{StepName: "crawl", Status: models.StepStatusCompleted, DurationMs: 1200},
		{StepName: "analyze_public", Status: models.StepStatusCompleted, TokensInput: 1000, TokensOutput: 500, Cost: 0.25, DurationMs: 800},
	}

	out := Summary(execution, steps)

	assert.Contains(t, out, "exec-1")
	assert.Contains(t, out, "crawl")
	assert.Contains(t, out, "analyze_public")
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "0.2500")
	assert.Contains(t, out, "2s")
}

func TestMetrics_RecordedByEngine(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	engine, _ := newTestEngine(newStore(), WithMetrics(metrics))
	engine.RegisterStep(newFuncStep("llm", 1, func(_ context.Context, _ Context, call int, s *funcStep) (Context, error) {
		if call == 1 {
			return nil, errBoom
		}

		s.AddUsage("gpt-4o", 100, 50, 0, 1)
		s.AddCost(0.01)

		return nil, nil
	}))

	_, err := engine.ExecuteWorkflow(ctx, "test", nil)
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.executions.WithLabelValues("test", "completed")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.stepAttempts.WithLabelValues("llm", "failure")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.stepAttempts.WithLabelValues("llm", "success")), 1e-9)
	assert.InDelta(t, 100, testutil.ToFloat64(metrics.tokens.WithLabelValues("input")), 1e-9)
	assert.InDelta(t, 0.01, testutil.ToFloat64(metrics.cost), 1e-9)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.usage(1, 1, 1) })
}
