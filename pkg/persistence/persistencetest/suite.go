// Package persistencetest holds the behaviour every persistence.Persistence
// implementation must share, run by each backend's tests.
package persistencetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) persistence.Persistence

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("executions", func(t *testing.T) { testExecutions(t, newStore(t)) })
	t.Run("step records", func(t *testing.T) { testStepRecords(t, newStore(t)) })
	t.Run("unknown fields", func(t *testing.T) { testUnknownFields(t, newStore(t)) })
	t.Run("totals increment", func(t *testing.T) { testIncrementTotals(t, newStore(t)) })
	t.Run("missing execution", func(t *testing.T) { testMissingExecution(t, newStore(t)) })
	t.Run("state", func(t *testing.T) { testState(t, newStore(t)) })
	t.Run("staging and archive", func(t *testing.T) { testStagingAndArchive(t, newStore(t)) })
	t.Run("profiles", func(t *testing.T) { testProfiles(t, newStore(t)) })
	t.Run("filter results", func(t *testing.T) { testFilterResults(t, newStore(t)) })
	t.Run("reports", func(t *testing.T) { testReports(t, newStore(t)) })
}

// NewExecution returns a running execution ready to be inserted.
func NewExecution(workflowType string, metadata map[string]any) *models.Execution {
	return testutil.CreateTestExecution(workflowType, testutil.WithMetadata(metadata))
}

func newSteps(executionID string, names ...string) []*models.StepRecord {
	return testutil.CreateTestSteps(executionID, names...)
}

func testExecutions(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	first := NewExecution("daily_digest", map[string]any{"force": true, "categories": []any{"cs.AI"}})
	require.NoError(t, store.CreateExecution(ctx, first))

	second := NewExecution("user_digest", nil)
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	require.NoError(t, store.CreateExecution(ctx, second))

	got, steps, err := store.ExecutionWithSteps(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
	assert.Equal(t, "daily_digest", got.WorkflowType)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)
	assert.Equal(t, true, got.Metadata["force"])
	assert.Equal(t, []any{"cs.AI"}, got.Metadata["categories"])
	assert.WithinDuration(t, first.CreatedAt, got.CreatedAt, time.Second)
	assert.Nil(t, got.CompletedAt)

	completedAt := time.Now().UTC()
	require.NoError(t, store.UpdateExecution(ctx, first.ID, models.ExecutionStatusCompleted, models.Fields{
		models.ExecutionFieldCompletedSteps: 3,
		models.ExecutionFieldCurrentStep:    "archive",
		models.ExecutionFieldMetadata:       map[string]any{"x": 1},
		models.ExecutionFieldCompletedAt:    completedAt,
	}))

	got, _, err = store.ExecutionWithSteps(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, 3, got.CompletedSteps)
	assert.Equal(t, "archive", got.CurrentStep)
	assert.EqualValues(t, 1, got.Metadata["x"])
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, completedAt, *got.CompletedAt, time.Second)

	// Empty status leaves the status untouched.
	require.NoError(t, store.UpdateExecution(ctx, first.ID, "", models.Fields{
		models.ExecutionFieldErrorMessage: "note",
	}))

	got, _, err = store.ExecutionWithSteps(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, "note", got.ErrorMessage)

	// A nil time clears the column, as a resume does.
	require.NoError(t, store.UpdateExecution(ctx, first.ID, models.ExecutionStatusRunning, models.Fields{
		models.ExecutionFieldCompletedAt: (*time.Time)(nil),
	}))

	got, _, err = store.ExecutionWithSteps(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	list, err := store.ListExecutions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	list, err = store.ListExecutions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func testStepRecords(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	execution := NewExecution("daily_digest", nil)
	require.NoError(t, store.CreateExecution(ctx, execution))

	names := []string{"check_update", "crawl", "archive"}
	require.NoError(t, store.CreateSteps(ctx, newSteps(execution.ID, names...)))

	_, steps, err := store.ExecutionWithSteps(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, steps, 3)

	for i, step := range steps {
		assert.Equal(t, names[i], step.StepName)
		assert.Equal(t, i, step.StepOrder)
		assert.Equal(t, models.StepStatusPending, step.Status)
		assert.Equal(t, 2, step.MaxRetries)
		assert.Nil(t, step.Progress)
	}

	stepID, err := store.StepID(ctx, execution.ID, "crawl")
	require.NoError(t, err)
	assert.Equal(t, steps[1].ID, stepID)

	startedAt := time.Now().UTC()
	require.NoError(t, store.UpdateStep(ctx, stepID, models.StepStatusRunning, models.Fields{
		models.StepFieldRetryCount: 1,
		models.StepFieldStartedAt:  startedAt,
	}))
	require.NoError(t, store.UpdateStep(ctx, stepID, "", models.Fields{
		models.StepFieldProgress: models.Progress{Current: 5, Total: 10, Message: "half"},
	}))
	require.NoError(t, store.UpdateStep(ctx, stepID, models.StepStatusCompleted, models.Fields{
		models.StepFieldDurationMs:     int64(1500),
		models.StepFieldTokensInput:    int64(1000),
		models.StepFieldTokensOutput:   int64(2000),
		models.StepFieldCost:           0.25,
		models.StepFieldModelName:      "deepseek-chat",
		models.StepFieldCacheHitTokens: int64(10),
		models.StepFieldRequestCount:   int64(4),
		models.StepFieldMetrics:        map[string]any{"papers": 12},
		models.StepFieldCompletedAt:    time.Now().UTC(),
	}))

	_, steps, err = store.ExecutionWithSteps(ctx, execution.ID)
	require.NoError(t, err)

	crawl := steps[1]
	assert.Equal(t, models.StepStatusCompleted, crawl.Status)
	assert.Equal(t, 1, crawl.RetryCount)
	assert.EqualValues(t, 1500, crawl.DurationMs)
	assert.EqualValues(t, 1000, crawl.TokensInput)
	assert.EqualValues(t, 2000, crawl.TokensOutput)
	assert.InDelta(t, 0.25, crawl.Cost, 1e-9)
	assert.Equal(t, "deepseek-chat", crawl.ModelName)
	assert.EqualValues(t, 10, crawl.CacheHitTokens)
	assert.EqualValues(t, 4, crawl.RequestCount)
	require.NotNil(t, crawl.Progress)
	assert.Equal(t, models.Progress{Current: 5, Total: 10, Message: "half"}, *crawl.Progress)
	assert.EqualValues(t, 12, crawl.Metrics["papers"])
	require.NotNil(t, crawl.StartedAt)
	assert.WithinDuration(t, startedAt, *crawl.StartedAt, time.Second)
	require.NotNil(t, crawl.CompletedAt)

	_, err = store.StepID(ctx, execution.ID, "missing")
	require.Error(t, err)
	assert.True(t, persistence.IsStepNotFound(err))
}

func testUnknownFields(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	execution := NewExecution("daily_digest", nil)
	require.NoError(t, store.CreateExecution(ctx, execution))
	require.NoError(t, store.CreateSteps(ctx, newSteps(execution.ID, "crawl")))

	err := store.UpdateExecution(ctx, execution.ID, "", models.Fields{"id": "other"})
	require.ErrorIs(t, err, persistence.ErrUnknownField)

	stepID, err := store.StepID(ctx, execution.ID, "crawl")
	require.NoError(t, err)

	err = store.UpdateStep(ctx, stepID, "", models.Fields{"execution_id": "x"})
	require.ErrorIs(t, err, persistence.ErrUnknownField)
}

func testIncrementTotals(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	execution := NewExecution("daily_digest", nil)
	require.NoError(t, store.CreateExecution(ctx, execution))

	require.NoError(t, store.IncrementExecutionTotals(ctx, execution.ID, 1000, 2000, 0.5))
	require.NoError(t, store.IncrementExecutionTotals(ctx, execution.ID, 3000, 4000, 0.25))

	got, _, err := store.ExecutionWithSteps(ctx, execution.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4000, got.TotalTokensInput)
	assert.EqualValues(t, 6000, got.TotalTokensOutput)
	assert.InDelta(t, 0.75, got.TotalCost, 1e-9)
}

func testMissingExecution(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	_, _, err := store.ExecutionWithSteps(ctx, "does-not-exist")
	require.Error(t, err)
	assert.True(t, persistence.IsExecutionNotFound(err))

	err = store.UpdateExecution(ctx, "does-not-exist", models.ExecutionStatusFailed, nil)
	assert.True(t, persistence.IsExecutionNotFound(err))

	err = store.IncrementExecutionTotals(ctx, "does-not-exist", 1, 1, 1)
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func testState(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	_, err := store.State(ctx, persistence.StateLastAnnouncement)
	assert.True(t, persistence.IsStateNotFound(err))

	require.NoError(t, store.SetState(ctx, persistence.StateLastAnnouncement, "2026-03-05"))
	require.NoError(t, store.SetState(ctx, persistence.StateLastAnnouncement, "2026-03-06"))

	value, err := store.State(ctx, persistence.StateLastAnnouncement)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-06", value)
}

// NewPaper returns a staged paper announced on date.
func NewPaper(id, date string) *models.Paper {
	return testutil.CreateTestPaper(testutil.WithPaperID(id), testutil.WithAnnouncementDate(date))
}

func testStagingAndArchive(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()
	date := "2026-03-06"

	n, err := store.UpsertStaging(ctx, []*models.Paper{NewPaper("2603.00002", date), NewPaper("2603.00001", date)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A second crawl of the same id refreshes it instead of duplicating it.
	_, err = store.UpsertStaging(ctx, []*models.Paper{NewPaper("2603.00001", date)})
	require.NoError(t, err)

	staged, err := store.StagingPapers(ctx)
	require.NoError(t, err)
	require.Len(t, staged, 2)
	assert.Equal(t, "2603.00001", staged[0].ID)
	assert.Equal(t, []string{"Ada", "Grace"}, staged[0].Authors)
	assert.False(t, staged[0].HasDetails())

	published := time.Date(2026, 3, 5, 18, 0, 0, 0, time.UTC)
	detailed := NewPaper("2603.00001", date)
	detailed.Abstract = "We study things."
	detailed.Comments = "12 pages"
	detailed.PublishedAt = &published
	require.NoError(t, store.UpdateStagingDetails(ctx, detailed))

	require.NoError(t, store.UpdateStagingAnalysis(ctx, "2603.00001", &models.PaperAnalysis{
		Summary:  "A study.",
		Keywords: []string{"things"},
	}))

	archived, err := store.ArchiveStaging(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, archived)

	require.NoError(t, store.ClearStaging(ctx))

	staged, err = store.StagingPapers(ctx)
	require.NoError(t, err)
	assert.Empty(t, staged)

	papers, err := store.PapersByDate(ctx, date)
	require.NoError(t, err)
	require.Len(t, papers, 2)
	assert.Equal(t, "We study things.", papers[0].Abstract)
	assert.True(t, papers[0].HasDetails())
	require.NotNil(t, papers[0].PublishedAt)
	assert.True(t, published.Equal(*papers[0].PublishedAt))
	require.NotNil(t, papers[0].Analysis)
	assert.Equal(t, "A study.", papers[0].Analysis.Summary)
	assert.Nil(t, papers[1].Analysis)

	byID, err := store.PapersByIDs(ctx, []string{"2603.00002"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "Paper 2603.00002", byID[0].Title)

	other, err := store.PapersByDate(ctx, "2026-03-07")
	require.NoError(t, err)
	assert.Empty(t, other)
}

// NewProfile returns an active profile.
func NewProfile(id string) *models.UserProfile {
	return testutil.CreateTestProfile(id)
}

func testProfiles(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	require.NoError(t, store.SaveProfile(ctx, NewProfile("u2")))
	require.NoError(t, store.SaveProfile(ctx, NewProfile("u1")))

	inactive := NewProfile("u3")
	inactive.Active = false
	require.NoError(t, store.SaveProfile(ctx, inactive))

	active, err := store.ActiveProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "u1", active[0].ID)
	assert.Equal(t, []string{"cs.CL"}, active[0].Categories)

	profile, err := store.Profile(ctx, "u3")
	require.NoError(t, err)
	assert.False(t, profile.Active)
	assert.InDelta(t, 6.0, profile.MinScore, 1e-9)

	_, err = store.Profile(ctx, "nobody")
	assert.True(t, persistence.IsProfileNotFound(err))
}

func testFilterResults(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	require.NoError(t, store.SaveProfile(ctx, NewProfile("u1")))

	results := make([]*models.FilterResult, 0, 250)
	ids := make([]string, 0, 250)

	for i := range 250 {
		id := fmt.Sprintf("2603.%05d", i)
		ids = append(ids, id)

		status := models.FilterStatusRejected
		if i%3 == 0 {
			status = models.FilterStatusAccepted
		}

		results = append(results, &models.FilterResult{UserID: "u1", PaperID: id, Status: status, Score: float64(i % 10)})
	}

	require.NoError(t, store.UpsertFilterResults(ctx, results))

	got, err := store.FilterResults(ctx, "u1", ids[:5])
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, models.FilterStatusAccepted, got[ids[0]].Status)
	assert.Equal(t, models.FilterStatusRejected, got[ids[1]].Status)

	require.NoError(t, store.UpsertFilterResults(ctx, []*models.FilterResult{
		{UserID: "u1", PaperID: ids[1], Status: models.FilterStatusAccepted, Score: 9, Reason: "on topic"},
	}))

	got, err = store.FilterResults(ctx, "u1", []string{ids[1], "unknown"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.FilterStatusAccepted, got[ids[1]].Status)
	assert.InDelta(t, 9.0, got[ids[1]].Score, 1e-9)
	assert.Equal(t, "on topic", got[ids[1]].Reason)

	all, err := store.FilterResults(ctx, "u1", ids)
	require.NoError(t, err)
	assert.Len(t, all, 250)

	none, err := store.FilterResults(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testReports(t *testing.T, store persistence.Persistence) {
	ctx := context.Background()

	require.NoError(t, store.SaveProfile(ctx, NewProfile("u1")))

	report := &models.Report{
		ID:               uuid.NewString(),
		UserID:           "u1",
		AnnouncementDate: "2026-03-06",
		Subject:          "Your digest",
		Body:             "<p>hi</p>",
		PaperIDs:         []string{"2603.00001"},
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.SaveReport(ctx, report))

	sent, err := store.ReportSent(ctx, "u1", "2026-03-06")
	require.NoError(t, err)
	assert.False(t, sent)

	now := time.Now().UTC()
	report.SentAt = &now
	require.NoError(t, store.SaveReport(ctx, report))

	sent, err = store.ReportSent(ctx, "u1", "2026-03-06")
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = store.ReportSent(ctx, "u1", "2026-03-07")
	require.NoError(t, err)
	assert.False(t, sent)
}
