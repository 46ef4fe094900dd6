package steps

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/paperdigest/pkg/llm"
	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperIDs(results []*models.FilterResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.PaperID
	}

	return ids
}

func TestFilterer_OrdersByScoreWithStableTies(t *testing.T) {
	f := newFixture(t)
	f.llm.Respond = scoreByTitle(map[string]float64{
		"Paper p1": 7, "Paper p2": 9, "Paper p3": 7, "Paper p4": 3, "Paper p5": 9,
	})

	profile := f.profile(t, "ada")
	papers := []*models.Paper{paper("p1"), paper("p2"), paper("p3"), paper("p4"), paper("p5")}

	outcome, err := NewFilterer(f.deps, nil).Filter(t.Context(), profile, papers)
	require.NoError(t, err)

	assert.Equal(t, []string{"p2", "p5", "p1", "p3"}, paperIDs(outcome.Accepted))
	assert.Equal(t, []string{"p4"}, paperIDs(outcome.Rejected))
	assert.Equal(t, 5, outcome.Evaluated)
	assert.Zero(t, outcome.Skipped)

	stored, err := f.store.FilterResults(t.Context(), "ada", []string{"p1", "p2", "p3", "p4", "p5"})
	require.NoError(t, err)
	require.Len(t, stored, 5)
	assert.Equal(t, models.FilterStatusRejected, stored["p4"].Status)
	assert.Equal(t, models.FilterStatusAccepted, stored["p2"].Status)
	assert.InDelta(t, 9, stored["p2"].Score, 1e-9)
	assert.Equal(t, "matches Paper p2", stored["p2"].Reason)
}

func TestFilterer_SkipsDecidedPapers(t *testing.T) {
	f := newFixture(t)
	f.llm.Respond = scoreByTitle(map[string]float64{"Paper p1": 2, "Paper p2": 8, "Paper p3": 6})

	profile := f.profile(t, "ada")

	require.NoError(t, f.store.UpsertFilterResults(t.Context(), []*models.FilterResult{
		{UserID: "ada", PaperID: "p1", Status: models.FilterStatusAccepted, Score: 10},
		{UserID: "ada", PaperID: "p3", Status: models.FilterStatusPending},
	}))

	outcome, err := NewFilterer(f.deps, nil).Filter(t.Context(), profile, []*models.Paper{paper("p1"), paper("p2"), paper("p3")})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Skipped)
	assert.Equal(t, 2, outcome.Evaluated)
	assert.Equal(t, 2, f.llm.CallCount())
	assert.Equal(t, []string{"p1", "p2", "p3"}, paperIDs(outcome.Accepted))
}

func TestFilterer_RerunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.llm.Respond = scoreByTitle(map[string]float64{
		"Paper p1": 6, "Paper p2": 8, "Paper p3": 6, "Paper p4": 1,
		"Paper p5": 3, "Paper p6": 4, "Paper p7": 4,
	})

	profile := f.profile(t, "ada")
	papers := []*models.Paper{paper("p1"), paper("p2"), paper("p3"), paper("p4"), paper("p5"), paper("p6"), paper("p7")}
	filterer := NewFilterer(f.deps, nil)

	first, err := filterer.Filter(t.Context(), profile, papers)
	require.NoError(t, err)

	calls := f.llm.CallCount()

	second, err := filterer.Filter(t.Context(), profile, papers)
	require.NoError(t, err)

	assert.Equal(t, calls, f.llm.CallCount())
	assert.Equal(t, []string{"p2", "p1", "p3"}, paperIDs(first.Accepted))
	assert.Equal(t, []string{"p6", "p7", "p5", "p4"}, paperIDs(first.Rejected))
	assert.Equal(t, paperIDs(first.Accepted), paperIDs(second.Accepted))
	assert.Equal(t, paperIDs(first.Rejected), paperIDs(second.Rejected))
	assert.Equal(t, 7, second.Skipped)
	assert.Zero(t, second.Evaluated)
}

func TestFilterer_RetriesTransientErrors(t *testing.T) {
	f := newFixture(t)
	answer := scoreByTitle(map[string]float64{"Paper p1": 8})

	var calls atomic.Int32

	f.llm.Respond = func(req llm.Request) (llm.Response, error) {
		if calls.Add(1) <= 2 {
			return llm.Response{}, &llm.APIError{Provider: "mock", StatusCode: 429}
		}

		return answer(req)
	}

	outcome, err := NewFilterer(f.deps, nil).Filter(t.Context(), f.profile(t, "ada"), []*models.Paper{paper("p1")})
	require.NoError(t, err)

	assert.Equal(t, []string{"p1"}, paperIDs(outcome.Accepted))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, f.sleep.Delays())
}

func TestFilterer_Failures(t *testing.T) {
	cases := map[string]struct {
		err   error
		calls int
	}{
		"exhausted":     {err: llm.ErrRateLimited, calls: 3},
		"not retryable": {err: &llm.APIError{Provider: "mock", StatusCode: 400}, calls: 1},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.llm.Err = tc.err

			outcome, err := NewFilterer(f.deps, nil).Filter(t.Context(), f.profile(t, "ada"), []*models.Paper{paper("p1")})
			require.NoError(t, err)

			assert.Equal(t, 1, outcome.Failed)
			assert.Empty(t, outcome.Accepted)
			assert.Equal(t, tc.calls, f.llm.CallCount())

			stored, err := f.store.FilterResults(t.Context(), "ada", []string{"p1"})
			require.NoError(t, err)
			assert.Empty(t, stored)
		})
	}
}

func TestFilterer_ProfileCategoriesAndMinScore(t *testing.T) {
	f := newFixture(t)
	f.llm.Respond = scoreByTitle(map[string]float64{"Paper p1": 7, "Paper p2": 9})

	profile := f.profile(t, "ada", func(p *models.UserProfile) {
		p.Categories = []string{"cs.CL"}
		p.MinScore = 8
	})

	outcome, err := NewFilterer(f.deps, nil).Filter(t.Context(), profile, []*models.Paper{
		paper("p1"), paper("p2"), paper("p3", "math.CO"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"p2"}, paperIDs(outcome.Accepted))
	assert.Equal(t, []string{"p1"}, paperIDs(outcome.Rejected))
	assert.Equal(t, 2, f.llm.CallCount())
}

func TestFilterer_DefaultMinScore(t *testing.T) {
	f := newFixture(t)
	f.deps.Config.DefaultMinScore = 9
	f.llm.Respond = scoreByTitle(map[string]float64{"Paper p1": 8})

	profile := f.profile(t, "ada", func(p *models.UserProfile) { p.MinScore = 0 })

	outcome, err := NewFilterer(f.deps, nil).Filter(t.Context(), profile, []*models.Paper{paper("p1")})
	require.NoError(t, err)
	assert.Empty(t, outcome.Accepted)
	assert.Equal(t, []string{"p1"}, paperIDs(outcome.Rejected))
}

func TestPersonalizedFilter(t *testing.T) {
	f := newFixture(t)
	f.llm.Respond = scoreByTitle(map[string]float64{"Paper p1": 9, "Paper p2": 3})
	f.archive(t, paper("p1"), paper("p2"))
	f.profile(t, "ada")
	f.profile(t, "alan")
	f.profile(t, "grace", func(p *models.UserProfile) { p.Active = false })

	step := NewPersonalizedFilter(f.deps)

	update, err := step.Execute(t.Context(), workflow.Context{workflow.KeyAnnouncementDate: testDate})
	require.NoError(t, err)

	assert.Equal(t, 2, update.Int("filter_users"))
	assert.Equal(t, map[string]int{"ada": 1, "alan": 1}, update["filter_accepted"])
	assert.Equal(t, 4, f.llm.CallCount())

	m := step.Metrics()
	assert.Equal(t, int64(400), m.TokensInput)
	assert.Equal(t, int64(80), m.TokensOutput)
	assert.Equal(t, int64(4), m.RequestCount)
	assert.Equal(t, 2, m.Custom["filter_accepted"])
	assert.Equal(t, 2, m.Custom["filter_rejected"])
}

func TestPersonalizedFilter_UserIDs(t *testing.T) {
	f := newFixture(t)
	f.llm.Respond = scoreByTitle(map[string]float64{"Paper p1": 9})
	f.archive(t, paper("p1"))
	f.profile(t, "ada")
	f.profile(t, "alan")

	update, err := NewPersonalizedFilter(f.deps).Execute(t.Context(), workflow.Context{
		workflow.KeyAnnouncementDate: testDate,
		workflow.KeyUserIDs:          []any{"alan"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, update.Int("filter_users"))
	assert.Equal(t, 1, f.llm.CallCount())

	_, err = NewPersonalizedFilter(f.deps).Execute(t.Context(), workflow.Context{
		workflow.KeyAnnouncementDate: testDate,
		workflow.KeyUserIDs:          []string{"nobody"},
	})
	require.Error(t, err)
}

func TestPersonalizedFilter_AllFailed(t *testing.T) {
	f := newFixture(t)
	f.llm.Err = &llm.APIError{Provider: "mock", StatusCode: 401}
	f.archive(t, paper("p1"))
	f.profile(t, "ada")

	_, err := NewPersonalizedFilter(f.deps).Execute(t.Context(), workflow.Context{workflow.KeyAnnouncementDate: testDate})
	require.Error(t, err)
}
