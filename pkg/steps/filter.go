package steps

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/paperdigest/pkg/llm"
	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const filterSystemPrompt = `You decide whether a research paper matches a reader's interests.
Answer with one JSON object and nothing else:
{"relevant": true|false, "score": <0 to 10>, "reason": "<one sentence>"}`

var filterSchema = llm.MustSchema(`{
  "type": "object",
  "required": ["relevant", "score"],
  "properties": {
    "relevant": {"type": "boolean"},
    "score": {"type": "number", "minimum": 0, "maximum": 10},
    "reason": {"type": "string"}
  }
}`)

type filterOutput struct {
	Relevant bool    `json:"relevant"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// FilterOutcome is the result of filtering one user's candidate papers.
type FilterOutcome struct {
	// Accepted holds every accepted result, new or previously decided, by
	// score descending; equal scores keep the papers' order. Rejected is
	// ordered the same way.
	Accepted  []*models.FilterResult
	Rejected  []*models.FilterResult
	Skipped   int
	Evaluated int
	Failed    int
}

// Filterer scores papers against one user profile with a bounded pool of
// concurrent model calls.
type Filterer struct {
	client          llm.Client
	store           persistence.PaperRepository
	workers         int
	attempts        int
	backoff         time.Duration
	defaultMinScore float64
	sleep           workflow.SleepFunc
	usage           func(llm.Usage)
	now             func() time.Time
	logger          *slog.Logger
}

// NewFilterer builds a Filterer from the pipeline config. usage, if not nil,
// receives the token usage of every model call.
func NewFilterer(deps Deps, usage func(llm.Usage)) *Filterer {
	return &Filterer{
		client:          deps.LLM,
		store:           deps.Store,
		workers:         max(deps.Config.FilterWorkers, 1),
		attempts:        max(deps.Config.FilterAttempts, 1),
		backoff:         deps.Config.FilterBackoff,
		defaultMinScore: deps.Config.DefaultMinScore,
		sleep:           deps.sleep,
		usage:           usage,
		now:             func() time.Time { return time.Now().UTC() },
		logger:          deps.logger(PersonalizedFilterName),
	}
}

// Filter decides every candidate paper for profile. Papers that already have
// an accepted or rejected result are not sent to the model again. New
// decisions are written in one batch.
func (f *Filterer) Filter(ctx context.Context, profile *models.UserProfile, papers []*models.Paper) (FilterOutcome, error) {
	var outcome FilterOutcome

	candidates := candidatePapers(profile, papers)
	if len(candidates) == 0 {
		return outcome, nil
	}

	ids := make([]string, len(candidates))
	for i, paper := range candidates {
		ids[i] = paper.ID
	}

	existing, err := f.store.FilterResults(ctx, profile.ID, ids)
	if err != nil {
		return outcome, errors.Wrapf(err, "failed to load filter results of %s", profile.ID)
	}

	results := make([]*models.FilterResult, len(candidates))

	var (
		mu    sync.Mutex
		fresh []*models.FilterResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for i, paper := range candidates {
		if prior, ok := existing[paper.ID]; ok && prior.Status.IsDecided() {
			results[i] = prior
			outcome.Skipped++

			continue
		}

		outcome.Evaluated++

		g.Go(func() error {
			result, err := f.evaluate(gctx, profile, paper)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}

				f.logger.WarnContext(gctx, "filter failed", "user_id", profile.ID, "paper_id", paper.ID, "error", err)

				mu.Lock()
				outcome.Failed++
				mu.Unlock()

				return nil
			}

			mu.Lock()
			results[i] = result
			fresh = append(fresh, result)
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcome, err
	}

	if len(fresh) > 0 {
		if err := f.store.UpsertFilterResults(ctx, fresh); err != nil {
			return outcome, errors.Wrapf(err, "failed to store filter results of %s", profile.ID)
		}
	}

	for _, result := range results {
		switch {
		case result == nil:
		case result.Status == models.FilterStatusAccepted:
			outcome.Accepted = append(outcome.Accepted, result)
		default:
			outcome.Rejected = append(outcome.Rejected, result)
		}
	}

	sortByScore(outcome.Accepted)
	sortByScore(outcome.Rejected)

	return outcome, nil
}

// evaluate asks the model about one paper, retrying transient failures.
func (f *Filterer) evaluate(ctx context.Context, profile *models.UserProfile, paper *models.Paper) (*models.FilterResult, error) {
	req := llm.Request{
		System:      filterSystemPrompt,
		Prompt:      filterPrompt(profile, paper),
		Temperature: 0,
		MaxTokens:   256,
		JSON:        true,
	}

	var lastErr error

	for attempt := 1; attempt <= f.attempts; attempt++ {
		if attempt > 1 {
			if err := f.sleep(ctx, workflow.Backoff(f.backoff, attempt-1)); err != nil {
				return nil, err
			}
		}

		out, err := f.ask(ctx, req)
		if err == nil {
			return f.decide(profile, paper, out), nil
		}

		lastErr = err

		if !llm.IsRetryable(err) {
			break
		}
	}

	return nil, lastErr
}

func (f *Filterer) ask(ctx context.Context, req llm.Request) (filterOutput, error) {
	var out filterOutput

	resp, err := f.client.Complete(ctx, req)
	if err != nil {
		return out, err
	}

	if f.usage != nil {
		f.usage(resp.Usage)
	}

	err = llm.DecodeJSON(resp.Text, filterSchema, &out)

	return out, err
}

func (f *Filterer) decide(profile *models.UserProfile, paper *models.Paper, out filterOutput) *models.FilterResult {
	minScore := profile.MinScore
	if minScore == 0 {
		minScore = f.defaultMinScore
	}

	status := models.FilterStatusRejected
	if out.Relevant && out.Score >= minScore {
		status = models.FilterStatusAccepted
	}

	return &models.FilterResult{
		UserID:    profile.ID,
		PaperID:   paper.ID,
		Status:    status,
		Score:     out.Score,
		Reason:    out.Reason,
		UpdatedAt: f.now(),
	}
}

// candidatePapers keeps the papers in the profile's categories; a profile
// without categories sees everything.
func candidatePapers(profile *models.UserProfile, papers []*models.Paper) []*models.Paper {
	if len(profile.Categories) == 0 {
		return papers
	}

	var out []*models.Paper

	for _, paper := range papers {
		if slices.ContainsFunc(paper.Categories, func(c string) bool { return slices.Contains(profile.Categories, c) }) {
			out = append(out, paper)
		}
	}

	return out
}

func sortByScore(results []*models.FilterResult) {
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

func filterPrompt(profile *models.UserProfile, paper *models.Paper) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Reader interests:\n%s\n\n", profile.Interests)
	fmt.Fprintf(&b, "Title: %s\n", paper.Title)

	if paper.Analysis != nil {
		fmt.Fprintf(&b, "Summary: %s\n", paper.Analysis.Summary)

		if len(paper.Analysis.Keywords) > 0 {
			fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(paper.Analysis.Keywords, ", "))
		}
	} else {
		fmt.Fprintf(&b, "Abstract: %s\n", paper.Abstract)
	}

	return b.String()
}

// PersonalizedFilter runs the Filterer for every selected profile over the
// papers of the announcement date.
type PersonalizedFilter struct {
	*workflow.BaseStep

	store    persistence.PaperRepository
	filterer *Filterer
	deps     Deps
}

func NewPersonalizedFilter(deps Deps) *PersonalizedFilter {
	s := &PersonalizedFilter{
		BaseStep: workflow.NewBaseStep(PersonalizedFilterName, 2),
		store:    deps.Store,
		deps:     deps,
	}

	s.filterer = NewFilterer(deps, func(u llm.Usage) {
		s.AddUsage(u.Model, u.InputTokens, u.OutputTokens, u.CacheHitTokens, 1)
	})

	return s
}

func (s *PersonalizedFilter) Execute(ctx context.Context, wctx workflow.Context) (workflow.Context, error) {
	date, err := announcementDate(wctx)
	if err != nil {
		return nil, err
	}

	papers, err := s.store.PapersByDate(ctx, date)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load papers of %s", date)
	}

	profiles, err := s.deps.profiles(ctx, wctx)
	if err != nil {
		return nil, err
	}

	var (
		total    FilterOutcome
		rejected int
	)

	accepted := make(map[string]int, len(profiles))

	for i, profile := range profiles {
		outcome, err := s.filterer.Filter(ctx, profile, papers)
		if err != nil {
			return nil, err
		}

		accepted[profile.ID] = len(outcome.Accepted)
		rejected += len(outcome.Rejected)
		total.Skipped += outcome.Skipped
		total.Evaluated += outcome.Evaluated
		total.Failed += outcome.Failed
		total.Accepted = append(total.Accepted, outcome.Accepted...)

		s.ReportProgress(i+1, len(profiles), fmt.Sprintf("filtered papers for %s", profile.ID))
	}

	s.SetMetric("filter_accepted", len(total.Accepted))
	s.SetMetric("filter_rejected", rejected)
	s.SetMetric("filter_skipped", total.Skipped)
	s.SetMetric("filter_failed", total.Failed)

	if total.Evaluated > 0 && total.Failed == total.Evaluated {
		return nil, errors.Errorf("filtering failed for all %d evaluations", total.Failed)
	}

	return workflow.Context{
		"filter_users":    len(profiles),
		"filter_accepted": accepted,
		"filter_failed":   total.Failed,
	}, nil
}
