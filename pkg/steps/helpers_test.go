package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukex/paperdigest/pkg/config"
	"github.com/dukex/paperdigest/pkg/llm"
	"github.com/dukex/paperdigest/pkg/log"
	"github.com/dukex/paperdigest/pkg/mail"
	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence/memory"
	"github.com/stretchr/testify/require"
)

const testDate = "2026-10-15"

var errSourceDown = errors.New("source down")

// fakeSource serves a fixed listing and detail set.
type fakeSource struct {
	mu          sync.Mutex
	latest      string
	listing     []*models.Paper
	details     map[string]*models.Paper
	err         error
	listCalls   int
	detailCalls [][]string
}

func (s *fakeSource) LatestAnnouncement(context.Context, []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.latest, s.err
}

func (s *fakeSource) ListNew(_ context.Context, _ []string, _ string) ([]*models.Paper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listCalls++

	if s.err != nil {
		return nil, s.err
	}

	out := make([]*models.Paper, len(s.listing))
	for i, p := range s.listing {
		c := *p
		out[i] = &c
	}

	return out, nil
}

func (s *fakeSource) FetchDetails(_ context.Context, ids []string) ([]*models.Paper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detailCalls = append(s.detailCalls, append([]string(nil), ids...))

	if s.err != nil {
		return nil, s.err
	}

	var out []*models.Paper

	for _, id := range ids {
		if p, ok := s.details[id]; ok {
			c := *p
			out = append(out, &c)
		}
	}

	return out, nil
}

func (s *fakeSource) requestedDetails() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, call := range s.detailCalls {
		ids = append(ids, call...)
	}

	return ids
}

// sleepRecorder replaces real waits.
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

type fixture struct {
	store  *memory.Persistence
	source *fakeSource
	llm    *llm.Mock
	outbox *mail.Outbox
	sleep  *sleepRecorder
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.AnalysisBatchSize = 20
	cfg.AnalysisBatchDelay = time.Minute
	cfg.AnalysisWorkers = 4
	cfg.FilterWorkers = 4
	cfg.DetailsWorkers = 2

	f := &fixture{
		store:  memory.NewPersistence(),
		source: &fakeSource{latest: testDate, details: map[string]*models.Paper{}},
		llm:    &llm.Mock{ModelName: "mock-model"},
		outbox: &mail.Outbox{},
		sleep:  &sleepRecorder{},
	}

	f.deps = Deps{
		Store:  f.store,
		Source: f.source,
		LLM:    f.llm,
		Mail:   f.outbox,
		Config: cfg,
		Logger: log.Discard(),
		Sleep:  f.sleep.Sleep,
	}

	return f
}

func paper(id string, categories ...string) *models.Paper {
	if len(categories) == 0 {
		categories = []string{"cs.CL"}
	}

	return &models.Paper{
		ID:               id,
		Title:            "Paper " + id,
		Authors:          []string{"Ada Lovelace"},
		Categories:       categories,
		URL:              "https://arxiv.org/abs/" + id,
		AnnouncementDate: testDate,
	}
}

// archive stores papers directly in the archive, analysed.
func (f *fixture) archive(t *testing.T, papers ...*models.Paper) {
	t.Helper()

	ctx := t.Context()

	require.NoError(t, f.store.ClearStaging(ctx))

	_, err := f.store.UpsertStaging(ctx, papers)
	require.NoError(t, err)

	for _, p := range papers {
		require.NoError(t, f.store.UpdateStagingAnalysis(ctx, p.ID, &models.PaperAnalysis{
			Summary:  "About " + p.ID,
			Keywords: []string{"testing"},
		}))
	}

	_, err = f.store.ArchiveStaging(ctx)
	require.NoError(t, err)
}

func (f *fixture) profile(t *testing.T, id string, mutate ...func(*models.UserProfile)) *models.UserProfile {
	t.Helper()

	p := &models.UserProfile{
		ID:        id,
		Email:     id + "@example.com",
		Interests: "language models",
		MinScore:  6,
		Active:    true,
	}

	for _, m := range mutate {
		m(p)
	}

	require.NoError(t, f.store.SaveProfile(t.Context(), p))

	return p
}

// scoreByTitle answers filter prompts from a title → score table; relevant
// when the score is at least 5.
func scoreByTitle(scores map[string]float64) func(llm.Request) (llm.Response, error) {
	return func(req llm.Request) (llm.Response, error) {
		for title, score := range scores {
			if strings.Contains(req.Prompt, "Title: "+title+"\n") {
				text := fmt.Sprintf(`{"relevant": %t, "score": %g, "reason": "matches %s"}`, score >= 5, score, title)

				return llm.Response{
					Text:  text,
					Usage: llm.Usage{Model: "mock-model", InputTokens: 100, OutputTokens: 20},
				}, nil
			}
		}

		return llm.Response{}, llm.ErrEmptyResponse
	}
}

// analysisAnswer answers every analysis prompt with a valid object.
func analysisAnswer(llm.Request) (llm.Response, error) {
	return llm.Response{
		Text:  "```json\n{\"summary\": \"A study.\", \"keywords\": [\"nlp\"], \"contribution\": \"benchmark\"}\n```",
		Usage: llm.Usage{Model: "mock-model", InputTokens: 500, OutputTokens: 80, CacheHitTokens: 10},
	}, nil
}
