package steps

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
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

const analysisSystemPrompt = `You summarise research papers for a daily digest.
Answer with one JSON object and nothing else:
{"summary": "<two or three sentences>", "keywords": ["<3 to 6 keywords>"],
 "contribution": "<main contribution>", "methodology": "<method in one sentence>"}`

var analysisSchema = llm.MustSchema(`{
  "type": "object",
  "required": ["summary", "keywords"],
  "properties": {
    "summary": {"type": "string", "minLength": 1},
    "keywords": {"type": "array", "items": {"type": "string"}},
    "contribution": {"type": "string"},
    "methodology": {"type": "string"}
  }
}`)

type analysisOutput struct {
	Summary      string   `json:"summary"`
	Keywords     []string `json:"keywords"`
	Contribution string   `json:"contribution"`
	Methodology  string   `json:"methodology"`
}

// AnalyzePublic writes a user-independent analysis for every staged paper
// that has none, in batches separated by a pause to respect provider rate
// limits. A paper whose analysis fails is counted and left for the next
// attempt; the step fails only when every paper failed.
type AnalyzePublic struct {
	*workflow.BaseStep

	client    llm.Client
	store     persistence.PaperRepository
	batchSize int
	delay     time.Duration
	workers   int
	deps      Deps
	logger    *slog.Logger
}

func NewAnalyzePublic(deps Deps) *AnalyzePublic {
	return &AnalyzePublic{
		BaseStep:  workflow.NewBaseStep(AnalyzePublicName, 2),
		client:    deps.LLM,
		store:     deps.Store,
		batchSize: max(deps.Config.AnalysisBatchSize, 1),
		delay:     deps.Config.AnalysisBatchDelay,
		workers:   max(deps.Config.AnalysisWorkers, 1),
		deps:      deps,
		logger:    deps.logger(AnalyzePublicName),
	}
}

func (s *AnalyzePublic) Execute(ctx context.Context, _ workflow.Context) (workflow.Context, error) {
	staged, err := s.store.StagingPapers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load staged papers")
	}

	pending := slices.DeleteFunc(staged, func(p *models.Paper) bool { return p.Analysis != nil })
	total := len(pending)

	if total == 0 {
		return workflow.Context{"papers_analyzed": 0, "analysis_failed": 0}, nil
	}

	var (
		mu       sync.Mutex
		done     int
		analyzed int
		failed   int
		batches  int
	)

	for batch := range slices.Chunk(pending, s.batchSize) {
		if batches > 0 {
			s.logger.InfoContext(ctx, "waiting before next batch", "delay", s.delay)

			if err := s.deps.sleep(ctx, s.delay); err != nil {
				return nil, err
			}
		}

		batches++

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.workers)

		for _, paper := range batch {
			g.Go(func() error {
				analysis, err := s.analyze(gctx, paper)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}

				if err == nil {
					if err := s.store.UpdateStagingAnalysis(gctx, paper.ID, analysis); err != nil {
						return errors.Wrapf(err, "failed to store analysis of %s", paper.ID)
					}
				}

				mu.Lock()
				defer mu.Unlock()

				done++

				if err != nil {
					failed++

					s.logger.WarnContext(gctx, "paper analysis failed", "paper_id", paper.ID, "error", err)
				} else {
					analyzed++
				}

				s.ReportProgress(done, total, fmt.Sprintf("analysed %d of %d papers", done, total))

				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	s.SetMetric("papers_analyzed", analyzed)
	s.SetMetric("analysis_failed", failed)
	s.SetMetric("batches", batches)

	if analyzed == 0 {
		return nil, errors.Errorf("analysis failed for all %d papers", failed)
	}

	return workflow.Context{"papers_analyzed": analyzed, "analysis_failed": failed}, nil
}

func (s *AnalyzePublic) analyze(ctx context.Context, paper *models.Paper) (*models.PaperAnalysis, error) {
	resp, err := s.client.Complete(ctx, llm.Request{
		System:      analysisSystemPrompt,
		Prompt:      analysisPrompt(paper),
		Temperature: 0.2,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	s.AddUsage(resp.Usage.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.CacheHitTokens, 1)

	var out analysisOutput
	if err := llm.DecodeJSON(resp.Text, analysisSchema, &out); err != nil {
		return nil, err
	}

	return &models.PaperAnalysis{
		Summary:      out.Summary,
		Keywords:     out.Keywords,
		Contribution: out.Contribution,
		Methodology:  out.Methodology,
		Model:        resp.Usage.Model,
	}, nil
}

func analysisPrompt(paper *models.Paper) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Title: %s\n", paper.Title)

	if len(paper.Authors) > 0 {
		fmt.Fprintf(&b, "Authors: %s\n", strings.Join(paper.Authors, ", "))
	}

	if len(paper.Categories) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(paper.Categories, ", "))
	}

	if paper.Comments != "" {
		fmt.Fprintf(&b, "Comments: %s\n", paper.Comments)
	}

	fmt.Fprintf(&b, "\nAbstract:\n%s\n", paper.Abstract)

	return b.String()
}
