package steps

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dukex/paperdigest/pkg/arxiv"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// StopReasonNoPapers is the stop_reason when the announcement listed nothing.
const StopReasonNoPapers = "no_papers"

// detailsChunk is how many ids one detail request carries.
const detailsChunk = 50

// ClearStaging empties the staging table left by a previous run.
type ClearStaging struct {
	*workflow.BaseStep

	store persistence.PaperRepository
}

func NewClearStaging(deps Deps) *ClearStaging {
	return &ClearStaging{BaseStep: workflow.NewBaseStep(ClearStagingName, 1), store: deps.Store}
}

func (s *ClearStaging) Execute(ctx context.Context, _ workflow.Context) (workflow.Context, error) {
	if err := s.store.ClearStaging(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to clear staging")
	}

	return workflow.Context{"staging_cleared": true}, nil
}

// Crawl lists the announcement's papers into staging.
type Crawl struct {
	*workflow.BaseStep

	source arxiv.Source
	store  persistence.PaperRepository
	deps   Deps
}

func NewCrawl(deps Deps) *Crawl {
	return &Crawl{BaseStep: workflow.NewBaseStep(CrawlName, 2), source: deps.Source, store: deps.Store, deps: deps}
}

func (s *Crawl) Execute(ctx context.Context, wctx workflow.Context) (workflow.Context, error) {
	date, err := announcementDate(wctx)
	if err != nil {
		return nil, err
	}

	papers, err := s.source.ListNew(ctx, s.deps.categories(wctx), date)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list papers announced %s", date)
	}

	if len(papers) == 0 {
		return workflow.Stop(StopReasonNoPapers, fmt.Sprintf("no papers announced on %s", date)), nil
	}

	for _, paper := range papers {
		if paper.AnnouncementDate == "" {
			paper.AnnouncementDate = date
		}
	}

	stored, err := s.store.UpsertStaging(ctx, papers)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stage papers")
	}

	s.SetMetric("papers_found", stored)

	return workflow.Context{"papers_found": stored}, nil
}

// FetchDetails fills abstracts and authors for staged papers that lack them.
// Papers already detailed by an earlier attempt are not fetched again.
type FetchDetails struct {
	*workflow.BaseStep

	source  arxiv.Source
	store   persistence.PaperRepository
	workers int
	deps    Deps
}

func NewFetchDetails(deps Deps) *FetchDetails {
	return &FetchDetails{
		BaseStep: workflow.NewBaseStep(FetchDetailsName, 2),
		source:   deps.Source,
		store:    deps.Store,
		workers:  max(deps.Config.DetailsWorkers, 1),
		deps:     deps,
	}
}

func (s *FetchDetails) Execute(ctx context.Context, _ workflow.Context) (workflow.Context, error) {
	staged, err := s.store.StagingPapers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load staged papers")
	}

	var ids []string

	for _, paper := range staged {
		if !paper.HasDetails() {
			ids = append(ids, paper.ID)
		}
	}

	total := len(ids)
	if total == 0 {
		return workflow.Context{"details_fetched": 0, "details_missing": 0}, nil
	}

	var (
		mu      sync.Mutex
		done    int
		fetched int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for chunk := range slices.Chunk(ids, detailsChunk) {
		g.Go(func() error {
			papers, err := s.source.FetchDetails(gctx, chunk)
			if err != nil {
				return errors.Wrapf(err, "failed to fetch details of %d papers", len(chunk))
			}

			for _, paper := range papers {
				if err := s.store.UpdateStagingDetails(gctx, paper); err != nil {
					return errors.Wrapf(err, "failed to store details of %s", paper.ID)
				}
			}

			mu.Lock()
			defer mu.Unlock()

			fetched += len(papers)
			done += len(chunk)
			s.ReportProgress(done, total, fmt.Sprintf("fetched details for %d of %d papers", done, total))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	missing := total - fetched
	if missing > 0 {
		s.deps.logger(FetchDetailsName).WarnContext(ctx, "details unavailable for some papers", "missing", missing)
	}

	s.SetMetric("details_fetched", fetched)
	s.SetMetric("details_missing", missing)

	return workflow.Context{"details_fetched": fetched, "details_missing": missing}, nil
}

// Archive moves staged papers into the archive and then records the
// announcement as processed, so a failed run is retried by the next trigger.
type Archive struct {
	*workflow.BaseStep

	store persistence.PaperRepository
}

func NewArchive(deps Deps) *Archive {
	return &Archive{BaseStep: workflow.NewBaseStep(ArchiveName, 2), store: deps.Store}
}

func (s *Archive) Execute(ctx context.Context, wctx workflow.Context) (workflow.Context, error) {
	date, err := announcementDate(wctx)
	if err != nil {
		return nil, err
	}

	archived, err := s.store.ArchiveStaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to archive staged papers")
	}

	if err := s.store.SetState(ctx, persistence.StateLastAnnouncement, date); err != nil {
		return nil, errors.Wrap(err, "failed to record last announcement")
	}

	s.SetMetric("papers_archived", archived)

	return workflow.Context{"papers_archived": archived}, nil
}
