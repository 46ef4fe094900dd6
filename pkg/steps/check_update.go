package steps

import (
	"context"
	"fmt"

	"github.com/dukex/paperdigest/pkg/arxiv"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/pkg/errors"
)

// StopReasonNoUpdate is the stop_reason when the latest announcement was
// already processed.
const StopReasonNoUpdate = "no_update"

// CheckUpdate compares the source's latest announcement with the last one
// archived and stops the run when nothing is new, unless force is set. An
// explicit announcement_date in the context skips the comparison.
type CheckUpdate struct {
	*workflow.BaseStep

	source arxiv.Source
	store  persistence.PaperRepository
	deps   Deps
}

func NewCheckUpdate(deps Deps) *CheckUpdate {
	return &CheckUpdate{
		BaseStep: workflow.NewBaseStep(CheckUpdateName, 2),
		source:   deps.Source,
		store:    deps.Store,
		deps:     deps,
	}
}

func (s *CheckUpdate) Execute(ctx context.Context, wctx workflow.Context) (workflow.Context, error) {
	categories := s.deps.categories(wctx)

	if date := wctx.String(workflow.KeyAnnouncementDate); date != "" {
		return workflow.Context{
			workflow.KeyHasUpdate:  true,
			workflow.KeyCategories: categories,
		}, nil
	}

	latest, err := s.source.LatestAnnouncement(ctx, categories)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check latest announcement")
	}

	last, err := s.store.State(ctx, persistence.StateLastAnnouncement)
	if err != nil && !persistence.IsStateNotFound(err) {
		return nil, errors.Wrap(err, "failed to read last announcement")
	}

	s.SetMetric("latest_announcement", latest)

	if latest == last && !wctx.Bool(workflow.KeyForce) {
		s.deps.logger(CheckUpdateName).InfoContext(ctx, "no new announcement", "date", latest)

		update := workflow.Stop(StopReasonNoUpdate, fmt.Sprintf("announcement %s was already processed", latest))
		update[workflow.KeyHasUpdate] = false

		return update, nil
	}

	return workflow.Context{
		workflow.KeyHasUpdate:        true,
		workflow.KeyAnnouncementDate: latest,
		workflow.KeyCategories:       categories,
	}, nil
}
