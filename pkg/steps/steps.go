// Package steps holds the concrete digest pipeline steps and the workflow
// definitions that order them.
package steps

import (
	"context"
	"log/slog"
	"time"

	"github.com/dukex/paperdigest/pkg/arxiv"
	"github.com/dukex/paperdigest/pkg/config"
	"github.com/dukex/paperdigest/pkg/llm"
	"github.com/dukex/paperdigest/pkg/mail"
	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/pkg/errors"
)

// Workflow types.
const (
	DailyDigest = "daily_digest"
	UserDigest  = "user_digest"
)

// Step names, also the persisted step record names.
const (
	CheckUpdateName        = "check_update"
	ClearStagingName       = "clear_staging"
	CrawlName              = "crawl"
	FetchDetailsName       = "fetch_details"
	AnalyzePublicName      = "analyze_public"
	ArchiveName            = "archive"
	PersonalizedFilterName = "personalized_filter"
	GenerateReportName     = "generate_report"
)

// Deps are the collaborators shared by all steps of a run.
type Deps struct {
	Store  persistence.PaperRepository
	Source arxiv.Source
	LLM    llm.Client
	Mail   mail.Sender
	Config config.Pipeline
	Logger *slog.Logger

	// Sleep waits between analysis batches and filter retries; nil means
	// workflow.Sleep.
	Sleep workflow.SleepFunc
}

func (d Deps) sleep(ctx context.Context, delay time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, delay)
	}

	return workflow.Sleep(ctx, delay)
}

func (d Deps) logger(step string) *slog.Logger {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return logger.With("module", "steps", "step", step)
}

// Definitions returns the workflow types the pipeline can run.
func Definitions(deps Deps) []workflow.Definition {
	return []workflow.Definition{
		{
			Type: DailyDigest,
			Build: func() []workflow.Step {
				return []workflow.Step{
					NewCheckUpdate(deps),
					NewClearStaging(deps),
					NewCrawl(deps),
					NewFetchDetails(deps),
					NewAnalyzePublic(deps),
					NewArchive(deps),
					NewPersonalizedFilter(deps),
					NewGenerateReport(deps),
				}
			},
		},
		{
			Type: UserDigest,
			Build: func() []workflow.Step {
				return []workflow.Step{
					NewPersonalizedFilter(deps),
					NewGenerateReport(deps),
				}
			},
		},
	}
}

// categories reads the categories key, falling back to the configured ones.
func (d Deps) categories(wctx workflow.Context) []string {
	if c := wctx.Strings(workflow.KeyCategories); len(c) > 0 {
		return c
	}

	return d.Config.Categories
}

// profiles returns the subscribers a personalised step works for: the ones
// named in user_ids, or every active profile.
func (d Deps) profiles(ctx context.Context, wctx workflow.Context) ([]*models.UserProfile, error) {
	ids := wctx.Strings(workflow.KeyUserIDs)
	if len(ids) == 0 {
		profiles, err := d.Store.ActiveProfiles(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load active profiles")
		}

		return profiles, nil
	}

	profiles := make([]*models.UserProfile, 0, len(ids))

	for _, id := range ids {
		profile, err := d.Store.Profile(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load profile %s", id)
		}

		profiles = append(profiles, profile)
	}

	return profiles, nil
}

// announcementDate reads the date every step after check_update works on.
func announcementDate(wctx workflow.Context) (string, error) {
	date := wctx.String(workflow.KeyAnnouncementDate)
	if date == "" {
		return "", errors.New("announcement_date missing from context")
	}

	return date, nil
}
