package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/paperdigest/pkg/mail"
	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// GenerateReport renders and mails each user's digest of accepted papers.
// A report already sent for the (user, date) pair is skipped, so a retry
// only delivers what is still missing.
type GenerateReport struct {
	*workflow.BaseStep

	store     persistence.PaperRepository
	sender    mail.Sender
	maxPapers int
	deps      Deps
	now       func() time.Time
}

func NewGenerateReport(deps Deps) *GenerateReport {
	return &GenerateReport{
		BaseStep:  workflow.NewBaseStep(GenerateReportName, 2),
		store:     deps.Store,
		sender:    deps.Mail,
		maxPapers: deps.Config.MaxPapers,
		deps:      deps,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *GenerateReport) Execute(ctx context.Context, wctx workflow.Context) (workflow.Context, error) {
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

	logger := s.deps.logger(GenerateReportName)

	var (
		sent, skipped, empty int
		firstErr             error
	)

	for i, profile := range profiles {
		status, err := s.report(ctx, profile, date, papers)

		switch {
		case err != nil:
			logger.ErrorContext(ctx, "report failed", "user_id", profile.ID, "error", err)

			if firstErr == nil {
				firstErr = err
			}
		case status == reportSent:
			sent++
		case status == reportAlreadySent:
			skipped++
		default:
			empty++
		}

		s.ReportProgress(i+1, len(profiles), fmt.Sprintf("processed report for %s", profile.ID))
	}

	s.SetMetric("reports_sent", sent)
	s.SetMetric("reports_skipped", skipped)
	s.SetMetric("reports_empty", empty)

	if firstErr != nil {
		return nil, firstErr
	}

	return workflow.Context{"reports_sent": sent, "reports_skipped": skipped}, nil
}

type reportStatus int

const (
	reportSent reportStatus = iota
	reportAlreadySent
	reportEmpty
)

func (s *GenerateReport) report(ctx context.Context, profile *models.UserProfile, date string, papers []*models.Paper) (reportStatus, error) {
	done, err := s.store.ReportSent(ctx, profile.ID, date)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to check report of %s", profile.ID)
	}

	if done {
		return reportAlreadySent, nil
	}

	digest, ids, err := s.digest(ctx, profile, date, papers)
	if err != nil {
		return 0, err
	}

	if len(ids) == 0 {
		return reportEmpty, nil
	}

	body, err := mail.RenderDigest(digest)
	if err != nil {
		return 0, err
	}

	report := &models.Report{
		ID:               uuid.NewString(),
		UserID:           profile.ID,
		AnnouncementDate: date,
		Subject:          digest.Subject(),
		Body:             body,
		PaperIDs:         ids,
		CreatedAt:        s.now(),
	}

	if err := s.store.SaveReport(ctx, report); err != nil {
		return 0, errors.Wrapf(err, "failed to save report of %s", profile.ID)
	}

	if err := s.sender.Send(ctx, mail.Message{To: profile.Email, Subject: report.Subject, HTML: body}); err != nil {
		return 0, errors.Wrapf(err, "failed to send report to %s", profile.ID)
	}

	sentAt := s.now()
	report.SentAt = &sentAt

	if err := s.store.SaveReport(ctx, report); err != nil {
		return 0, errors.Wrapf(err, "failed to mark report of %s as sent", profile.ID)
	}

	return reportSent, nil
}

// digest collects the accepted papers of profile, best first, capped at the
// profile's or the pipeline's maximum.
func (s *GenerateReport) digest(ctx context.Context, profile *models.UserProfile, date string, papers []*models.Paper) (mail.Digest, []string, error) {
	digest := mail.Digest{Date: date, Email: profile.Email}

	candidates := candidatePapers(profile, papers)
	ids := make([]string, len(candidates))
	byID := make(map[string]*models.Paper, len(candidates))

	for i, paper := range candidates {
		ids[i] = paper.ID
		byID[paper.ID] = paper
	}

	results, err := s.store.FilterResults(ctx, profile.ID, ids)
	if err != nil {
		return digest, nil, errors.Wrapf(err, "failed to load filter results of %s", profile.ID)
	}

	var accepted []*models.FilterResult

	for _, id := range ids {
		if result, ok := results[id]; ok && result.Status == models.FilterStatusAccepted {
			accepted = append(accepted, result)
		}
	}

	sortByScore(accepted)

	limit := profile.MaxPapers
	if limit <= 0 {
		limit = s.maxPapers
	}

	if limit > 0 && len(accepted) > limit {
		accepted = accepted[:limit]
	}

	selected := make([]string, 0, len(accepted))

	for _, result := range accepted {
		paper := byID[result.PaperID]

		entry := mail.DigestPaper{
			ID:      paper.ID,
			Title:   paper.Title,
			URL:     paper.URL,
			Authors: paper.Authors,
			Score:   result.Score,
			Reason:  result.Reason,
		}

		if paper.Analysis != nil {
			entry.Summary = paper.Analysis.Summary
			entry.Keywords = paper.Analysis.Keywords
		}

		digest.Papers = append(digest.Papers, entry)
		selected = append(selected, paper.ID)
	}

	return digest, selected, nil
}
