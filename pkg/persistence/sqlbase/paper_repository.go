package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
)

const paperColumns = `id, title, authors, abstract, categories, primary_category, url, pdf_url,
	comments, announcement_date, published_at, analysis, created_at, updated_at`

const profileColumns = `id, email, name, interests, categories, min_score, max_papers, active,
	created_at, updated_at`

const filterBatchSize = 200

// PaperRepository persists the crawl staging table, the paper archive, user
// profiles, filter decisions and reports.
type PaperRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewPaperRepository creates a new paper repository.
func NewPaperRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *PaperRepository {
	return &PaperRepository{db: db, dialect: dialect, logger: logger}
}

// State returns the value stored under key.
func (r *PaperRepository) State(ctx context.Context, key string) (string, error) {
	var value string

	err := r.db.QueryRowContext(ctx, r.dialect.Rebind("SELECT state_value FROM pipeline_state WHERE state_key = ?"), key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%s: %w", key, persistence.ErrStateNotFound)
		}

		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}

	return value, nil
}

// SetState stores value under key.
func (r *PaperRepository) SetState(ctx context.Context, key, value string) error {
	query := r.dialect.Rebind(`
		INSERT INTO pipeline_state (state_key, state_value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (state_key) DO UPDATE SET state_value = excluded.state_value, updated_at = excluded.updated_at`)

	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}

	return nil
}

// ClearStaging empties the staging table.
func (r *PaperRepository) ClearStaging(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM staging_papers"); err != nil {
		return fmt.Errorf("failed to clear staging papers: %w", err)
	}

	return nil
}

// UpsertStaging inserts or refreshes crawled papers and returns how many were written.
func (r *PaperRepository) UpsertStaging(ctx context.Context, papers []*models.Paper) (int, error) {
	if len(papers) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := r.dialect.Rebind(`
		INSERT INTO staging_papers (` + paperColumns + `)
		VALUES (` + Placeholders(14) + `)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			authors = excluded.authors,
			categories = excluded.categories,
			primary_category = excluded.primary_category,
			url = excluded.url,
			pdf_url = excluded.pdf_url,
			announcement_date = excluded.announcement_date,
			updated_at = excluded.updated_at`)

	now := time.Now().UTC()

	for _, paper := range papers {
		args, err := paperArgs(paper, now)
		if err != nil {
			_ = tx.Rollback()

			return 0, err
		}

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()

			return 0, fmt.Errorf("failed to upsert staging paper %s: %w", paper.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit staging papers: %w", err)
	}

	return len(papers), nil
}

// StagingPapers returns the staged papers ordered by id.
func (r *PaperRepository) StagingPapers(ctx context.Context) ([]*models.Paper, error) {
	return r.queryPapers(ctx, "SELECT "+paperColumns+" FROM staging_papers ORDER BY id")
}

// UpdateStagingDetails stores the detail fields fetched for one staged paper.
func (r *PaperRepository) UpdateStagingDetails(ctx context.Context, paper *models.Paper) error {
	authors, err := JSONParam(paper.Authors)
	if err != nil {
		return err
	}

	query := r.dialect.Rebind(`
		UPDATE staging_papers SET abstract = ?, authors = ?, comments = ?, pdf_url = ?, published_at = ?, updated_at = ?
		WHERE id = ?`)

	_, err = r.db.ExecContext(ctx, query,
		paper.Abstract, authors, paper.Comments, paper.PDFURL, NullableTime(paper.PublishedAt), time.Now().UTC(), paper.ID)
	if err != nil {
		return fmt.Errorf("failed to update details of %s: %w", paper.ID, err)
	}

	return nil
}

// UpdateStagingAnalysis stores the public analysis of one staged paper.
func (r *PaperRepository) UpdateStagingAnalysis(ctx context.Context, paperID string, analysis *models.PaperAnalysis) error {
	value, err := JSONParam(analysis)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		r.dialect.Rebind("UPDATE staging_papers SET analysis = ?, updated_at = ? WHERE id = ?"),
		value, time.Now().UTC(), paperID)
	if err != nil {
		return fmt.Errorf("failed to update analysis of %s: %w", paperID, err)
	}

	return nil
}

// ArchiveStaging copies every staged paper into the permanent table.
func (r *PaperRepository) ArchiveStaging(ctx context.Context) (int, error) {
	query := `
		INSERT INTO papers (` + paperColumns + `)
		SELECT ` + paperColumns + ` FROM staging_papers WHERE true
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			authors = excluded.authors,
			abstract = excluded.abstract,
			categories = excluded.categories,
			primary_category = excluded.primary_category,
			url = excluded.url,
			pdf_url = excluded.pdf_url,
			comments = excluded.comments,
			announcement_date = excluded.announcement_date,
			published_at = excluded.published_at,
			analysis = excluded.analysis,
			updated_at = excluded.updated_at`

	result, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to archive staging papers: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count archived papers: %w", err)
	}

	return int(n), nil
}

// PapersByDate returns the archived papers announced on date.
func (r *PaperRepository) PapersByDate(ctx context.Context, date string) ([]*models.Paper, error) {
	return r.queryPapers(ctx, "SELECT "+paperColumns+" FROM papers WHERE announcement_date = ? ORDER BY id", date)
}

// PapersByIDs returns the archived papers with the given ids, in id order.
func (r *PaperRepository) PapersByIDs(ctx context.Context, ids []string) ([]*models.Paper, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	return r.queryPapers(ctx,
		"SELECT "+paperColumns+" FROM papers WHERE id IN ("+Placeholders(len(ids))+") ORDER BY id", args...)
}

// ActiveProfiles returns every active user profile.
func (r *PaperRepository) ActiveProfiles(ctx context.Context) ([]*models.UserProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		r.dialect.Rebind("SELECT "+profileColumns+" FROM user_profiles WHERE active = ? ORDER BY id"), true)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var profiles []*models.UserProfile

	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}

		profiles = append(profiles, profile)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

// Profile returns one user profile.
func (r *PaperRepository) Profile(ctx context.Context, userID string) (*models.UserProfile, error) {
	row := r.db.QueryRowContext(ctx,
		r.dialect.Rebind("SELECT "+profileColumns+" FROM user_profiles WHERE id = ?"), userID)

	profile, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", userID, persistence.ErrProfileNotFound)
		}

		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	return profile, nil
}

// SaveProfile inserts or replaces a user profile.
func (r *PaperRepository) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	categories, err := JSONParam(profile.Categories)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}

	profile.UpdatedAt = now

	query := r.dialect.Rebind(`
		INSERT INTO user_profiles (` + profileColumns + `)
		VALUES (` + Placeholders(10) + `)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			interests = excluded.interests,
			categories = excluded.categories,
			min_score = excluded.min_score,
			max_papers = excluded.max_papers,
			active = excluded.active,
			updated_at = excluded.updated_at`)

	_, err = r.db.ExecContext(ctx, query,
		profile.ID, profile.Email, profile.Name, profile.Interests, categories,
		profile.MinScore, profile.MaxPapers, profile.Active, profile.CreatedAt.UTC(), profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", profile.ID, err)
	}

	return nil
}

// FilterResults returns the stored decisions of userID for the given papers, keyed by paper id.
func (r *PaperRepository) FilterResults(ctx context.Context, userID string, paperIDs []string) (map[string]*models.FilterResult, error) {
	results := make(map[string]*models.FilterResult)
	if len(paperIDs) == 0 {
		return results, nil
	}

	args := make([]any, 0, len(paperIDs)+1)
	args = append(args, userID)

	for _, id := range paperIDs {
		args = append(args, id)
	}

	query := r.dialect.Rebind(`
		SELECT user_id, paper_id, status, score, reason, updated_at FROM filter_results
		WHERE user_id = ? AND paper_id IN (` + Placeholders(len(paperIDs)) + `)`)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query filter results: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var (
			result    models.FilterResult
			reason    sql.NullString
			updatedAt Time
		)

		if err := rows.Scan(&result.UserID, &result.PaperID, &result.Status, &result.Score, &reason, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan filter result: %w", err)
		}

		result.Reason = reason.String
		result.UpdatedAt = updatedAt.Time
		results[result.PaperID] = &result
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating filter results: %w", err)
	}

	return results, nil
}

// UpsertFilterResults writes all decisions in one transaction using multi-row inserts.
func (r *PaperRepository) UpsertFilterResults(ctx context.Context, results []*models.FilterResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	now := time.Now().UTC()

	for start := 0; start < len(results); start += filterBatchSize {
		chunk := results[start:min(start+filterBatchSize, len(results))]

		values := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)*6)

		for i, result := range chunk {
			values[i] = "(" + Placeholders(6) + ")"
			args = append(args, result.UserID, result.PaperID, result.Status, result.Score, result.Reason, now)
		}

		query := r.dialect.Rebind(`
			INSERT INTO filter_results (user_id, paper_id, status, score, reason, updated_at)
			VALUES ` + strings.Join(values, ", ") + `
			ON CONFLICT (user_id, paper_id) DO UPDATE SET
				status = excluded.status,
				score = excluded.score,
				reason = excluded.reason,
				updated_at = excluded.updated_at`)

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()

			return fmt.Errorf("failed to upsert filter results: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit filter results: %w", err)
	}

	return nil
}

// SaveReport inserts or replaces the report of (user, announcement date).
func (r *PaperRepository) SaveReport(ctx context.Context, report *models.Report) error {
	paperIDs, err := JSONParam(report.PaperIDs)
	if err != nil {
		return err
	}

	query := r.dialect.Rebind(`
		INSERT INTO reports (id, user_id, announcement_date, subject, body, paper_ids, created_at, sent_at)
		VALUES (` + Placeholders(8) + `)
		ON CONFLICT (user_id, announcement_date) DO UPDATE SET
			subject = excluded.subject,
			body = excluded.body,
			paper_ids = excluded.paper_ids,
			sent_at = excluded.sent_at`)

	_, err = r.db.ExecContext(ctx, query,
		report.ID, report.UserID, report.AnnouncementDate, report.Subject, report.Body, paperIDs,
		report.CreatedAt.UTC(), NullableTime(report.SentAt))
	if err != nil {
		return fmt.Errorf("failed to save report for %s: %w", report.UserID, err)
	}

	return nil
}

// ReportSent reports whether the digest of (user, date) was already delivered.
func (r *PaperRepository) ReportSent(ctx context.Context, userID, date string) (bool, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind("SELECT COUNT(*) FROM reports WHERE user_id = ? AND announcement_date = ? AND sent_at IS NOT NULL"),
		userID, date,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check report of %s: %w", userID, err)
	}

	return count > 0, nil
}

func (r *PaperRepository) queryPapers(ctx context.Context, query string, args ...any) ([]*models.Paper, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query papers: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var papers []*models.Paper

	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan paper: %w", err)
		}

		papers = append(papers, paper)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating papers: %w", err)
	}

	return papers, nil
}

func paperArgs(paper *models.Paper, now time.Time) ([]any, error) {
	authors, err := JSONParam(paper.Authors)
	if err != nil {
		return nil, err
	}

	categories, err := JSONParam(paper.Categories)
	if err != nil {
		return nil, err
	}

	var analysis any
	if paper.Analysis != nil {
		if analysis, err = JSONParam(paper.Analysis); err != nil {
			return nil, err
		}
	}

	createdAt := paper.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	return []any{
		paper.ID, paper.Title, authors, paper.Abstract, categories, paper.PrimaryCategory,
		paper.URL, paper.PDFURL, paper.Comments, paper.AnnouncementDate,
		NullableTime(paper.PublishedAt), analysis, createdAt.UTC(), now,
	}, nil
}

func scanPaper(s scanner) (*models.Paper, error) {
	var (
		paper                               models.Paper
		authors, categories, analysis       sql.NullString
		abstract, primary, pdfURL, comments sql.NullString
		publishedAt, createdAt, updatedAt   Time
	)

	err := s.Scan(
		&paper.ID,
		&paper.Title,
		&authors,
		&abstract,
		&categories,
		&primary,
		&paper.URL,
		&pdfURL,
		&comments,
		&paper.AnnouncementDate,
		&publishedAt,
		&analysis,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	paper.Abstract = abstract.String
	paper.PrimaryCategory = primary.String
	paper.PDFURL = pdfURL.String
	paper.Comments = comments.String
	paper.PublishedAt = publishedAt.Ptr()
	paper.CreatedAt = createdAt.Time
	paper.UpdatedAt = updatedAt.Time

	if err := DecodeJSON(authors, &paper.Authors); err != nil {
		return nil, err
	}

	if err := DecodeJSON(categories, &paper.Categories); err != nil {
		return nil, err
	}

	if analysis.Valid && analysis.String != "" && analysis.String != "null" {
		paper.Analysis = &models.PaperAnalysis{}
		if err := DecodeJSON(analysis, paper.Analysis); err != nil {
			return nil, err
		}
	}

	return &paper, nil
}

func scanProfile(s scanner) (*models.UserProfile, error) {
	var (
		profile              models.UserProfile
		name                 sql.NullString
		categories           sql.NullString
		createdAt, updatedAt Time
	)

	err := s.Scan(
		&profile.ID,
		&profile.Email,
		&name,
		&profile.Interests,
		&categories,
		&profile.MinScore,
		&profile.MaxPapers,
		&profile.Active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	profile.Name = name.String
	profile.CreatedAt = createdAt.Time
	profile.UpdatedAt = updatedAt.Time

	if err := DecodeJSON(categories, &profile.Categories); err != nil {
		return nil, err
	}

	return &profile, nil
}
