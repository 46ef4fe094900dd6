// Package arxiv reads new submissions from the arXiv export API.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://export.arxiv.org/api/query"

	// DefaultInterval is the request spacing arXiv asks API clients to keep.
	DefaultInterval = 3 * time.Second

	defaultPageSize = 200
	maxIDsPerQuery  = 50
)

// HTTPError is a non-2xx answer from the API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Source lists and details papers. Safe for concurrent use; all requests
// share one rate limiter.
type Source interface {
	// LatestAnnouncement returns the most recent announcement day (YYYY-MM-DD)
	// across categories.
	LatestAnnouncement(ctx context.Context, categories []string) (string, error)
	// ListNew returns the listing of papers announced on date. Listings carry
	// identity, title, authors and categories only.
	ListNew(ctx context.Context, categories []string, date string) ([]*models.Paper, error)
	// FetchDetails returns full records for ids; unknown ids are omitted.
	FetchDetails(ctx context.Context, ids []string) ([]*models.Paper, error)
}

type Option func(*Client)

func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithInterval sets the minimum spacing between requests; zero disables limiting.
func WithInterval(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)

			return
		}

		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithPageSize(n int) Option { return func(c *Client) { c.pageSize = n } }

type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
	logger   *slog.Logger
}

func NewClient(logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		http:     &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(DefaultInterval), 1),
		pageSize: defaultPageSize,
		logger:   logger.With("module", "arxiv"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) LatestAnnouncement(ctx context.Context, categories []string) (string, error) {
	feed, err := c.query(ctx, url.Values{
		"search_query": {categoryQuery(categories)},
		"sortBy":       {"submittedDate"},
		"sortOrder":    {"descending"},
		"start":        {"0"},
		"max_results":  {"1"},
	})
	if err != nil {
		return "", err
	}

	if len(feed.Entries) == 0 {
		return "", fmt.Errorf("no submissions found for %s", strings.Join(categories, ","))
	}

	day, _ := announcementDay(feed.Entries[0].Published)
	if day == "" {
		return "", fmt.Errorf("unparseable published date %q", feed.Entries[0].Published)
	}

	return day, nil
}

// ListNew pages through submissions newest first and stops at the first
// entry older than date.
func (c *Client) ListNew(ctx context.Context, categories []string, date string) ([]*models.Paper, error) {
	var papers []*models.Paper

	seen := make(map[string]bool)

	for start := 0; ; start += c.pageSize {
		feed, err := c.query(ctx, url.Values{
			"search_query": {categoryQuery(categories)},
			"sortBy":       {"submittedDate"},
			"sortOrder":    {"descending"},
			"start":        {strconv.Itoa(start)},
			"max_results":  {strconv.Itoa(c.pageSize)},
		})
		if err != nil {
			return nil, err
		}

		older := false

		for _, entry := range feed.Entries {
			paper := entry.toPaper(false)

			switch {
			case paper.AnnouncementDate == date && !seen[paper.ID]:
				seen[paper.ID] = true
				papers = append(papers, paper)
			case paper.AnnouncementDate != "" && paper.AnnouncementDate < date:
				older = true
			}
		}

		if older || len(feed.Entries) < c.pageSize {
			break
		}
	}

	c.logger.InfoContext(ctx, "Listed new papers", "date", date, "count", len(papers))

	return papers, nil
}

func (c *Client) FetchDetails(ctx context.Context, ids []string) ([]*models.Paper, error) {
	papers := make([]*models.Paper, 0, len(ids))

	for chunk := range slices.Chunk(ids, maxIDsPerQuery) {
		feed, err := c.query(ctx, url.Values{
			"id_list":     {strings.Join(chunk, ",")},
			"max_results": {strconv.Itoa(len(chunk))},
		})
		if err != nil {
			return nil, err
		}

		for _, entry := range feed.Entries {
			// The API answers unknown ids with an error entry that has no title.
			if strings.TrimSpace(entry.Title) == "" || strings.TrimSpace(entry.Title) == "Error" {
				continue
			}

			papers = append(papers, entry.toPaper(true))
		}
	}

	return papers, nil
}

func (c *Client) query(ctx context.Context, params url.Values) (*atomFeed, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WarnContext(ctx, "Failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}

	return &feed, nil
}

func categoryQuery(categories []string) string {
	terms := make([]string, len(categories))
	for i, cat := range categories {
		terms[i] = "cat:" + cat
	}

	return strings.Join(terms, " OR ")
}
