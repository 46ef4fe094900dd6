package arxiv

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/paperdigest/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(id, published, title string) string {
	return fmt.Sprintf(`<entry>
    <id>http://arxiv.org/abs/%[1]sv1</id>
    <updated>%[2]s</updated>
    <published>%[2]s</published>
    <title>%[3]s</title>
    <summary>  Abstract of
      %[3]s.  </summary>
    <author><name>Ada Lovelace</name></author>
    <author><name>Alan Turing</name></author>
    <arxiv:comment xmlns:arxiv="http://arxiv.org/schemas/atom">12 pages</arxiv:comment>
    <link href="http://arxiv.org/abs/%[1]sv1" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/%[1]sv1" rel="related" type="application/pdf"/>
    <arxiv:primary_category xmlns:arxiv="http://arxiv.org/schemas/atom" term="cs.AI" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.AI" scheme="http://arxiv.org/schemas/atom"/>
    <category term="cs.LG" scheme="http://arxiv.org/schemas/atom"/>
  </entry>`, id, published, title)
}

func feed(entries ...string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>arXiv Query</title>
  ` + strings.Join(entries, "\n") + `
</feed>`
}

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(log.Discard(), append([]Option{WithBaseURL(server.URL), WithInterval(0)}, opts...)...)
}

func TestLatestAnnouncement(t *testing.T) {
	var query string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("search_query")
		_, _ = w.Write([]byte(feed(entry("2401.00003", "2024-01-03T18:00:00Z", "Newest"))))
	})

	day, err := client.LatestAnnouncement(context.Background(), []string{"cs.AI", "cs.CL"})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03", day)
	assert.Equal(t, "cat:cs.AI OR cat:cs.CL", query)
}

func TestLatestAnnouncement_EmptyFeed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feed()))
	})

	_, err := client.LatestAnnouncement(context.Background(), []string{"cs.AI"})
	require.Error(t, err)
}

func TestListNew_PagesUntilOlderEntries(t *testing.T) {
	var requests atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		switch r.URL.Query().Get("start") {
		case "0":
			_, _ = w.Write([]byte(feed(
				entry("2401.00003", "2024-01-03T18:00:00Z", "Three"),
				entry("2401.00002", "2024-01-03T10:00:00Z", "Two"),
			)))
		case "2":
			_, _ = w.Write([]byte(feed(
				entry("2401.00002", "2024-01-03T10:00:00Z", "Two again"),
				entry("2401.00001", "2024-01-02T10:00:00Z", "One"),
			)))
		default:
			t.Errorf("unexpected page %s", r.URL.RawQuery)
		}
	}, WithPageSize(2))

	papers, err := client.ListNew(context.Background(), []string{"cs.AI"}, "2024-01-03")
	require.NoError(t, err)
	require.Len(t, papers, 2)
	assert.EqualValues(t, 2, requests.Load())

	assert.Equal(t, "2401.00003", papers[0].ID)
	assert.Equal(t, "Three", papers[0].Title)
	assert.Equal(t, []string{"Ada Lovelace", "Alan Turing"}, papers[0].Authors)
	assert.Equal(t, []string{"cs.AI", "cs.LG"}, papers[0].Categories)
	assert.Equal(t, "cs.AI", papers[0].PrimaryCategory)
	assert.Equal(t, "2024-01-03", papers[0].AnnouncementDate)
	assert.Empty(t, papers[0].Abstract)
	assert.False(t, papers[0].HasDetails())
}

func TestFetchDetails(t *testing.T) {
	var idList string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		idList = r.URL.Query().Get("id_list")
		_, _ = w.Write([]byte(feed(
			entry("2401.00003", "2024-01-03T18:00:00Z", "Three"),
			`<entry><id>http://arxiv.org/api/errors#bad</id><title>Error</title><summary>incorrect id format</summary></entry>`,
		)))
	})

	papers, err := client.FetchDetails(context.Background(), []string{"2401.00003", "bad"})
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "2401.00003,bad", idList)

	paper := papers[0]
	assert.Equal(t, "Abstract of Three.", paper.Abstract)
	assert.Equal(t, "12 pages", paper.Comments)
	assert.Equal(t, "http://arxiv.org/pdf/2401.00003v1", paper.PDFURL)
	assert.Equal(t, "http://arxiv.org/abs/2401.00003v1", paper.URL)
	require.NotNil(t, paper.PublishedAt)
	assert.Equal(t, time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC), *paper.PublishedAt)
	assert.True(t, paper.HasDetails())
}

func TestFetchDetails_ChunksIDs(t *testing.T) {
	var requests atomic.Int32

	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		_, _ = w.Write([]byte(feed()))
	})

	ids := make([]string, maxIDsPerQuery+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("2401.%05d", i)
	}

	_, err := client.FetchDetails(context.Background(), ids)
	require.NoError(t, err)
	assert.EqualValues(t, 2, requests.Load())
}

func TestQuery_HTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusServiceUnavailable)
	})

	_, err := client.LatestAnnouncement(context.Background(), []string{"cs.AI"})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Equal(t, "slow down", httpErr.Message)
}

func TestQuery_RateLimiterHonoursContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feed(entry("2401.00003", "2024-01-03T18:00:00Z", "Three"))))
	}, WithInterval(time.Hour))

	_, err := client.LatestAnnouncement(context.Background(), []string{"cs.AI"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.LatestAnnouncement(ctx, []string{"cs.AI"})
	require.Error(t, err)
}

func TestPaperID(t *testing.T) {
	assert.Equal(t, "2401.01234", paperID("http://arxiv.org/abs/2401.01234v2"))
	assert.Equal(t, "hep-th/9901001", paperID("http://arxiv.org/abs/hep-th/9901001v1"))
	assert.Equal(t, "2401.01234", paperID("2401.01234"))
}
