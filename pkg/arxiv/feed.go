package arxiv

import (
	"encoding/xml"
	"strings"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
)

// atomFeed is the subset of the export API's Atom response we read.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID              string         `xml:"id"`
	Title           string         `xml:"title"`
	Summary         string         `xml:"summary"`
	Published       string         `xml:"published"`
	Updated         string         `xml:"updated"`
	Comment         string         `xml:"http://arxiv.org/schemas/atom comment"`
	PrimaryCategory atomCategory   `xml:"http://arxiv.org/schemas/atom primary_category"`
	Authors         []atomAuthor   `xml:"author"`
	Links           []atomLink     `xml:"link"`
	Categories      []atomCategory `xml:"category"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// paperID turns "http://arxiv.org/abs/2401.01234v2" into "2401.01234".
func paperID(raw string) string {
	id := strings.TrimSpace(raw)
	if i := strings.LastIndex(id, "/abs/"); i >= 0 {
		id = id[i+len("/abs/"):]
	}

	if i := strings.LastIndex(id, "v"); i > 0 && allDigits(id[i+1:]) {
		id = id[:i]
	}

	return id
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// announcementDay is the UTC calendar day of an Atom timestamp.
func announcementDay(ts string) (string, *time.Time) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "", nil
	}

	t = t.UTC()

	return t.Format(time.DateOnly), &t
}

// toPaper maps an entry; withDetails controls whether abstract, comments and
// the PDF link are carried.
func (e atomEntry) toPaper(withDetails bool) *models.Paper {
	day, published := announcementDay(e.Published)

	paper := &models.Paper{
		ID:               paperID(e.ID),
		Title:            clean(e.Title),
		PrimaryCategory:  e.PrimaryCategory.Term,
		AnnouncementDate: day,
		URL:              strings.TrimSpace(e.ID),
	}

	for _, a := range e.Authors {
		paper.Authors = append(paper.Authors, clean(a.Name))
	}

	for _, c := range e.Categories {
		paper.Categories = append(paper.Categories, c.Term)
	}

	for _, l := range e.Links {
		switch {
		case l.Rel == "alternate":
			paper.URL = l.Href
		case withDetails && l.Title == "pdf":
			paper.PDFURL = l.Href
		}
	}

	if withDetails {
		paper.Abstract = clean(e.Summary)
		paper.Comments = clean(e.Comment)
		paper.PublishedAt = published
	}

	return paper
}
