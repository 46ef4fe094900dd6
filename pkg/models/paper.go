package models

import "time"

// Paper is one preprint, either in the staging table of the current run or in
// the permanent archive.
type Paper struct {
	ID               string         `json:"id" validate:"required"`
	Title            string         `json:"title" validate:"required"`
	Authors          []string       `json:"authors"`
	Abstract         string         `json:"abstract,omitempty"`
	Categories       []string       `json:"categories"`
	PrimaryCategory  string         `json:"primary_category,omitempty"`
	URL              string         `json:"url"`
	PDFURL           string         `json:"pdf_url,omitempty"`
	Comments         string         `json:"comments,omitempty"`
	AnnouncementDate string         `json:"announcement_date"`
	PublishedAt      *time.Time     `json:"published_at,omitempty"`
	Analysis         *PaperAnalysis `json:"analysis,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// HasDetails reports whether the detail fetch already filled the abstract.
func (p *Paper) HasDetails() bool {
	return p.Abstract != ""
}

// PaperAnalysis is the user-independent summary produced by the public analysis step.
type PaperAnalysis struct {
	Summary      string   `json:"summary"`
	Keywords     []string `json:"keywords"`
	Contribution string   `json:"contribution,omitempty"`
	Methodology  string   `json:"methodology,omitempty"`
	Model        string   `json:"model,omitempty"`
}
