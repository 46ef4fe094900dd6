package models

import "time"

// UserProfile describes what a subscriber wants to read.
type UserProfile struct {
	ID         string    `json:"id" validate:"required"`
	Email      string    `json:"email" validate:"required,email"`
	Name       string    `json:"name,omitempty"`
	Interests  string    `json:"interests" validate:"required,min=3"`
	Categories []string  `json:"categories"`
	MinScore   float64   `json:"min_score" validate:"gte=0,lte=10"`
	MaxPapers  int       `json:"max_papers" validate:"gte=0"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FilterStatus records the per-user relevance decision for a paper.
// FilterStatusPending is the default marker meaning "not filtered yet".
type FilterStatus string

const (
	FilterStatusPending  FilterStatus = "pending"
	FilterStatusAccepted FilterStatus = "accepted"
	FilterStatusRejected FilterStatus = "rejected"
)

// IsDecided reports whether a filter call already produced this status.
func (s FilterStatus) IsDecided() bool {
	return s == FilterStatusAccepted || s == FilterStatusRejected
}

// FilterResult is one (user, paper) relevance decision.
type FilterResult struct {
	UserID    string       `json:"user_id"`
	PaperID   string       `json:"paper_id"`
	Status    FilterStatus `json:"status"`
	Score     float64      `json:"score"`
	Reason    string       `json:"reason,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}
