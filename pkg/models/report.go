package models

import "time"

// Report is the digest produced for one user and one announcement date.
type Report struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	AnnouncementDate string     `json:"announcement_date"`
	Subject          string     `json:"subject"`
	Body             string     `json:"body"`
	PaperIDs         []string   `json:"paper_ids"`
	CreatedAt        time.Time  `json:"created_at"`
	SentAt           *time.Time `json:"sent_at,omitempty"`
}
