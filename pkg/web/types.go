// Package web serves the execution API: start, list, inspect and resume
// workflow runs.
package web

import (
	"time"

	"github.com/dukex/paperdigest/pkg/models"
)

// StartExecutionRequest starts a run. Context is merged under the typed
// fields, which win on conflict.
type StartExecutionRequest struct {
	WorkflowType     string         `json:"workflow_type"               validate:"required"`
	Context          map[string]any `json:"context,omitempty"`
	Force            bool           `json:"force,omitempty"`
	AnnouncementDate string         `json:"announcement_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	UserIDs          []string       `json:"user_ids,omitempty"          validate:"omitempty,dive,required"`
	Categories       []string       `json:"categories,omitempty"        validate:"omitempty,dive,required"`
}

// StartExecutionResponse is returned as soon as the execution row exists;
// the run continues in the background.
type StartExecutionResponse struct {
	ExecutionID  string `json:"execution_id"`
	WorkflowType string `json:"workflow_type,omitempty"`
	Status       string `json:"status"`
}

// ExecutionResponse is one execution with its ordered step records.
type ExecutionResponse struct {
	*models.Execution

	Steps   []*models.StepRecord `json:"steps"`
	Running bool                 `json:"running"`
	Summary string               `json:"summary,omitempty"`
}

// ListExecutionsResponse is a page of the most recent executions.
type ListExecutionsResponse struct {
	Executions []*models.Execution `json:"executions"`
	Limit      int                 `json:"limit"`
}

// ProfileRequest creates or replaces a subscriber profile.
type ProfileRequest struct {
	Email      string   `json:"email"      validate:"required,email"`
	Name       string   `json:"name"`
	Interests  string   `json:"interests"  validate:"required,min=3"`
	Categories []string `json:"categories"`
	MinScore   float64  `json:"min_score"  validate:"gte=0,lte=10"`
	MaxPapers  int      `json:"max_papers" validate:"gte=0"`
	Active     *bool    `json:"active"`
}

// HealthResponse reports the store's health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Running   int       `json:"running"`
	Timestamp time.Time `json:"timestamp"`
}
