// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/google/uuid"
)

// CreateTestPaper creates a staged paper with default values that can be overridden.
func CreateTestPaper(overrides ...func(*models.Paper)) *models.Paper {
	id := "2603.00001"

	paper := &models.Paper{
		ID:               id,
		Title:            "Paper " + id,
		Authors:          []string{"Ada", "Grace"},
		Categories:       []string{"cs.AI", "cs.LG"},
		PrimaryCategory:  "cs.AI",
		URL:              "https://arxiv.org/abs/" + id,
		AnnouncementDate: "2026-10-15",
	}

	for _, override := range overrides {
		override(paper)
	}

	return paper
}

// WithPaperID sets the arXiv id together with the title and URL derived from it.
func WithPaperID(id string) func(*models.Paper) {
	return func(p *models.Paper) {
		p.ID = id
		p.Title = "Paper " + id
		p.URL = "https://arxiv.org/abs/" + id
	}
}

// WithAnnouncementDate sets the announcement date.
func WithAnnouncementDate(date string) func(*models.Paper) {
	return func(p *models.Paper) {
		p.AnnouncementDate = date
	}
}

// WithCategories sets the categories; the first one becomes the primary.
func WithCategories(categories ...string) func(*models.Paper) {
	return func(p *models.Paper) {
		p.Categories = categories
		if len(categories) > 0 {
			p.PrimaryCategory = categories[0]
		}
	}
}

// CreateTestProfile creates an active profile with default values that can be overridden.
func CreateTestProfile(id string, overrides ...func(*models.UserProfile)) *models.UserProfile {
	profile := &models.UserProfile{
		ID:         id,
		Email:      id + "@example.com",
		Name:       "User " + id,
		Interests:  "retrieval augmented generation",
		Categories: []string{"cs.CL"},
		MinScore:   6,
		MaxPapers:  10,
		Active:     true,
	}

	for _, override := range overrides {
		override(profile)
	}

	return profile
}

// WithInactive disables the profile.
func WithInactive() func(*models.UserProfile) {
	return func(p *models.UserProfile) {
		p.Active = false
	}
}

// CreateTestExecution creates a running execution ready to be inserted.
func CreateTestExecution(workflowType string, overrides ...func(*models.Execution)) *models.Execution {
	now := time.Now().UTC().Truncate(time.Millisecond)

	execution := &models.Execution{
		ID:           uuid.NewString(),
		WorkflowType: workflowType,
		Status:       models.ExecutionStatusRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for _, override := range overrides {
		override(execution)
	}

	return execution
}

// WithMetadata sets the execution metadata.
func WithMetadata(metadata map[string]any) func(*models.Execution) {
	return func(e *models.Execution) {
		e.Metadata = metadata
	}
}

// CreateTestSteps creates pending step records, in order, for executionID.
func CreateTestSteps(executionID string, names ...string) []*models.StepRecord {
	steps := make([]*models.StepRecord, len(names))
	for i, name := range names {
		steps[i] = &models.StepRecord{
			ID:          uuid.NewString(),
			ExecutionID: executionID,
			StepName:    name,
			StepOrder:   i,
			Status:      models.StepStatusPending,
			MaxRetries:  2,
		}
	}

	return steps
}
