package persistence

import (
	"context"

	"github.com/dukex/paperdigest/pkg/models"
)

// ExecutionRepository stores workflow executions and their step records.
//
// UpdateStep and UpdateExecution change the status only when it is non-empty,
// and reject columns outside models.StepFields / models.ExecutionFields with
// ErrUnknownField.
type ExecutionRepository interface {
	CreateExecution(ctx context.Context, execution *models.Execution) error
	CreateSteps(ctx context.Context, steps []*models.StepRecord) error
	StepID(ctx context.Context, executionID, stepName string) (string, error)
	UpdateStep(ctx context.Context, stepID string, status models.StepStatus, fields models.Fields) error
	UpdateExecution(ctx context.Context, id string, status models.ExecutionStatus, fields models.Fields) error

	// IncrementExecutionTotals adds to the aggregate counters in a single
	// statement, so concurrent writers never lose an update.
	IncrementExecutionTotals(ctx context.Context, id string, tokensIn, tokensOut int64, cost float64) error

	// ExecutionWithSteps returns ErrExecutionNotFound when id is unknown.
	ExecutionWithSteps(ctx context.Context, id string) (*models.Execution, []*models.StepRecord, error)
	ListExecutions(ctx context.Context, limit int) ([]*models.Execution, error)
}

// PaperRepository stores the digest domain data the steps work on.
type PaperRepository interface {
	State(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	ClearStaging(ctx context.Context) error
	UpsertStaging(ctx context.Context, papers []*models.Paper) (int, error)
	StagingPapers(ctx context.Context) ([]*models.Paper, error)
	UpdateStagingDetails(ctx context.Context, paper *models.Paper) error
	UpdateStagingAnalysis(ctx context.Context, paperID string, analysis *models.PaperAnalysis) error
	ArchiveStaging(ctx context.Context) (int, error)

	PapersByDate(ctx context.Context, date string) ([]*models.Paper, error)
	PapersByIDs(ctx context.Context, ids []string) ([]*models.Paper, error)

	ActiveProfiles(ctx context.Context) ([]*models.UserProfile, error)
	Profile(ctx context.Context, userID string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, profile *models.UserProfile) error

	FilterResults(ctx context.Context, userID string, paperIDs []string) (map[string]*models.FilterResult, error)
	UpsertFilterResults(ctx context.Context, results []*models.FilterResult) error

	SaveReport(ctx context.Context, report *models.Report) error
	ReportSent(ctx context.Context, userID, date string) (bool, error)
}

// Persistence is a complete store backend.
type Persistence interface {
	ExecutionRepository
	PaperRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// State keys used by the pipeline.
const (
	StateLastAnnouncement = "last_announcement"
)
