package services

import (
	"context"
	"fmt"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/workflow"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

type Execution struct {
	persistence persistence.ExecutionRepository
}

// NewExecution creates the execution read service.
func NewExecution(persistence persistence.ExecutionRepository) *Execution {
	return &Execution{persistence: persistence}
}

// ListExecutions returns the most recent executions, newest first.
func (s *Execution) ListExecutions(ctx context.Context, limit int) ([]*models.Execution, error) {
	if limit < 1 || limit > MaxListLimit {
		return nil, NewValidationError(
			"ListExecutions",
			"INVALID_LIMIT",
			fmt.Sprintf("limit must be an integer between 1 and %d", MaxListLimit),
			ErrInvalidLimit,
		)
	}

	executions, err := s.persistence.ListExecutions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	if executions == nil {
		executions = []*models.Execution{}
	}

	return executions, nil
}

// ExecutionDetails is one execution with its step records in definition order.
type ExecutionDetails struct {
	Execution *models.Execution
	Steps     []*models.StepRecord
	Summary   string
}

// GetExecution loads one execution. The human-readable summary is rendered
// only when withSummary is set.
func (s *Execution) GetExecution(ctx context.Context, id string, withSummary bool) (*ExecutionDetails, error) {
	if id == "" {
		return nil, NewValidationError("GetExecution", "EMPTY_ID", "execution id is required", ErrEmptyID)
	}

	execution, steps, err := s.persistence.ExecutionWithSteps(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &ExecutionDetails{Execution: execution, Steps: steps}

	if withSummary {
		details.Summary = workflow.Summary(execution, steps)
	}

	return details, nil
}
