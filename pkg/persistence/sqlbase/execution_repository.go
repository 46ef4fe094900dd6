package sqlbase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
)

const executionColumns = `id, workflow_type, status, total_steps, completed_steps, current_step,
	total_tokens_input, total_tokens_output, total_cost, metadata, error_message,
	created_at, updated_at, completed_at`

const stepColumns = `id, execution_id, step_name, step_order, status, retry_count, max_retries,
	duration_ms, tokens_input, tokens_output, cost, model_name, cache_hit_tokens, request_count,
	progress, metrics, error_message, error_stack, started_at, completed_at`

// ExecutionRepository persists workflow_executions and workflow_steps rows.
type ExecutionRepository struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, dialect Dialect, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, dialect: dialect, logger: logger}
}

// CreateExecution inserts a new execution row.
func (r *ExecutionRepository) CreateExecution(ctx context.Context, execution *models.Execution) error {
	metadata, err := JSONParam(execution.Metadata)
	if err != nil {
		return err
	}

	query := r.dialect.Rebind(`
		INSERT INTO workflow_executions (` + executionColumns + `)
		VALUES (` + Placeholders(14) + `)`)

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowType,
		execution.Status,
		execution.TotalSteps,
		execution.CompletedSteps,
		execution.CurrentStep,
		execution.TotalTokensInput,
		execution.TotalTokensOutput,
		execution.TotalCost,
		metadata,
		execution.ErrorMessage,
		execution.CreatedAt.UTC(),
		execution.UpdatedAt.UTC(),
		NullableTime(execution.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// CreateSteps inserts step records in one transaction.
func (r *ExecutionRepository) CreateSteps(ctx context.Context, steps []*models.StepRecord) error {
	if len(steps) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := r.dialect.Rebind(`
		INSERT INTO workflow_steps (id, execution_id, step_name, step_order, status, retry_count, max_retries)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	for _, step := range steps {
		_, err := tx.ExecContext(ctx, query,
			step.ID, step.ExecutionID, step.StepName, step.StepOrder, step.Status, step.RetryCount, step.MaxRetries)
		if err != nil {
			_ = tx.Rollback()

			return persistence.NewStepError("CreateSteps", step.ExecutionID, step.StepName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit step records: %w", err)
	}

	return nil
}

// StepID returns the id of the step record named stepName within an execution.
func (r *ExecutionRepository) StepID(ctx context.Context, executionID, stepName string) (string, error) {
	var id string

	err := r.db.QueryRowContext(ctx,
		r.dialect.Rebind("SELECT id FROM workflow_steps WHERE execution_id = ? AND step_name = ?"),
		executionID, stepName,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", persistence.NewStepError("StepID", executionID, stepName, persistence.ErrStepNotFound)
		}

		return "", fmt.Errorf("failed to query step id: %w", err)
	}

	return id, nil
}

// UpdateStep sets the status (when non-empty) and the given columns of a step record.
func (r *ExecutionRepository) UpdateStep(ctx context.Context, stepID string, status models.StepStatus, fields models.Fields) error {
	query, args, err := r.buildUpdate("workflow_steps", string(status), fields, models.StepFields, stepID)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update step %s: %w", stepID, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("step %s: %w", stepID, persistence.ErrStepNotFound)
	}

	return nil
}

// UpdateExecution sets the status (when non-empty) and the given columns of an execution.
func (r *ExecutionRepository) UpdateExecution(ctx context.Context, id string, status models.ExecutionStatus, fields models.Fields) error {
	query, args, err := r.buildUpdate("workflow_executions", string(status), fields, models.ExecutionFields, id)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistence.NewExecutionError("UpdateExecution", id, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return persistence.NewExecutionError("UpdateExecution", id, persistence.ErrExecutionNotFound)
	}

	return nil
}

// IncrementExecutionTotals adds to the aggregate token and cost counters in place.
func (r *ExecutionRepository) IncrementExecutionTotals(ctx context.Context, id string, tokensIn, tokensOut int64, cost float64) error {
	query := r.dialect.Rebind(`
		UPDATE workflow_executions SET
			total_tokens_input = total_tokens_input + ?,
			total_tokens_output = total_tokens_output + ?,
			total_cost = total_cost + ?,
			updated_at = ?
		WHERE id = ?`)

	result, err := r.db.ExecContext(ctx, query, tokensIn, tokensOut, cost, time.Now().UTC(), id)
	if err != nil {
		return persistence.NewExecutionError("IncrementExecutionTotals", id, err)
	}

	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return persistence.NewExecutionError("IncrementExecutionTotals", id, persistence.ErrExecutionNotFound)
	}

	return nil
}

// ExecutionWithSteps loads an execution and its step records in step order.
func (r *ExecutionRepository) ExecutionWithSteps(ctx context.Context, id string) (*models.Execution, []*models.StepRecord, error) {
	row := r.db.QueryRowContext(ctx,
		r.dialect.Rebind("SELECT "+executionColumns+" FROM workflow_executions WHERE id = ?"), id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, persistence.NewExecutionError("ExecutionWithSteps", id, persistence.ErrExecutionNotFound)
		}

		return nil, nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		r.dialect.Rebind("SELECT "+stepColumns+" FROM workflow_steps WHERE execution_id = ? ORDER BY step_order"), id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query step records: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var steps []*models.StepRecord

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan step record: %w", err)
		}

		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating step records: %w", err)
	}

	return execution, steps, nil
}

// ListExecutions returns the most recent executions first.
func (r *ExecutionRepository) ListExecutions(ctx context.Context, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		r.dialect.Rebind("SELECT "+executionColumns+" FROM workflow_executions ORDER BY created_at DESC LIMIT ?"), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var executions []*models.Execution

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// buildUpdate renders UPDATE table SET ... WHERE id = ? for whitelisted columns.
func (r *ExecutionRepository) buildUpdate(table, status string, fields models.Fields, allowed map[string]bool, id string) (string, []any, error) {
	var (
		sets []string
		args []any
	)

	if status != "" {
		sets = append(sets, "status = ?")
		args = append(args, status)
	}

	for _, name := range fields.Keys() {
		if !allowed[name] {
			return "", nil, fmt.Errorf("%s.%s: %w", table, name, persistence.ErrUnknownField)
		}

		value, err := columnValue(name, fields[name])
		if err != nil {
			return "", nil, err
		}

		sets = append(sets, name+" = ?")
		args = append(args, value)
	}

	if table == "workflow_executions" {
		sets = append(sets, "updated_at = ?")
		args = append(args, time.Now().UTC())
	}

	if len(sets) == 0 {
		return "", nil, fmt.Errorf("update of %s %s: nothing to set", table, id)
	}

	args = append(args, id)

	return r.dialect.Rebind("UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE id = ?"), args, nil
}

func columnValue(name string, value any) (any, error) {
	if models.JSONFields[name] {
		return JSONParam(value)
	}

	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		return NullableTime(v), nil
	default:
		return v, nil
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(s scanner) (*models.Execution, error) {
	var (
		execution            models.Execution
		currentStep, errMsg  sql.NullString
		metadata             sql.NullString
		createdAt, updatedAt Time
		completedAt          Time
	)

	err := s.Scan(
		&execution.ID,
		&execution.WorkflowType,
		&execution.Status,
		&execution.TotalSteps,
		&execution.CompletedSteps,
		&currentStep,
		&execution.TotalTokensInput,
		&execution.TotalTokensOutput,
		&execution.TotalCost,
		&metadata,
		&errMsg,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.CurrentStep = currentStep.String
	execution.ErrorMessage = errMsg.String
	execution.CreatedAt = createdAt.Time
	execution.UpdatedAt = updatedAt.Time
	execution.CompletedAt = completedAt.Ptr()
	execution.Metadata = make(map[string]any)

	if err := DecodeJSON(metadata, &execution.Metadata); err != nil {
		return nil, err
	}

	return &execution, nil
}

func scanStep(s scanner) (*models.StepRecord, error) {
	var (
		step                        models.StepRecord
		modelName, errMsg, errStack sql.NullString
		progress, metrics           sql.NullString
		startedAt, completedAt      Time
	)

	err := s.Scan(
		&step.ID,
		&step.ExecutionID,
		&step.StepName,
		&step.StepOrder,
		&step.Status,
		&step.RetryCount,
		&step.MaxRetries,
		&step.DurationMs,
		&step.TokensInput,
		&step.TokensOutput,
		&step.Cost,
		&modelName,
		&step.CacheHitTokens,
		&step.RequestCount,
		&progress,
		&metrics,
		&errMsg,
		&errStack,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	step.ModelName = modelName.String
	step.ErrorMessage = errMsg.String
	step.ErrorStack = errStack.String
	step.StartedAt = startedAt.Ptr()
	step.CompletedAt = completedAt.Ptr()

	if progress.Valid && progress.String != "" && progress.String != "null" {
		step.Progress = &models.Progress{}
		if err := DecodeJSON(progress, step.Progress); err != nil {
			return nil, err
		}
	}

	if err := DecodeJSON(metrics, &step.Metrics); err != nil {
		return nil, err
	}

	return &step, nil
}
