package services

import (
	"testing"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence/file"
	"github.com/dukex/paperdigest/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecution_ListExecutions(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	service := NewExecution(store)

	base := time.Date(2026, 10, 15, 6, 0, 0, 0, time.UTC)

	for i, id := range []string{"exec-1", "exec-2", "exec-3"} {
		require.NoError(t, store.CreateExecution(t.Context(), testutil.CreateTestExecution("daily_digest", func(e *models.Execution) {
			e.ID = id
			e.CreatedAt = base.Add(time.Duration(i) * time.Hour)
			e.UpdatedAt = e.CreatedAt
		})))
	}

	executions, err := service.ListExecutions(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, executions, 2)
	assert.Equal(t, "exec-3", executions[0].ID)
	assert.Equal(t, "exec-2", executions[1].ID)
}

func TestExecution_ListExecutions_Empty(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	executions, err := NewExecution(store).ListExecutions(t.Context(), DefaultListLimit)
	require.NoError(t, err)
	assert.NotNil(t, executions)
	assert.Empty(t, executions)
}

func TestExecution_ListExecutions_InvalidLimit(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	service := NewExecution(store)

	for _, limit := range []int{0, -1, MaxListLimit + 1} {
		_, err := service.ListExecutions(t.Context(), limit)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidLimit)
		assert.True(t, IsValidationError(err))
	}
}

func TestExecution_GetExecution(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	service := NewExecution(store)

	execution := testutil.CreateTestExecution("daily_digest", func(e *models.Execution) { e.TotalSteps = 2 })
	require.NoError(t, store.CreateExecution(t.Context(), execution))
	require.NoError(t, store.CreateSteps(t.Context(), testutil.CreateTestSteps(execution.ID, "paper_crawl", "paper_analysis")))

	details, err := service.GetExecution(t.Context(), execution.ID, false)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, details.Execution.ID)
	require.Len(t, details.Steps, 2)
	assert.Equal(t, "paper_crawl", details.Steps[0].StepName)
	assert.Equal(t, "paper_analysis", details.Steps[1].StepName)
	assert.Empty(t, details.Summary)

	details, err = service.GetExecution(t.Context(), execution.ID, true)
	require.NoError(t, err)
	assert.Contains(t, details.Summary, "paper_analysis")
}

func TestExecution_GetExecution_Errors(t *testing.T) {
	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	service := NewExecution(store)

	_, err = service.GetExecution(t.Context(), "", false)
	assert.ErrorIs(t, err, ErrEmptyID)
	assert.True(t, IsValidationError(err))

	_, err = service.GetExecution(t.Context(), "missing", false)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	assert.False(t, IsValidationError(err))
}
