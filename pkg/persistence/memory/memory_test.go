package memory_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/persistence/memory"
	"github.com/dukex/paperdigest/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistence_Conformance(t *testing.T) {
	persistencetest.Run(t, func(*testing.T) persistence.Persistence {
		return memory.NewPersistence()
	})
}

func TestPersistence_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	execution := persistencetest.NewExecution("daily_digest", map[string]any{"x": 1})
	require.NoError(t, store.CreateExecution(ctx, execution))

	execution.Metadata["x"] = 2

	got, _, err := store.ExecutionWithSteps(ctx, execution.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Metadata["x"])

	got.Metadata["x"] = 3
	got.Status = models.ExecutionStatusFailed

	again, _, err := store.ExecutionWithSteps(ctx, execution.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, again.Metadata["x"])
	assert.Equal(t, models.ExecutionStatusRunning, again.Status)
}

func TestPersistence_Snapshot(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	require.NoError(t, store.SetState(ctx, persistence.StateLastAnnouncement, "2026-10-15"))
	require.NoError(t, store.SaveProfile(ctx, persistencetest.NewProfile("ada")))

	_, err := store.UpsertStaging(ctx, []*models.Paper{persistencetest.NewPaper("2603.00001", "2026-10-15")})
	require.NoError(t, err)

	data, err := json.Marshal(store)
	require.NoError(t, err)

	restored := memory.NewPersistence()
	require.NoError(t, json.Unmarshal(data, restored))

	state, err := restored.State(ctx, persistence.StateLastAnnouncement)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-15", state)

	profile, err := restored.Profile(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", profile.Email)

	staged, err := restored.StagingPapers(ctx)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "Paper 2603.00001", staged[0].Title)

	// tables missing from the snapshot stay usable
	require.NoError(t, json.Unmarshal([]byte(`{}`), restored))
	require.NoError(t, restored.SetState(ctx, "k", "v"))
}
