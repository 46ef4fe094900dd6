package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 20, cfg.AnalysisBatchSize)
	assert.Equal(t, 60*time.Second, cfg.AnalysisBatchDelay)
	assert.Equal(t, 3, cfg.FilterAttempts)
	assert.Equal(t, 2*time.Second, cfg.FilterBackoff)
	assert.Equal(t, 2*time.Second, cfg.RetryBaseDelay)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paperdigest.yaml")

	err := os.WriteFile(path, []byte(`
categories: [cs.CL]
analysis_batch_delay: 5s
filter_workers: 2
profiles:
  - id: ada
    email: ada@example.com
    interests: language model evaluation
    min_score: 7
  - id: alan
    email: alan@example.com
    interests: computability
    disabled: true
`), 0o600)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"cs.CL"}, cfg.Categories)
	assert.Equal(t, 5*time.Second, cfg.AnalysisBatchDelay)
	assert.Equal(t, 2, cfg.FilterWorkers)
	assert.Equal(t, 20, cfg.AnalysisBatchSize)
	require.Len(t, cfg.Profiles, 2)

	ada := cfg.Profiles[0].Profile()
	assert.Equal(t, "ada@example.com", ada.Email)
	assert.InDelta(t, 7, ada.MinScore, 1e-9)
	assert.True(t, ada.Active)
	assert.False(t, cfg.Profiles[1].Profile().Active)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":      "categories: [",
		"bad email":     "profiles: [{id: a, email: nope, interests: things}]",
		"duplicate ids": "profiles: [{id: a, email: a@example.com, interests: abc}, {id: a, email: b@example.com, interests: abc}]",
		"zero batch":    "analysis_batch_size: 0",
		"no categories": "categories: []",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

			_, err := Load(path)
			require.Error(t, err)
		})
	}
}
