// Package file provides a file-based persistence implementation: the
// in-memory store, written to a JSON document after every change.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/persistence/memory"
)

const dataFile = "paperdigest.json"

// ErrCorrupt is returned by NewPersistence when the data file cannot be decoded.
var ErrCorrupt = errors.New("corrupt data file")

// Persistence serves reads from memory and rewrites root/paperdigest.json
// on every successful write. It suits one process at a time.
type Persistence struct {
	*memory.Persistence

	root string
	mu   sync.Mutex
}

// NewPersistence opens the store kept under root, creating the directory
// when needed. root may carry a file:// prefix.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(cleanRoot, 0750); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fp := &Persistence{Persistence: memory.NewPersistence(), root: cleanRoot}

	body, err := os.ReadFile(fp.path())
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", fp.path(), err)
	}

	if len(body) > 0 {
		if err := json.Unmarshal(body, fp.Persistence); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}

	return fp, nil
}

func (fp *Persistence) path() string {
	return filepath.Join(fp.root, dataFile)
}

// HealthCheck verifies the root directory still exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Close(_ context.Context) error {
	return fp.flush()
}

// flush writes the snapshot to a temporary file and renames it over the
// data file, so a crash never leaves a truncated document behind.
func (fp *Persistence) flush() error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	data, err := json.MarshalIndent(fp.Persistence, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	tmp := fp.path() + ".tmp"

	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	return os.Rename(tmp, fp.path())
}

// persist runs a write against memory and flushes it when it succeeded.
func (fp *Persistence) persist(err error) error {
	if err != nil {
		return err
	}

	return fp.flush()
}

func (fp *Persistence) CreateExecution(ctx context.Context, execution *models.Execution) error {
	return fp.persist(fp.Persistence.CreateExecution(ctx, execution))
}

func (fp *Persistence) CreateSteps(ctx context.Context, steps []*models.StepRecord) error {
	return fp.persist(fp.Persistence.CreateSteps(ctx, steps))
}

func (fp *Persistence) UpdateStep(ctx context.Context, stepID string, status models.StepStatus, fields models.Fields) error {
	return fp.persist(fp.Persistence.UpdateStep(ctx, stepID, status, fields))
}

func (fp *Persistence) UpdateExecution(ctx context.Context, id string, status models.ExecutionStatus, fields models.Fields) error {
	return fp.persist(fp.Persistence.UpdateExecution(ctx, id, status, fields))
}

func (fp *Persistence) IncrementExecutionTotals(ctx context.Context, id string, tokensIn, tokensOut int64, cost float64) error {
	return fp.persist(fp.Persistence.IncrementExecutionTotals(ctx, id, tokensIn, tokensOut, cost))
}

func (fp *Persistence) SetState(ctx context.Context, key, value string) error {
	return fp.persist(fp.Persistence.SetState(ctx, key, value))
}

func (fp *Persistence) ClearStaging(ctx context.Context) error {
	return fp.persist(fp.Persistence.ClearStaging(ctx))
}

func (fp *Persistence) UpsertStaging(ctx context.Context, papers []*models.Paper) (int, error) {
	n, err := fp.Persistence.UpsertStaging(ctx, papers)

	return n, fp.persist(err)
}

func (fp *Persistence) UpdateStagingDetails(ctx context.Context, paper *models.Paper) error {
	return fp.persist(fp.Persistence.UpdateStagingDetails(ctx, paper))
}

func (fp *Persistence) UpdateStagingAnalysis(ctx context.Context, paperID string, analysis *models.PaperAnalysis) error {
	return fp.persist(fp.Persistence.UpdateStagingAnalysis(ctx, paperID, analysis))
}

func (fp *Persistence) ArchiveStaging(ctx context.Context) (int, error) {
	n, err := fp.Persistence.ArchiveStaging(ctx)

	return n, fp.persist(err)
}

func (fp *Persistence) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	return fp.persist(fp.Persistence.SaveProfile(ctx, profile))
}

func (fp *Persistence) UpsertFilterResults(ctx context.Context, results []*models.FilterResult) error {
	return fp.persist(fp.Persistence.UpsertFilterResults(ctx, results))
}

func (fp *Persistence) SaveReport(ctx context.Context, report *models.Report) error {
	return fp.persist(fp.Persistence.SaveReport(ctx, report))
}

var _ persistence.Persistence = (*Persistence)(nil)
