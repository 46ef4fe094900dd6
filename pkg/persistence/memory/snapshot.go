package memory

import (
	"encoding/json"
	"fmt"

	"github.com/dukex/paperdigest/pkg/models"
)

type snapshot struct {
	Executions map[string]*models.Execution               `json:"executions"`
	Steps      map[string]*models.StepRecord              `json:"steps"`
	State      map[string]string                          `json:"state"`
	Staging    map[string]*models.Paper                   `json:"staging"`
	Papers     map[string]*models.Paper                   `json:"papers"`
	Profiles   map[string]*models.UserProfile             `json:"profiles"`
	Filters    map[string]map[string]*models.FilterResult `json:"filters"`
	Reports    map[string]*models.Report                  `json:"reports"`
}

// MarshalJSON encodes every table, so a store can be written to disk and
// restored with UnmarshalJSON.
func (p *Persistence) MarshalJSON() ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return json.Marshal(snapshot{
		Executions: p.executions,
		Steps:      p.steps,
		State:      p.state,
		Staging:    p.staging,
		Papers:     p.papers,
		Profiles:   p.profiles,
		Filters:    p.filters,
		Reports:    p.reports,
	})
}

// UnmarshalJSON replaces the content of the store with a snapshot.
func (p *Persistence) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}

	fresh := NewPersistence()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.executions = orEmpty(s.Executions, fresh.executions)
	p.steps = orEmpty(s.Steps, fresh.steps)
	p.state = orEmpty(s.State, fresh.state)
	p.staging = orEmpty(s.Staging, fresh.staging)
	p.papers = orEmpty(s.Papers, fresh.papers)
	p.profiles = orEmpty(s.Profiles, fresh.profiles)
	p.filters = orEmpty(s.Filters, fresh.filters)
	p.reports = orEmpty(s.Reports, fresh.reports)

	return nil
}

func orEmpty[V any](m, empty map[string]V) map[string]V {
	if m == nil {
		return empty
	}

	return m
}
