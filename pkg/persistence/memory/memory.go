// Package memory provides an in-process persistence implementation used by
// tests and single-shot CLI runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
)

// Persistence keeps every table in maps guarded by one mutex. Values are
// copied on the way in and out, and JSON columns are round-tripped through
// encoding/json so callers observe the same types a SQL store returns.
type Persistence struct {
	mu sync.RWMutex

	executions map[string]*models.Execution
	steps      map[string]*models.StepRecord
	state      map[string]string
	staging    map[string]*models.Paper
	papers     map[string]*models.Paper
	profiles   map[string]*models.UserProfile
	filters    map[string]map[string]*models.FilterResult
	reports    map[string]*models.Report
}

// NewPersistence returns an empty store.
func NewPersistence() *Persistence {
	return &Persistence{
		executions: make(map[string]*models.Execution),
		steps:      make(map[string]*models.StepRecord),
		state:      make(map[string]string),
		staging:    make(map[string]*models.Paper),
		papers:     make(map[string]*models.Paper),
		profiles:   make(map[string]*models.UserProfile),
		filters:    make(map[string]map[string]*models.FilterResult),
		reports:    make(map[string]*models.Report),
	}
}

func (p *Persistence) HealthCheck(_ context.Context) error { return nil }

func (p *Persistence) Close(_ context.Context) error { return nil }

func (p *Persistence) CreateExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.executions[execution.ID]; ok {
		return fmt.Errorf("execution %s already exists", execution.ID)
	}

	stored := *execution

	metadata, err := roundTrip(execution.Metadata)
	if err != nil {
		return err
	}

	stored.Metadata = metadata
	p.executions[execution.ID] = &stored

	return nil
}

func (p *Persistence) CreateSteps(_ context.Context, steps []*models.StepRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, step := range steps {
		if _, ok := p.executions[step.ExecutionID]; !ok {
			return persistence.NewStepError("CreateSteps", step.ExecutionID, step.StepName, persistence.ErrExecutionNotFound)
		}

		for _, existing := range p.steps {
			if existing.ExecutionID == step.ExecutionID && existing.StepName == step.StepName {
				return fmt.Errorf("step %s of execution %s already exists", step.StepName, step.ExecutionID)
			}
		}
	}

	for _, step := range steps {
		stored := *step
		p.steps[step.ID] = &stored
	}

	return nil
}

func (p *Persistence) StepID(_ context.Context, executionID, stepName string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for id, step := range p.steps {
		if step.ExecutionID == executionID && step.StepName == stepName {
			return id, nil
		}
	}

	return "", persistence.NewStepError("StepID", executionID, stepName, persistence.ErrStepNotFound)
}

func (p *Persistence) UpdateStep(_ context.Context, stepID string, status models.StepStatus, fields models.Fields) error {
	for _, name := range fields.Keys() {
		if !models.StepFields[name] {
			return fmt.Errorf("workflow_steps.%s: %w", name, persistence.ErrUnknownField)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	step, ok := p.steps[stepID]
	if !ok {
		return fmt.Errorf("step %s: %w", stepID, persistence.ErrStepNotFound)
	}

	updated := *step
	if status != "" {
		updated.Status = status
	}

	if err := applyStepFields(&updated, fields); err != nil {
		return err
	}

	p.steps[stepID] = &updated

	return nil
}

func (p *Persistence) UpdateExecution(_ context.Context, id string, status models.ExecutionStatus, fields models.Fields) error {
	for _, name := range fields.Keys() {
		if !models.ExecutionFields[name] {
			return fmt.Errorf("workflow_executions.%s: %w", name, persistence.ErrUnknownField)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	execution, ok := p.executions[id]
	if !ok {
		return persistence.NewExecutionError("UpdateExecution", id, persistence.ErrExecutionNotFound)
	}

	updated := *execution
	if status != "" {
		updated.Status = status
	}

	if err := applyExecutionFields(&updated, fields); err != nil {
		return err
	}

	updated.UpdatedAt = time.Now().UTC()
	p.executions[id] = &updated

	return nil
}

func (p *Persistence) IncrementExecutionTotals(_ context.Context, id string, tokensIn, tokensOut int64, cost float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	execution, ok := p.executions[id]
	if !ok {
		return persistence.NewExecutionError("IncrementExecutionTotals", id, persistence.ErrExecutionNotFound)
	}

	execution.TotalTokensInput += tokensIn
	execution.TotalTokensOutput += tokensOut
	execution.TotalCost += cost
	execution.UpdatedAt = time.Now().UTC()

	return nil
}

func (p *Persistence) ExecutionWithSteps(_ context.Context, id string) (*models.Execution, []*models.StepRecord, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, ok := p.executions[id]
	if !ok {
		return nil, nil, persistence.NewExecutionError("ExecutionWithSteps", id, persistence.ErrExecutionNotFound)
	}

	copied, err := copyExecution(execution)
	if err != nil {
		return nil, nil, err
	}

	var steps []*models.StepRecord

	for _, step := range p.steps {
		if step.ExecutionID != id {
			continue
		}

		c, err := copyStep(step)
		if err != nil {
			return nil, nil, err
		}

		steps = append(steps, c)
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })

	return copied, steps, nil
}

func (p *Persistence) ListExecutions(_ context.Context, limit int) ([]*models.Execution, error) {
	if limit <= 0 {
		limit = 50
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	executions := make([]*models.Execution, 0, len(p.executions))

	for _, execution := range p.executions {
		c, err := copyExecution(execution)
		if err != nil {
			return nil, err
		}

		executions = append(executions, c)
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})

	if len(executions) > limit {
		executions = executions[:limit]
	}

	return executions, nil
}

func (p *Persistence) State(_ context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	value, ok := p.state[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, persistence.ErrStateNotFound)
	}

	return value, nil
}

func (p *Persistence) SetState(_ context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.state[key] = value

	return nil
}

func (p *Persistence) ClearStaging(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clear(p.staging)

	return nil
}

func (p *Persistence) UpsertStaging(_ context.Context, papers []*models.Paper) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()

	for _, paper := range papers {
		stored := copyPaper(paper)
		stored.UpdatedAt = now

		if existing, ok := p.staging[paper.ID]; ok {
			stored.CreatedAt = existing.CreatedAt
			stored.Abstract = existing.Abstract
			stored.Comments = existing.Comments
			stored.PublishedAt = existing.PublishedAt
			stored.Analysis = existing.Analysis
		} else if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}

		p.staging[paper.ID] = stored
	}

	return len(papers), nil
}

func (p *Persistence) StagingPapers(_ context.Context) ([]*models.Paper, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return sortedPapers(p.staging, func(*models.Paper) bool { return true }), nil
}

func (p *Persistence) UpdateStagingDetails(_ context.Context, paper *models.Paper) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	staged, ok := p.staging[paper.ID]
	if !ok {
		return nil
	}

	staged.Abstract = paper.Abstract
	staged.Authors = slices.Clone(paper.Authors)
	staged.Comments = paper.Comments
	staged.PDFURL = paper.PDFURL
	staged.PublishedAt = paper.PublishedAt
	staged.UpdatedAt = time.Now().UTC()

	return nil
}

func (p *Persistence) UpdateStagingAnalysis(_ context.Context, paperID string, analysis *models.PaperAnalysis) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	staged, ok := p.staging[paperID]
	if !ok {
		return nil
	}

	if analysis != nil {
		c := *analysis
		c.Keywords = slices.Clone(analysis.Keywords)
		staged.Analysis = &c
	} else {
		staged.Analysis = nil
	}

	staged.UpdatedAt = time.Now().UTC()

	return nil
}

func (p *Persistence) ArchiveStaging(_ context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, paper := range p.staging {
		p.papers[id] = copyPaper(paper)
	}

	return len(p.staging), nil
}

func (p *Persistence) PapersByDate(_ context.Context, date string) ([]*models.Paper, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return sortedPapers(p.papers, func(paper *models.Paper) bool { return paper.AnnouncementDate == date }), nil
}

func (p *Persistence) PapersByIDs(_ context.Context, ids []string) ([]*models.Paper, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return sortedPapers(p.papers, func(paper *models.Paper) bool { return slices.Contains(ids, paper.ID) }), nil
}

func (p *Persistence) ActiveProfiles(_ context.Context) ([]*models.UserProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var profiles []*models.UserProfile

	for _, profile := range p.profiles {
		if profile.Active {
			profiles = append(profiles, copyProfile(profile))
		}
	}

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })

	return profiles, nil
}

func (p *Persistence) Profile(_ context.Context, userID string) (*models.UserProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	profile, ok := p.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", userID, persistence.ErrProfileNotFound)
	}

	return copyProfile(profile), nil
}

func (p *Persistence) SaveProfile(_ context.Context, profile *models.UserProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}

	profile.UpdatedAt = now
	p.profiles[profile.ID] = copyProfile(profile)

	return nil
}

func (p *Persistence) FilterResults(_ context.Context, userID string, paperIDs []string) (map[string]*models.FilterResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	results := make(map[string]*models.FilterResult)

	for _, id := range paperIDs {
		if result, ok := p.filters[userID][id]; ok {
			c := *result
			results[id] = &c
		}
	}

	return results, nil
}

func (p *Persistence) UpsertFilterResults(_ context.Context, results []*models.FilterResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now().UTC()

	for _, result := range results {
		if p.filters[result.UserID] == nil {
			p.filters[result.UserID] = make(map[string]*models.FilterResult)
		}

		c := *result
		c.UpdatedAt = now
		p.filters[result.UserID][result.PaperID] = &c
	}

	return nil
}

func (p *Persistence) SaveReport(_ context.Context, report *models.Report) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := *report
	c.PaperIDs = slices.Clone(report.PaperIDs)

	key := report.UserID + "|" + report.AnnouncementDate
	if existing, ok := p.reports[key]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	}

	p.reports[key] = &c

	return nil
}

func (p *Persistence) ReportSent(_ context.Context, userID, date string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	report, ok := p.reports[userID+"|"+date]

	return ok && report.SentAt != nil, nil
}

func applyStepFields(step *models.StepRecord, fields models.Fields) error {
	for name, value := range fields {
		var err error

		switch name {
		case models.StepFieldRetryCount:
			step.RetryCount, err = toInt(value)
		case models.StepFieldMaxRetries:
			step.MaxRetries, err = toInt(value)
		case models.StepFieldDurationMs:
			step.DurationMs, err = toInt64(value)
		case models.StepFieldTokensInput:
			step.TokensInput, err = toInt64(value)
		case models.StepFieldTokensOutput:
			step.TokensOutput, err = toInt64(value)
		case models.StepFieldCost:
			step.Cost, err = toFloat(value)
		case models.StepFieldModelName:
			step.ModelName = fmt.Sprint(value)
		case models.StepFieldCacheHitTokens:
			step.CacheHitTokens, err = toInt64(value)
		case models.StepFieldRequestCount:
			step.RequestCount, err = toInt64(value)
		case models.StepFieldProgress:
			var progress models.Progress
			if err = decode(value, &progress); err == nil {
				step.Progress = &progress
			}
		case models.StepFieldMetrics:
			step.Metrics = nil
			err = decode(value, &step.Metrics)
		case models.StepFieldErrorMessage:
			step.ErrorMessage = fmt.Sprint(value)
		case models.StepFieldErrorStack:
			step.ErrorStack = fmt.Sprint(value)
		case models.StepFieldStartedAt:
			step.StartedAt, err = toTime(value)
		case models.StepFieldCompletedAt:
			step.CompletedAt, err = toTime(value)
		}

		if err != nil {
			return fmt.Errorf("workflow_steps.%s: %w", name, err)
		}
	}

	return nil
}

func applyExecutionFields(execution *models.Execution, fields models.Fields) error {
	for name, value := range fields {
		var err error

		switch name {
		case models.ExecutionFieldTotalSteps:
			execution.TotalSteps, err = toInt(value)
		case models.ExecutionFieldCompletedSteps:
			execution.CompletedSteps, err = toInt(value)
		case models.ExecutionFieldCurrentStep:
			execution.CurrentStep = fmt.Sprint(value)
		case models.ExecutionFieldMetadata:
			execution.Metadata = make(map[string]any)
			err = decode(value, &execution.Metadata)
		case models.ExecutionFieldErrorMessage:
			execution.ErrorMessage = fmt.Sprint(value)
		case models.ExecutionFieldCompletedAt:
			execution.CompletedAt, err = toTime(value)
		}

		if err != nil {
			return fmt.Errorf("workflow_executions.%s: %w", name, err)
		}
	}

	return nil
}

func decode(value, dest any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

func roundTrip(m map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	if m == nil {
		return out, nil
	}

	if err := decode(m, &out); err != nil {
		return nil, err
	}

	return out, nil
}

func toInt(value any) (int, error) {
	n, err := toInt64(value)

	return int(n), err
}

func toInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected integer value %T", value)
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("unexpected float value %T", value)
	}
}

func toTime(value any) (*time.Time, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case time.Time:
		t := v.UTC()

		return &t, nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}

		t := v.UTC()

		return &t, nil
	default:
		return nil, fmt.Errorf("unexpected time value %T", value)
	}
}

func copyExecution(execution *models.Execution) (*models.Execution, error) {
	c := *execution

	metadata, err := roundTrip(execution.Metadata)
	if err != nil {
		return nil, err
	}

	c.Metadata = metadata

	return &c, nil
}

func copyStep(step *models.StepRecord) (*models.StepRecord, error) {
	c := *step

	if step.Progress != nil {
		progress := *step.Progress
		c.Progress = &progress
	}

	if step.Metrics != nil {
		metrics, err := roundTrip(step.Metrics)
		if err != nil {
			return nil, err
		}

		c.Metrics = metrics
	}

	return &c, nil
}

func copyPaper(paper *models.Paper) *models.Paper {
	c := *paper
	c.Authors = slices.Clone(paper.Authors)
	c.Categories = slices.Clone(paper.Categories)

	if paper.Analysis != nil {
		analysis := *paper.Analysis
		analysis.Keywords = slices.Clone(paper.Analysis.Keywords)
		c.Analysis = &analysis
	}

	return &c
}

func copyProfile(profile *models.UserProfile) *models.UserProfile {
	c := *profile
	c.Categories = slices.Clone(profile.Categories)

	return &c
}

func sortedPapers(table map[string]*models.Paper, keep func(*models.Paper) bool) []*models.Paper {
	var papers []*models.Paper

	for _, paper := range table {
		if keep(paper) {
			papers = append(papers, copyPaper(paper))
		}
	}

	sort.Slice(papers, func(i, j int) bool { return papers[i].ID < papers[j].ID })

	return papers
}
