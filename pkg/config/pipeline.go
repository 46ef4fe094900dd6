// Package config loads the pipeline tunables and subscriber profiles.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Pipeline groups the knobs of the digest steps.
type Pipeline struct {
	Categories []string `yaml:"categories" validate:"required,min=1,dive,required"`

	AnalysisBatchSize  int           `yaml:"analysis_batch_size" validate:"gte=1"`
	AnalysisBatchDelay time.Duration `yaml:"analysis_batch_delay" validate:"gte=0"`
	AnalysisWorkers    int           `yaml:"analysis_workers" validate:"gte=1"`
	DetailsWorkers     int           `yaml:"details_workers" validate:"gte=1"`

	FilterWorkers  int           `yaml:"filter_workers" validate:"gte=1"`
	FilterAttempts int           `yaml:"filter_attempts" validate:"gte=1"`
	FilterBackoff  time.Duration `yaml:"filter_backoff" validate:"gte=0"`

	// DefaultMinScore applies to profiles that leave min_score at zero.
	DefaultMinScore float64 `yaml:"default_min_score" validate:"gte=0,lte=10"`
	MaxPapers       int     `yaml:"max_papers" validate:"gte=1"`

	RetryBaseDelay time.Duration `yaml:"retry_base_delay" validate:"gte=0"`
	Schedule       string        `yaml:"schedule"`

	Profiles []ProfileConfig `yaml:"profiles" validate:"dive"`
}

// ProfileConfig seeds a subscriber from the config file.
type ProfileConfig struct {
	ID         string   `yaml:"id" validate:"required"`
	Email      string   `yaml:"email" validate:"required,email"`
	Name       string   `yaml:"name"`
	Interests  string   `yaml:"interests" validate:"required,min=3"`
	Categories []string `yaml:"categories"`
	MinScore   float64  `yaml:"min_score" validate:"gte=0,lte=10"`
	MaxPapers  int      `yaml:"max_papers" validate:"gte=0"`
	Disabled   bool     `yaml:"disabled"`
}

// Profile converts the entry to a stored profile.
func (p ProfileConfig) Profile() *models.UserProfile {
	return &models.UserProfile{
		ID:         p.ID,
		Email:      p.Email,
		Name:       p.Name,
		Interests:  p.Interests,
		Categories: p.Categories,
		MinScore:   p.MinScore,
		MaxPapers:  p.MaxPapers,
		Active:     !p.Disabled,
	}
}

// Default returns the production defaults.
func Default() Pipeline {
	return Pipeline{
		Categories:         []string{"cs.AI", "cs.CL", "cs.LG"},
		AnalysisBatchSize:  20,
		AnalysisBatchDelay: 60 * time.Second,
		AnalysisWorkers:    5,
		DetailsWorkers:     4,
		FilterWorkers:      8,
		FilterAttempts:     3,
		FilterBackoff:      2 * time.Second,
		DefaultMinScore:    6,
		MaxPapers:          20,
		RetryBaseDelay:     2 * time.Second,
		Schedule:           "0 6 * * 1-5",
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the tunables and every seeded profile.
func (p Pipeline) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}

	seen := make(map[string]bool, len(p.Profiles))
	for _, profile := range p.Profiles {
		if seen[profile.ID] {
			return fmt.Errorf("invalid pipeline config: duplicate profile id %q", profile.ID)
		}

		seen[profile.ID] = true
	}

	return nil
}

// Load reads a YAML file over the defaults. A missing file yields the defaults.
func Load(path string) (Pipeline, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	if err != nil {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}
