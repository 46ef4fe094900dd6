package services

import (
	"context"
	"fmt"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/go-playground/validator/v10"
)

type Profile struct {
	persistence persistence.PaperRepository
	validator   *validator.Validate
}

// NewProfile creates the subscriber profile service.
func NewProfile(persistence persistence.PaperRepository) *Profile {
	return &Profile{
		persistence: persistence,
		validator:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *Profile) FetchByID(ctx context.Context, id string) (*models.UserProfile, error) {
	if id == "" {
		return nil, NewValidationError("FetchByID", "EMPTY_ID", "profile id is required", ErrEmptyID)
	}

	return s.persistence.Profile(ctx, id)
}

// Save validates profile and creates or replaces it.
func (s *Profile) Save(ctx context.Context, profile *models.UserProfile) (*models.UserProfile, error) {
	if profile == nil {
		return nil, NewValidationError("Save", "NIL_PROFILE", "profile cannot be nil", ErrInvalidRequest)
	}

	if err := s.validator.Struct(profile); err != nil {
		return nil, NewValidationError("Save", "INVALID_PROFILE", err.Error(), ErrInvalidRequest)
	}

	if err := s.persistence.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save profile %s: %w", profile.ID, err)
	}

	return profile, nil
}
