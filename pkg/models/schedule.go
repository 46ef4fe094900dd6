package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleParser accepts the standard 5-field cron format
// (minute hour day month weekday) plus descriptors such as @daily.
var ScheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule binds a workflow type to a cron expression.
type Schedule struct {
	WorkflowType string `json:"workflow_type" validate:"required"`

	// CronExpression uses the 5-field format, evaluated in Location.
	CronExpression string `json:"cron_expression" validate:"required"`

	// InitialContext is handed to every run started by this schedule.
	InitialContext map[string]any `json:"initial_context,omitempty"`

	Location *time.Location `json:"-"`

	// NextDueAt is the next time the schedule fires after the last evaluation.
	NextDueAt time.Time `json:"next_due_at"`
}

// NewSchedule validates the expression and computes the first due time.
func NewSchedule(workflowType, cronExpression string, initial map[string]any) (*Schedule, error) {
	s := &Schedule{
		WorkflowType:   workflowType,
		CronExpression: cronExpression,
		InitialContext: initial,
		Location:       time.UTC,
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	if err := s.calculateNextDueAt(time.Now()); err != nil {
		return nil, err
	}

	return s, nil
}

// UpdateNextDueAt moves NextDueAt to the first activation after now.
func (s *Schedule) UpdateNextDueAt(now time.Time) error {
	return s.calculateNextDueAt(now)
}

func (s *Schedule) calculateNextDueAt(reference time.Time) error {
	sched, err := ScheduleParser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}

	s.NextDueAt = sched.Next(reference.In(loc))

	return nil
}

// IsDue reports whether the schedule should fire at now.
func (s *Schedule) IsDue(now time.Time) bool {
	return !s.NextDueAt.IsZero() && !s.NextDueAt.After(now)
}

// Validate checks the required fields and the cron expression.
func (s *Schedule) Validate() error {
	if s.WorkflowType == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	if _, err := ScheduleParser.Parse(s.CronExpression); err != nil {
		return errors.Join(ErrInvalidSchedule, err)
	}

	return nil
}

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")
