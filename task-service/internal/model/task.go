package model

import (
	"strings"
	"time"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/errs"
)

type Task struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Observation     *string   `json:"observation"`
	HourlyRate      float64   `json:"hourlyRate"`
	Budget          float64   `json:"budget"`
	EstimatedHours  int       `json:"estimatedHours"`
	Active          bool      `json:"active"`
	OriginProjectID int64     `json:"originProjectID"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TaskInput is the request body for create and update. Nil fields are absent.
type TaskInput struct {
	Name            *string  `json:"name"`
	Description     *string  `json:"description"`
	Observation     *string  `json:"observation"`
	HourlyRate      *float64 `json:"hourlyRate"`
	Budget          *float64 `json:"budget"`
	EstimatedHours  *int     `json:"estimatedHours"`
	Active          *bool    `json:"active"`
	OriginProjectID *int64   `json:"originProjectID"`
}

const (
	MinNameLength        = 3
	MinDescriptionLength = 5
)

// ValidateCreate checks that every required field is present and well formed.
func (in TaskInput) ValidateCreate() error {
	switch {
	case in.Name == nil:
		return errs.NewValidation("name", "is required")
	case in.Description == nil:
		return errs.NewValidation("description", "is required")
	case in.HourlyRate == nil:
		return errs.NewValidation("hourlyRate", "is required")
	case in.Budget == nil:
		return errs.NewValidation("budget", "is required")
	case in.EstimatedHours == nil:
		return errs.NewValidation("estimatedHours", "is required")
	case in.Active == nil:
		return errs.NewValidation("active", "is required")
	case in.OriginProjectID == nil:
		return errs.NewValidation("originProjectID", "is required")
	}
	return in.validatePresent()
}

// ValidateUpdate checks only the fields that are present.
func (in TaskInput) ValidateUpdate() error {
	if in.OriginProjectID != nil {
		return errs.NewValidation("originProjectID", "cannot be changed")
	}
	return in.validatePresent()
}

func (in TaskInput) validatePresent() error {
	if in.Name != nil && len([]rune(strings.TrimSpace(*in.Name))) < MinNameLength {
		return errs.NewValidation("name", "must have at least 3 characters")
	}
	if in.Description != nil && len([]rune(strings.TrimSpace(*in.Description))) < MinDescriptionLength {
		return errs.NewValidation("description", "must have at least 5 characters")
	}
	if in.HourlyRate != nil && *in.HourlyRate < 0 {
		return errs.NewValidation("hourlyRate", "must not be negative")
	}
	if in.Budget != nil && *in.Budget < 0 {
		return errs.NewValidation("budget", "must not be negative")
	}
	if in.EstimatedHours != nil && *in.EstimatedHours < 0 {
		return errs.NewValidation("estimatedHours", "must not be negative")
	}
	if in.OriginProjectID != nil && *in.OriginProjectID <= 0 {
		return errs.NewValidation("originProjectID", "must be a positive id")
	}
	return nil
}

// NewTask builds a Task from a create input that passed ValidateCreate.
func NewTask(in TaskInput) *Task {
	t := &Task{OriginProjectID: *in.OriginProjectID}
	t.Apply(in)
	return t
}

// Apply overwrites the fields present in in. ID, origin and timestamps are left alone.
func (t *Task) Apply(in TaskInput) {
	if in.Name != nil {
		t.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		t.Description = strings.TrimSpace(*in.Description)
	}
	if in.Observation != nil {
		obs := *in.Observation
		t.Observation = &obs
	}
	if in.HourlyRate != nil {
		t.HourlyRate = *in.HourlyRate
	}
	if in.Budget != nil {
		t.Budget = *in.Budget
	}
	if in.EstimatedHours != nil {
		t.EstimatedHours = *in.EstimatedHours
	}
	if in.Active != nil {
		t.Active = *in.Active
	}
}

// Payload converts the task into its task.created wire form.
func (t *Task) Payload() mqcontracts.TaskCreatedPayload {
	return mqcontracts.TaskCreatedPayload{
		ID:              t.ID,
		Name:            t.Name,
		Description:     t.Description,
		Observation:     t.Observation,
		HourlyRate:      t.HourlyRate,
		Budget:          t.Budget,
		EstimatedHours:  t.EstimatedHours,
		Active:          t.Active,
		OriginProjectID: t.OriginProjectID,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}
