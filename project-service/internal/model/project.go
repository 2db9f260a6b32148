package model

import (
	"strings"
	"time"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/errs"
)

// Task is a replicated copy of a task owned by task-service. Copies share the task's ID.
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

// TaskFromPayload converts a decoded task.created event into a copy.
func TaskFromPayload(p mqcontracts.TaskCreatedPayload) Task {
	return Task{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Observation:     p.Observation,
		HourlyRate:      p.HourlyRate,
		Budget:          p.Budget,
		EstimatedHours:  p.EstimatedHours,
		Active:          p.Active,
		OriginProjectID: p.OriginProjectID,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// RelatedProject is a directed link: ProjectID depends on TargetProjectID.
// Name is the target's name when the link was created.
type RelatedProject struct {
	ID              int64     `json:"id"`
	ProjectID       int64     `json:"projectId"`
	TargetProjectID int64     `json:"targetProjectId"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Project struct {
	ID              int64            `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	Progress        *int             `json:"progress"`
	TotalCost       float64          `json:"totalCost"`
	EstimatedHours  int              `json:"estimatedHours"`
	Budget          float64          `json:"budget"`
	Client          *string          `json:"client"`
	ClientAddress   *string          `json:"clientAddress"`
	Active          bool             `json:"active"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Tasks           []Task           `json:"tasks"`
	RelatedProjects []RelatedProject `json:"relatedProjects"`
}

// HasTask reports whether a copy of task id is already in the collection.
func (p *Project) HasTask(id int64) bool {
	for _, t := range p.Tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

// DependsOn reports whether p holds a link to target.
func (p *Project) DependsOn(target int64) bool {
	for _, r := range p.RelatedProjects {
		if r.TargetProjectID == target {
			return true
		}
	}
	return false
}

// ProjectInput is the request body for create and update. Nil fields are absent.
type ProjectInput struct {
	Name           *string  `json:"name"`
	Description    *string  `json:"description"`
	Progress       *int     `json:"progress"`
	TotalCost      *float64 `json:"totalCost"`
	EstimatedHours *int     `json:"estimatedHours"`
	Budget         *float64 `json:"budget"`
	Client         *string  `json:"client"`
	ClientAddress  *string  `json:"clientAddress"`
	Active         *bool    `json:"active"`
}

const (
	MinNameLength        = 3
	MinDescriptionLength = 5
)

func (in ProjectInput) ValidateCreate() error {
	switch {
	case in.Name == nil:
		return errs.NewValidation("name", "is required")
	case in.Description == nil:
		return errs.NewValidation("description", "is required")
	case in.TotalCost == nil:
		return errs.NewValidation("totalCost", "is required")
	case in.EstimatedHours == nil:
		return errs.NewValidation("estimatedHours", "is required")
	case in.Budget == nil:
		return errs.NewValidation("budget", "is required")
	case in.Active == nil:
		return errs.NewValidation("active", "is required")
	}
	return in.ValidateUpdate()
}

// ValidateUpdate checks only the fields that are present.
func (in ProjectInput) ValidateUpdate() error {
	if in.Name != nil && len([]rune(strings.TrimSpace(*in.Name))) < MinNameLength {
		return errs.NewValidation("name", "must have at least 3 characters")
	}
	if in.Description != nil && len([]rune(strings.TrimSpace(*in.Description))) < MinDescriptionLength {
		return errs.NewValidation("description", "must have at least 5 characters")
	}
	if in.Progress != nil && (*in.Progress < 0 || *in.Progress > 100) {
		return errs.NewValidation("progress", "must be between 0 and 100")
	}
	if in.TotalCost != nil && *in.TotalCost < 0 {
		return errs.NewValidation("totalCost", "must not be negative")
	}
	if in.EstimatedHours != nil && *in.EstimatedHours < 0 {
		return errs.NewValidation("estimatedHours", "must not be negative")
	}
	if in.Budget != nil && *in.Budget < 0 {
		return errs.NewValidation("budget", "must not be negative")
	}
	return nil
}

// NewProject builds a Project from an input that passed ValidateCreate.
func NewProject(in ProjectInput) *Project {
	p := &Project{Tasks: []Task{}, RelatedProjects: []RelatedProject{}}
	p.Apply(in)
	return p
}

// Apply overwrites the fields present in in. Identity, version, timestamps and the owned
// collections are never touched.
func (p *Project) Apply(in ProjectInput) {
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.Progress != nil {
		v := *in.Progress
		p.Progress = &v
	}
	if in.TotalCost != nil {
		p.TotalCost = *in.TotalCost
	}
	if in.EstimatedHours != nil {
		p.EstimatedHours = *in.EstimatedHours
	}
	if in.Budget != nil {
		p.Budget = *in.Budget
	}
	if in.Client != nil {
		v := *in.Client
		p.Client = &v
	}
	if in.ClientAddress != nil {
		v := *in.ClientAddress
		p.ClientAddress = &v
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
}
