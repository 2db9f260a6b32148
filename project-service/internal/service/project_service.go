package service

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"projectsync/pkg/errs"
	"projectsync/pkg/logger"
	"projectsync/project-service/internal/model"
	"projectsync/project-service/internal/relation"
)

// ProjectStore is the persistence the service needs. Update is a version compare-and-swap.
type ProjectStore interface {
	Create(ctx context.Context, p *model.Project) error
	Get(ctx context.Context, id int64) (*model.Project, error)
	List(ctx context.Context) ([]model.Project, error)
	FindByName(ctx context.Context, name string) ([]model.Project, error)
	Update(ctx context.Context, p *model.Project) error
	Delete(ctx context.Context, id int64) error
	AddRelation(ctx context.Context, projectID, targetID int64, targetName string) (bool, error)
}

// updateAttempts bounds how often Update re-reads a project that changed underneath it.
const updateAttempts = 3

type ProjectService struct {
	store  ProjectStore
	index  relation.Index
	logger *zap.Logger
}

func NewProjectService(store ProjectStore, index relation.Index, logger *zap.Logger) *ProjectService {
	return &ProjectService{store: store, index: index, logger: logger}
}

func (s *ProjectService) Create(ctx context.Context, in model.ProjectInput) (*model.Project, error) {
	if err := in.ValidateCreate(); err != nil {
		return nil, err
	}
	p := model.NewProject(in)
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.logger).Info("Project created", zap.Int64("project_id", p.ID))
	return p, nil
}

func (s *ProjectService) Get(ctx context.Context, id int64) (*model.Project, error) {
	return s.store.Get(ctx, id)
}

// List returns every project; an empty slice is not an error.
func (s *ProjectService) List(ctx context.Context) ([]model.Project, error) {
	return s.store.List(ctx)
}

func (s *ProjectService) FindByName(ctx context.Context, name string) ([]model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.NewValidation("name", "is required")
	}
	projects, err := s.store.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, errs.NewNotFoundByName("project", name)
	}
	return projects, nil
}

// Update overwrites only the fields present in in. A concurrent task merge bumps the
// version, so a lost version check re-reads and re-applies.
func (s *ProjectService) Update(ctx context.Context, id int64, in model.ProjectInput) (*model.Project, error) {
	if err := in.ValidateUpdate(); err != nil {
		return nil, err
	}
	var err error
	for attempt := 0; attempt < updateAttempts; attempt++ {
		var p *model.Project
		p, err = s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		p.Apply(in)
		err = s.store.Update(ctx, p)
		if err == nil {
			logger.WithTrace(ctx, s.logger).Info("Project updated", zap.Int64("project_id", id))
			return p, nil
		}
		if !errors.Is(err, errs.ErrConflict) {
			return nil, err
		}
	}
	return nil, err
}

// Delete removes the project with its task copies and links, returning its last state.
func (s *ProjectService) Delete(ctx context.Context, id int64) (*model.Project, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.logger).Info("Project deleted", zap.Int64("project_id", id))
	return p, nil
}

// Relate records that projectID depends on targetID. Relating twice is a no-op.
func (s *ProjectService) Relate(ctx context.Context, projectID, targetID int64) (*model.Project, error) {
	if projectID == targetID {
		return nil, errs.NewValidation("targetId", "a project cannot be related to itself")
	}
	if _, err := s.store.Get(ctx, projectID); err != nil {
		return nil, err
	}
	target, err := s.store.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	added, err := s.store.AddRelation(ctx, projectID, targetID, target.Name)
	if err != nil {
		return nil, err
	}
	if added {
		logger.WithTrace(ctx, s.logger).Info("Project related",
			zap.Int64("project_id", projectID),
			zap.Int64("target_project_id", targetID),
		)
	}
	return s.store.Get(ctx, projectID)
}

// Dependents returns the projects that depend on id.
func (s *ProjectService) Dependents(ctx context.Context, id int64) ([]model.Project, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.index.DependentsOf(ctx, id)
}
