package repository

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"projectsync/pkg/errs"
	"projectsync/project-service/internal/model"
)

// MemoryStore is an in-process ProjectRepository equivalent with the same version and
// cascade rules. Reads return deep copies, so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[int64]*model.Project
	nextID   int64
	nextLink int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[int64]*model.Project), now: time.Now}
}

func (s *MemoryStore) Create(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now().UTC()
	p.ID = s.nextID
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	p.Tasks = []model.Task{}
	p.RelatedProjects = []model.RelatedProject{}
	s.projects[p.ID] = cloneProject(p)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id int64) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		return nil, errs.NewNotFound("project", id)
	}
	return cloneProject(p), nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(*model.Project) bool { return true }), nil
}

func (s *MemoryStore) FindByName(_ context.Context, name string) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(p *model.Project) bool { return p.Name == name }), nil
}

func (s *MemoryStore) DependentsOf(_ context.Context, targetID int64) ([]model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(func(p *model.Project) bool { return p.DependsOn(targetID) }), nil
}

func (s *MemoryStore) Update(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.checkVersion(p.ID, p.Version)
	if err != nil {
		return err
	}
	cur.Name = p.Name
	cur.Description = p.Description
	cur.Progress = cloneInt(p.Progress)
	cur.TotalCost = p.TotalCost
	cur.EstimatedHours = p.EstimatedHours
	cur.Budget = p.Budget
	cur.Client = cloneString(p.Client)
	cur.ClientAddress = cloneString(p.ClientAddress)
	cur.Active = p.Active
	s.bump(cur)

	p.Version = cur.Version
	p.UpdatedAt = cur.UpdatedAt
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[id]; !ok {
		return errs.NewNotFound("project", id)
	}
	delete(s.projects, id)
	return nil
}

func (s *MemoryStore) AddRelation(_ context.Context, projectID, targetID int64, targetName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.projects[projectID]
	if !ok {
		return false, errs.NewNotFound("project", projectID)
	}
	if _, ok := s.projects[targetID]; !ok {
		return false, errs.NewNotFound("project", targetID)
	}
	if p.DependsOn(targetID) {
		return false, nil
	}
	s.nextLink++
	p.RelatedProjects = append(p.RelatedProjects, model.RelatedProject{
		ID:              s.nextLink,
		ProjectID:       projectID,
		TargetProjectID: targetID,
		Name:            targetName,
		CreatedAt:       s.now().UTC(),
	})
	return true, nil
}

func (s *MemoryStore) AppendTask(_ context.Context, projectID, expectedVersion int64, task model.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.checkVersion(projectID, expectedVersion)
	if err != nil {
		return false, err
	}
	s.bump(p)
	if p.HasTask(task.ID) {
		return false, nil
	}
	t := task
	t.Observation = cloneString(task.Observation)
	p.Tasks = append(p.Tasks, t)
	return true, nil
}

func (s *MemoryStore) checkVersion(id, expected int64) (*model.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return nil, errs.NewNotFound("project", id)
	}
	if p.Version != expected {
		return nil, &errs.ConflictError{Entity: "project", ID: id, ExpectedVersion: expected}
	}
	return p, nil
}

func (s *MemoryStore) bump(p *model.Project) {
	p.Version++
	p.UpdatedAt = s.now().UTC()
}

func (s *MemoryStore) collect(match func(*model.Project) bool) []model.Project {
	out := make([]model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if match(p) {
			out = append(out, *cloneProject(p))
		}
	}
	slices.SortFunc(out, func(a, b model.Project) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func cloneProject(p *model.Project) *model.Project {
	c := *p
	c.Progress = cloneInt(p.Progress)
	c.Client = cloneString(p.Client)
	c.ClientAddress = cloneString(p.ClientAddress)
	c.Tasks = make([]model.Task, len(p.Tasks))
	for i, t := range p.Tasks {
		t.Observation = cloneString(t.Observation)
		c.Tasks[i] = t
	}
	c.RelatedProjects = slices.Clone(p.RelatedProjects)
	if c.RelatedProjects == nil {
		c.RelatedProjects = []model.RelatedProject{}
	}
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
