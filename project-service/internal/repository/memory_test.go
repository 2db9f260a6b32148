package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectsync/pkg/errs"
	"projectsync/project-service/internal/model"
)

func newProject(t *testing.T, s *MemoryStore, name string) *model.Project {
	t.Helper()
	p := &model.Project{Name: name, Description: "description", Active: true}
	require.NoError(t, s.Create(context.Background(), p))
	return p
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	p := newProject(t, s, "Alpha")

	got, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Name)
	assert.Equal(t, int64(1), got.Version)
	assert.Empty(t, got.Tasks)
	assert.NotNil(t, got.Tasks)

	_, err = s.Get(context.Background(), 99)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestMemoryStore_ReadsAreCopies(t *testing.T) {
	s := NewMemoryStore()
	p := newProject(t, s, "Alpha")

	got, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	got.Name = "mutated"
	got.Tasks = append(got.Tasks, model.Task{ID: 1})

	again, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", again.Name)
	assert.Empty(t, again.Tasks)
}

func TestMemoryStore_UpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := newProject(t, s, "Alpha")

	stale := *p
	p.Name = "Beta"
	require.NoError(t, s.Update(ctx, p))
	assert.Equal(t, int64(2), p.Version)

	stale.Name = "Gamma"
	err := s.Update(ctx, &stale)
	var conflict *errs.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.ExpectedVersion)

	got, _ := s.Get(ctx, p.ID)
	assert.Equal(t, "Beta", got.Name)
}

func TestMemoryStore_AppendTask(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := newProject(t, s, "Alpha")

	added, err := s.AppendTask(ctx, p.ID, 1, model.Task{ID: 10, Name: "T"})
	require.NoError(t, err)
	assert.True(t, added)

	_, err = s.AppendTask(ctx, p.ID, 1, model.Task{ID: 11})
	assert.ErrorIs(t, err, errs.ErrConflict)

	added, err = s.AppendTask(ctx, p.ID, 2, model.Task{ID: 10})
	require.NoError(t, err)
	assert.False(t, added)

	got, _ := s.Get(ctx, p.ID)
	require.Len(t, got.Tasks, 1)
	assert.Equal(t, int64(10), got.Tasks[0].ID)

	_, err = s.AppendTask(ctx, 42, 1, model.Task{ID: 10})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMemoryStore_RelationsAndDependents(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newProject(t, s, "Alpha")
	b := newProject(t, s, "Bravo")
	c := newProject(t, s, "Charlie")

	added, err := s.AddRelation(ctx, b.ID, a.ID, a.Name)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddRelation(ctx, b.ID, a.ID, a.Name)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = s.AddRelation(ctx, b.ID, 99, "ghost")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	deps, err := s.DependentsOf(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, b.ID, deps[0].ID)

	deps, err = s.DependentsOf(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)

	deps, err = s.DependentsOf(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestMemoryStore_DeleteKeepsInboundLinks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newProject(t, s, "Alpha")
	b := newProject(t, s, "Bravo")
	_, err := s.AddRelation(ctx, b.ID, a.ID, a.Name)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, a.ID))
	assert.ErrorIs(t, s.Delete(ctx, a.ID), errs.ErrNotFound)

	got, err := s.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, got.RelatedProjects, 1)
	assert.Equal(t, a.ID, got.RelatedProjects[0].TargetProjectID)

	require.NoError(t, s.Delete(ctx, b.ID))
	deps, err := s.DependentsOf(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestMemoryStore_ConcurrentAppendsConverge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := newProject(t, s, "Alpha")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cur, err := s.Get(ctx, p.ID)
				if err != nil || cur.HasTask(5) {
					return
				}
				if _, err := s.AppendTask(ctx, p.ID, cur.Version, model.Task{ID: 5}); err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, p.ID)
	assert.Len(t, got.Tasks, 1)
}
