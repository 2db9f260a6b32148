package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/errs"
	"projectsync/pkg/util"
	"projectsync/project-service/internal/model"
	"projectsync/project-service/internal/relation"
	"projectsync/project-service/internal/repository"
)

type fixture struct {
	store    *repository.MemoryStore
	projects map[string]*model.Project
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	f := &fixture{store: repository.NewMemoryStore(), projects: map[string]*model.Project{}}
	for _, name := range names {
		p := &model.Project{Name: name, Description: "Descrição projeto", Active: true}
		require.NoError(t, f.store.Create(context.Background(), p))
		f.projects[name] = p
	}
	return f
}

// relate records that dependent depends on target.
func (f *fixture) relate(t *testing.T, dependent, target string) {
	t.Helper()
	d, tg := f.projects[dependent], f.projects[target]
	_, err := f.store.AddRelation(context.Background(), d.ID, tg.ID, tg.Name)
	require.NoError(t, err)
}

func (f *fixture) id(name string) int64 { return f.projects[name].ID }

func (f *fixture) tasks(t *testing.T, name string) []model.Task {
	t.Helper()
	p, err := f.store.Get(context.Background(), f.id(name))
	require.NoError(t, err)
	return p.Tasks
}

func event(t *testing.T, taskID, origin int64, name string) []byte {
	t.Helper()
	ts := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	body, err := json.Marshal(mqcontracts.TaskCreatedPayload{
		ID:              taskID,
		Name:            name,
		Description:     "Descrição tarefa",
		HourlyRate:      20,
		Budget:          2000,
		EstimatedHours:  100,
		Active:          true,
		OriginProjectID: origin,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	})
	require.NoError(t, err)
	return body
}

func newEngine(store Store, index relation.Index) *Engine {
	return NewEngine(store, index, zap.NewNop())
}

// flakyStore fails AppendTask for selected projects.
type flakyStore struct {
	*repository.MemoryStore
	mu    sync.Mutex
	fail  map[int64]error
	calls map[int64]int
}

func (s *flakyStore) AppendTask(ctx context.Context, projectID, version int64, task model.Task) (bool, error) {
	s.mu.Lock()
	s.calls[projectID]++
	err := s.fail[projectID]
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.MemoryStore.AppendTask(ctx, projectID, version, task)
}

// racingStore changes a project right before its first append, so that append loses the
// version check.
type racingStore struct {
	*repository.MemoryStore
	mu     sync.Mutex
	target int64
	raced  bool
}

func (s *racingStore) AppendTask(ctx context.Context, projectID, version int64, task model.Task) (bool, error) {
	s.mu.Lock()
	race := projectID == s.target && !s.raced
	s.raced = s.raced || race
	s.mu.Unlock()
	if race {
		p, err := s.MemoryStore.Get(ctx, projectID)
		if err != nil {
			return false, err
		}
		p.Active = !p.Active
		if err := s.MemoryStore.Update(ctx, p); err != nil {
			return false, err
		}
	}
	return s.MemoryStore.AppendTask(ctx, projectID, version, task)
}

func TestHandle_DependentReceivesCopyUnrelatedDoesNot(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.relate(t, "B", "A")
	e := newEngine(f.store, f.store)

	res, err := e.Handle(context.Background(), event(t, 1, f.id("A"), "Tarefa"))
	require.NoError(t, err)
	assert.Equal(t, StateApplied, res.State)
	assert.Equal(t, OutcomeMerged, res.Origin.Outcome)
	assert.Equal(t, 1, res.Merged)

	require.Len(t, f.tasks(t, "B"), 1)
	assert.Equal(t, int64(1), f.tasks(t, "B")[0].ID)
	assert.Equal(t, f.id("A"), f.tasks(t, "B")[0].OriginProjectID)
	assert.Empty(t, f.tasks(t, "C"))
}

func TestHandle_IdempotentMerge(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.relate(t, "B", "A")
	e := newEngine(f.store, f.store)
	body := event(t, 1, f.id("A"), "Tarefa")

	_, err := e.Handle(context.Background(), body)
	require.NoError(t, err)
	res, err := e.Handle(context.Background(), body)
	require.NoError(t, err)

	assert.Equal(t, StateApplied, res.State)
	assert.Equal(t, OutcomeSkipped, res.Origin.Outcome)
	assert.Equal(t, 0, res.Merged)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, f.tasks(t, "A"), 1)
	assert.Len(t, f.tasks(t, "B"), 1)
}

func TestHandle_Asymmetry(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.relate(t, "B", "A")
	e := newEngine(f.store, f.store)

	res, err := e.Handle(context.Background(), event(t, 1, f.id("B"), "Tarefa"))
	require.NoError(t, err)
	assert.Empty(t, res.Dependents)
	assert.Empty(t, f.tasks(t, "A"))
	assert.Len(t, f.tasks(t, "B"), 1)
}

func TestHandle_NoDependents(t *testing.T) {
	f := newFixture(t, "A")
	e := newEngine(f.store, f.store)

	res, err := e.Handle(context.Background(), event(t, 1, f.id("A"), "Tarefa"))
	require.NoError(t, err)
	assert.Equal(t, StateApplied, res.State)
	assert.Zero(t, res.Merged)
	assert.Zero(t, res.Skipped)
	assert.Zero(t, res.Failed)
}

func TestHandle_PartialFailureIsIsolated(t *testing.T) {
	f := newFixture(t, "A", "B", "C", "D")
	f.relate(t, "B", "A")
	f.relate(t, "C", "A")
	f.relate(t, "D", "A")
	store := &flakyStore{
		MemoryStore: f.store,
		fail:        map[int64]error{f.id("C"): errors.New("connection reset")},
		calls:       map[int64]int{},
	}
	e := newEngine(store, f.store)
	body := event(t, 1, f.id("A"), "Tarefa")

	res, err := e.Handle(context.Background(), body)
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "merge_failed", res.Reason)
	assert.Equal(t, 2, res.Merged)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, f.tasks(t, "B"), 1)
	assert.Empty(t, f.tasks(t, "C"))
	assert.Len(t, f.tasks(t, "D"), 1)

	// Redelivery after the fault clears converges without duplicates.
	store.mu.Lock()
	delete(store.fail, f.id("C"))
	store.mu.Unlock()
	res, err = e.Handle(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, 2, res.Skipped)
	for _, name := range []string{"A", "B", "C", "D"} {
		assert.Len(t, f.tasks(t, name), 1, name)
	}
}

func TestHandle_DeletedOriginFailsWithoutMerges(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.relate(t, "B", "A")
	origin := f.id("A")
	require.NoError(t, f.store.Delete(context.Background(), origin))
	e := newEngine(f.store, f.store)

	res, err := e.Handle(context.Background(), event(t, 1, origin, "Tarefa"))
	require.ErrorIs(t, err, errs.ErrNotFound)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "origin_not_found", res.Reason)
	assert.Zero(t, res.Merged)
	assert.Empty(t, f.tasks(t, "B"))
}

func TestHandle_MalformedEvent(t *testing.T) {
	f := newFixture(t, "A")
	e := newEngine(f.store, f.store)

	res, err := e.Handle(context.Background(), []byte(`{"id":1,"name":"x","extra":true}`))
	require.ErrorIs(t, err, errs.ErrMalformedEvent)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, "malformed", res.Reason)
	assert.Empty(t, f.tasks(t, "A"))
}

func TestHandle_TarefaTesteExample(t *testing.T) {
	f := newFixture(t, "Projeto 1", "Projeto 2")
	f.relate(t, "Projeto 2", "Projeto 1")
	e := newEngine(f.store, f.store)

	_, err := e.Handle(context.Background(), event(t, 1, f.id("Projeto 1"), "Tarefa Teste"))
	require.NoError(t, err)

	p2 := f.tasks(t, "Projeto 2")
	require.Len(t, p2, 1)
	assert.Equal(t, "Tarefa Teste", p2[0].Name)
	assert.Equal(t, f.id("Projeto 1"), p2[0].OriginProjectID)

	p1 := f.tasks(t, "Projeto 1")
	require.Len(t, p1, 1)
	assert.Equal(t, int64(1), p1[0].ID)
}

func TestHandle_RetriesLostVersionCheck(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.relate(t, "B", "A")
	store := &racingStore{MemoryStore: f.store, target: f.id("B")}
	e := newEngine(store, f.store)

	res, err := e.Handle(context.Background(), event(t, 1, f.id("A"), "Tarefa"))
	require.NoError(t, err)
	assert.True(t, store.raced)
	assert.Equal(t, 1, res.Merged)
	assert.Len(t, f.tasks(t, "B"), 1)
}

func TestHandle_ExhaustedVersionChecksFail(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.relate(t, "B", "A")
	store := &flakyStore{
		MemoryStore: f.store,
		fail:        map[int64]error{f.id("B"): &errs.ConflictError{Entity: "project", ID: f.id("B")}},
		calls:       map[int64]int{},
	}
	e := newEngine(store, f.store).WithCASAttempts(3)

	res, err := e.Handle(context.Background(), event(t, 1, f.id("A"), "Tarefa"))
	require.ErrorIs(t, err, errs.ErrConflict)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 3, store.calls[f.id("B")])

	retryable, _ := util.IsRetryableError(err)
	assert.True(t, retryable)
}

func TestMerge_LastConflictDoesNotWait(t *testing.T) {
	f := newFixture(t, "A")
	store := &flakyStore{
		MemoryStore: f.store,
		fail:        map[int64]error{f.id("A"): &errs.ConflictError{Entity: "project", ID: f.id("A")}},
		calls:       map[int64]int{},
	}
	e := newEngine(store, f.store).WithCASAttempts(1)

	// a cancelled context turns any backoff wait into context.Canceled
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p, err := f.store.Get(context.Background(), f.id("A"))
	require.NoError(t, err)

	out := e.merge(ctx, p, model.Task{ID: 9, Name: "Tarefa"})
	assert.Equal(t, OutcomeFailed, out.Outcome)
	assert.ErrorIs(t, out.Err, errs.ErrConflict)
	assert.NotErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, 1, store.calls[f.id("A")])
}

func TestHandle_ConcurrentEventsOverlappingDependents(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.relate(t, "C", "A")
	f.relate(t, "C", "B")
	e := newEngine(f.store, f.store).WithCASAttempts(50)

	const perOrigin = 10
	var wg sync.WaitGroup
	for i := 0; i < perOrigin; i++ {
		for j, origin := range []string{"A", "B"} {
			body := event(t, int64(i*2+j+1), f.id(origin), fmt.Sprintf("Tarefa %d", i))
			wg.Add(2)
			for k := 0; k < 2; k++ {
				go func() {
					defer wg.Done()
					_, err := e.Handle(context.Background(), body)
					assert.NoError(t, err)
				}()
			}
		}
	}
	wg.Wait()

	assert.Len(t, f.tasks(t, "A"), perOrigin)
	assert.Len(t, f.tasks(t, "B"), perOrigin)
	c := f.tasks(t, "C")
	require.Len(t, c, 2*perOrigin)
	seen := map[int64]bool{}
	for _, task := range c {
		assert.False(t, seen[task.ID], "duplicate copy of task %d", task.ID)
		seen[task.ID] = true
	}
}

func TestHandle_MarkerShortCircuits(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	deduper := util.NewDeduper(rdb, time.Hour, zap.NewNop())

	f := newFixture(t, "A", "B")
	f.relate(t, "B", "A")
	store := &flakyStore{MemoryStore: f.store, fail: map[int64]error{}, calls: map[int64]int{}}
	e := newEngine(store, f.store).WithMarker(deduper)
	body := event(t, 1, f.id("A"), "Tarefa")

	_, err := e.Handle(context.Background(), body)
	require.NoError(t, err)
	assert.True(t, mr.Exists(util.DedupKey(markerHandler, fmt.Sprintf("1:%d", f.id("B")))))

	res, err := e.Handle(context.Background(), body)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, store.calls[f.id("B")])
	assert.Equal(t, 1, store.calls[f.id("A")])
}

func TestHandle_ScanIndexMatchesIndexed(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.relate(t, "B", "A")
	e := newEngine(f.store, relation.NewScanIndex(f.store))

	res, err := e.Handle(context.Background(), event(t, 1, f.id("A"), "Tarefa"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Merged)
	assert.Len(t, f.tasks(t, "B"), 1)
	assert.Empty(t, f.tasks(t, "C"))
}
