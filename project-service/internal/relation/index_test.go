package relation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectsync/project-service/internal/model"
	"projectsync/project-service/internal/repository"
)

func seed(t *testing.T) (*repository.MemoryStore, []*model.Project) {
	t.Helper()
	ctx := context.Background()
	s := repository.NewMemoryStore()
	var ps []*model.Project
	for _, name := range []string{"Alpha", "Bravo", "Charlie", "Delta"} {
		p := &model.Project{Name: name, Description: "description"}
		require.NoError(t, s.Create(ctx, p))
		ps = append(ps, p)
	}
	// Bravo and Delta depend on Alpha; Charlie depends on Bravo.
	for _, link := range [][2]int{{1, 0}, {3, 0}, {2, 1}} {
		_, err := s.AddRelation(ctx, ps[link[0]].ID, ps[link[1]].ID, ps[link[1]].Name)
		require.NoError(t, err)
	}
	return s, ps
}

func ids(ps []model.Project) []int64 {
	out := make([]int64, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.ID)
	}
	return out
}

func TestIndexStrategiesAgree(t *testing.T) {
	ctx := context.Background()
	store, ps := seed(t)

	indexed, err := New(ModeIndexed, store)
	require.NoError(t, err)
	scan, err := New(ModeScan, store)
	require.NoError(t, err)

	for _, p := range ps {
		a, err := indexed.DependentsOf(ctx, p.ID)
		require.NoError(t, err)
		b, err := scan.DependentsOf(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, ids(a), ids(b), "dependents of %s", p.Name)
	}
}

func TestScanIndex_DependentsOf(t *testing.T) {
	ctx := context.Background()
	store, ps := seed(t)
	idx := NewScanIndex(store)

	deps, err := idx.DependentsOf(ctx, ps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{ps[1].ID, ps[3].ID}, ids(deps))

	deps, err = idx.DependentsOf(ctx, ps[3].ID)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestNew_UnknownMode(t *testing.T) {
	_, err := New("graph", repository.NewMemoryStore())
	assert.Error(t, err)
}
