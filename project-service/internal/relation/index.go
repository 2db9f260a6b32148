// Package relation resolves which projects depend on a given project.
package relation

import (
	"context"
	"fmt"

	"projectsync/project-service/internal/model"
)

const (
	ModeIndexed = "indexed"
	ModeScan    = "scan"
)

// Index answers dependentsOf: every project holding a link to targetID, with full state.
// The result is a point-in-time snapshot. An empty result is not an error.
type Index interface {
	DependentsOf(ctx context.Context, targetID int64) ([]model.Project, error)
}

// IndexedStore is a store that maintains a reverse index by target project.
type IndexedStore interface {
	Index
	Lister
}

type Lister interface {
	List(ctx context.Context) ([]model.Project, error)
}

// ScanIndex resolves dependents with a full scan of all projects.
type ScanIndex struct {
	store Lister
}

func NewScanIndex(store Lister) *ScanIndex {
	return &ScanIndex{store: store}
}

func (s *ScanIndex) DependentsOf(ctx context.Context, targetID int64) ([]model.Project, error) {
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan projects: %w", err)
	}
	out := make([]model.Project, 0)
	for _, p := range all {
		if p.ID != targetID && p.DependsOn(targetID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// New picks the strategy for mode. An empty mode means indexed.
func New(mode string, store IndexedStore) (Index, error) {
	switch mode {
	case "", ModeIndexed:
		return store, nil
	case ModeScan:
		return NewScanIndex(store), nil
	default:
		return nil, fmt.Errorf("unknown relation index mode %q", mode)
	}
}
