package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

// MemoryBackend keeps snapshots in process memory. Used for tests and --memory runs.
type MemoryBackend struct {
	mu        sync.RWMutex
	playlists map[models.PlaylistRef][]models.Snapshot // ascending revision
	byID      map[string]models.Snapshot
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		playlists: make(map[models.PlaylistRef][]models.Snapshot),
		byID:      make(map[string]models.Snapshot),
	}
}

func (m *MemoryBackend) Append(_ context.Context, snap models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref := snap.Ref()
	history := m.playlists[ref]
	if n := len(history); n > 0 && history[n-1].Revision >= snap.Revision {
		return fmt.Errorf("%w: revision %d of %s already exists", shared.ErrConflict, snap.Revision, ref)
	}
	snap.Tracks = slices.Clone(snap.Tracks)
	m.playlists[ref] = append(history, snap)
	m.byID[snap.ID] = snap
	return nil
}

func (m *MemoryBackend) Latest(_ context.Context, ref models.PlaylistRef) (*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.playlists[ref]
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: no snapshot of %s", shared.ErrNotFound, ref)
	}
	return clone(history[len(history)-1]), nil
}

func (m *MemoryBackend) Revision(_ context.Context, ref models.PlaylistRef) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.playlists[ref]
	if len(history) == 0 {
		return 0, nil
	}
	return history[len(history)-1].Revision, nil
}

func (m *MemoryBackend) Get(_ context.Context, ref models.PlaylistRef, revision int64) (*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, snap := range m.playlists[ref] {
		if snap.Revision == revision {
			return clone(snap), nil
		}
	}
	return nil, fmt.Errorf("%w: revision %d of %s", shared.ErrNotFound, revision, ref)
}

func (m *MemoryBackend) ByID(_ context.Context, id string) (*models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %s", shared.ErrNotFound, id)
	}
	return clone(snap), nil
}

func (m *MemoryBackend) List(_ context.Context, ref models.PlaylistRef) ([]models.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.playlists[ref]
	out := make([]models.Snapshot, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, *clone(history[i]))
	}
	return out, nil
}

func (m *MemoryBackend) Prune(_ context.Context, ref models.PlaylistRef, keepLast int, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.playlists[ref]
	if len(history) <= 1 {
		return 0, nil
	}

	kept := make([]models.Snapshot, 0, len(history))
	newest := len(history) - 1
	for i, snap := range history {
		fromEnd := newest - i
		expired := keepLast > 0 && fromEnd >= keepLast
		if !cutoff.IsZero() && snap.CapturedAt.Before(cutoff) {
			expired = true
		}
		if expired && i != newest {
			delete(m.byID, snap.ID)
			continue
		}
		kept = append(kept, snap)
	}
	m.playlists[ref] = kept
	return len(history) - len(kept), nil
}

func (m *MemoryBackend) Refs(_ context.Context) ([]models.PlaylistRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	refs := make([]models.PlaylistRef, 0, len(m.playlists))
	for ref := range m.playlists {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, func(a, b models.PlaylistRef) int {
		return strings.Compare(a.String(), b.String())
	})
	return refs, nil
}
