package testing

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

// MemoryPlatform is an in-memory [services.Platform] that applies mutations to its own playlists.
//
// Failures are injected with [MemoryPlatform.FailWhen]; every call to ApplyMutation is recorded.
type MemoryPlatform struct {
	name models.Platform

	mu        sync.Mutex
	playlists map[string]*models.Playlist
	order     []string
	rules     []*failure
	calls     []models.MutationOp
	fetchErr  error
	now       func() time.Time
}

type failure struct {
	match func(models.MutationOp) bool
	err   error
	times int
}

// NewMemoryPlatform creates a platform called name holding playlists.
func NewMemoryPlatform(name models.Platform, playlists ...models.Playlist) *MemoryPlatform {
	m := &MemoryPlatform{name: name, playlists: make(map[string]*models.Playlist), now: time.Now}
	for _, pl := range playlists {
		m.Put(pl)
	}
	return m
}

func (m *MemoryPlatform) Name() models.Platform { return m.name }

// Put replaces or adds a playlist.
func (m *MemoryPlatform) Put(pl models.Playlist) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pl.Platform = m.name
	pl.Tracks = slices.Clone(pl.Tracks)
	if _, ok := m.playlists[pl.ID]; !ok {
		m.order = append(m.order, pl.ID)
	}
	m.playlists[pl.ID] = &pl
}

// Tracks returns the current tracks of playlist id.
func (m *MemoryPlatform) Tracks(id string) []models.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pl, ok := m.playlists[id]; ok {
		return slices.Clone(pl.Tracks)
	}
	return nil
}

// Titles returns the titles of playlist id in order.
func (m *MemoryPlatform) Titles(id string) []string {
	tracks := m.Tracks(id)
	titles := make([]string, len(tracks))
	for i, t := range tracks {
		titles[i] = t.Title
	}
	return titles
}

// FailWhen makes the next times matching ops fail with err; times < 0 fails forever.
func (m *MemoryPlatform) FailWhen(match func(models.MutationOp) bool, err error, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, &failure{match: match, err: err, times: times})
}

// FailFetch makes FetchLibrary and FetchPlaylist return err.
func (m *MemoryPlatform) FailFetch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// Calls returns every op passed to ApplyMutation, including failed attempts.
func (m *MemoryPlatform) Calls() []models.MutationOp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

func (m *MemoryPlatform) FetchLibrary(_ context.Context, _ map[string]string) ([]models.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	out := make([]models.Playlist, 0, len(m.order))
	for _, id := range m.order {
		pl := *m.playlists[id]
		pl.Tracks = slices.Clone(pl.Tracks)
		out = append(out, pl)
	}
	return out, nil
}

func (m *MemoryPlatform) FetchPlaylist(_ context.Context, id string) (*models.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}

	stored, ok := m.playlists[id]
	if !ok {
		return nil, fmt.Errorf("%w: playlist %s on %s", shared.ErrNotFound, id, m.name)
	}
	pl := *stored
	pl.Tracks = slices.Clone(pl.Tracks)
	return &pl, nil
}

// ApplyMutation edits the stored playlist. Removing a track that is not there and moving a
// track onto its own index return [shared.ErrAlreadyApplied].
func (m *MemoryPlatform) ApplyMutation(_ context.Context, op models.MutationOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, op)
	for _, rule := range m.rules {
		if rule.times != 0 && rule.match(op) {
			if rule.times > 0 {
				rule.times--
			}
			return rule.err
		}
	}

	pl, ok := m.playlists[op.PlaylistID]
	if !ok {
		return shared.NewPlatformError(string(m.name), string(op.Kind), 404, "playlist not found")
	}

	switch op.Kind {
	case models.OpAdd:
		pos := len(pl.Tracks)
		if op.Position != nil && *op.Position >= 0 && *op.Position < pos {
			pos = *op.Position
		}
		pl.Tracks = slices.Insert(pl.Tracks, pos, op.Track)

	case models.OpRemove:
		idx := -1
		if op.From != nil && *op.From >= 0 && *op.From < len(pl.Tracks) && sameTrack(pl.Tracks[*op.From], op.Track) {
			idx = *op.From
		} else {
			idx = slices.IndexFunc(pl.Tracks, func(t models.Track) bool { return sameTrack(t, op.Track) })
		}
		if idx < 0 {
			return shared.ErrAlreadyApplied
		}
		pl.Tracks = slices.Delete(pl.Tracks, idx, idx+1)

	case models.OpMove:
		if op.From == nil || op.Position == nil {
			return shared.NewPlatformError(string(m.name), "move", 400, "move needs from and position")
		}
		from, to := *op.From, *op.Position
		if from < 0 || from >= len(pl.Tracks) || to < 0 || to >= len(pl.Tracks) {
			return shared.NewPlatformError(string(m.name), "move", 400, "index out of range")
		}
		if from == to {
			return shared.ErrAlreadyApplied
		}
		t := pl.Tracks[from]
		pl.Tracks = slices.Delete(pl.Tracks, from, from+1)
		pl.Tracks = slices.Insert(pl.Tracks, to, t)
	}

	pl.UpdatedAt = m.now()
	return nil
}

func sameTrack(a, b models.Track) bool {
	if a.Fingerprint != "" && b.Fingerprint != "" {
		return a.Fingerprint == b.Fingerprint
	}
	return a.Title == b.Title && a.Artist == b.Artist
}
