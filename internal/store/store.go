// Package store is the Library Snapshot Store: an append-only, revisioned history of playlist captures.
//
// Captures of the same playlist are serialized so revisions strictly increase. Old snapshots are
// dropped only by the retention policy, and the newest snapshot of a playlist is always kept.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/audioarchitect/internal/identity"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Backend persists snapshots. Implementations return [shared.ErrNotFound] for missing data.
type Backend interface {
	Append(ctx context.Context, snap models.Snapshot) error
	Latest(ctx context.Context, ref models.PlaylistRef) (*models.Snapshot, error)
	// Revision returns the newest stored revision of ref, or 0 when there is none.
	Revision(ctx context.Context, ref models.PlaylistRef) (int64, error)
	Get(ctx context.Context, ref models.PlaylistRef, revision int64) (*models.Snapshot, error)
	ByID(ctx context.Context, id string) (*models.Snapshot, error)
	List(ctx context.Context, ref models.PlaylistRef) ([]models.Snapshot, error)
	// Prune deletes snapshots of ref outside the newest keepLast (0 = no count bound) or captured
	// before cutoff (zero = no age bound). The newest snapshot is never deleted.
	Prune(ctx context.Context, ref models.PlaylistRef, keepLast int, cutoff time.Time) (int, error)
	Refs(ctx context.Context) ([]models.PlaylistRef, error)
}

// Retention bounds how much history is kept per playlist.
type Retention struct {
	KeepLast int
	MaxAge   time.Duration
}

// Store serializes captures per playlist and caches the latest snapshot of each.
//
// Revisions are always read from the backend, which other processes may share; the cache only
// serves snapshot bodies whose revision still matches.
type Store struct {
	backend   Backend
	retention Retention
	latest    *lru.Cache[models.PlaylistRef, models.Snapshot]
	locks     sync.Map // models.PlaylistRef -> *sync.Mutex
	now       func() time.Time
	logger    *log.Logger
}

// maxAppendAttempts bounds retries when another writer takes the next revision first.
const maxAppendAttempts = 3

// Option configures a [Store].
type Option func(*Store)

// WithRetention sets the pruning policy applied after each capture.
func WithRetention(r Retention) Option {
	return func(s *Store) { s.retention = r }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store over backend with an LRU of cacheSize latest snapshots.
func New(backend Backend, cacheSize int, opts ...Option) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[models.PlaylistRef, models.Snapshot](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot cache: %w", err)
	}

	s := &Store{backend: backend, latest: cache, now: time.Now, logger: shared.DiscardLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) lock(ref models.PlaylistRef) func() {
	mu, _ := s.locks.LoadOrStore(ref, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Capture records playlist as the next revision of (platform, playlist.ID).
func (s *Store) Capture(ctx context.Context, platform models.Platform, playlist models.Playlist) (*models.Snapshot, error) {
	ref := models.PlaylistRef{Platform: platform, PlaylistID: playlist.ID}
	if ref.PlaylistID == "" {
		return nil, fmt.Errorf("%w: playlist has no id", shared.ErrInvalidInput)
	}

	unlock := s.lock(ref)
	defer unlock()

	snap := models.Snapshot{
		Platform:        platform,
		PlaylistID:      playlist.ID,
		Name:            playlist.Name,
		CapturedAt:      s.now().UTC(),
		SourceUpdatedAt: playlist.UpdatedAt,
		Tracks:          identity.ResolveAll(playlist.Tracks),
	}

	var degraded int
	for _, t := range snap.Tracks {
		if t.Degraded {
			degraded++
		}
	}
	if degraded > 0 {
		s.logger.Warn("captured tracks with incomplete metadata", "playlist", ref, "count", degraded)
	}

	for attempt := 1; ; attempt++ {
		current, err := s.backend.Revision(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("failed to read latest revision of %s: %w", ref, err)
		}
		snap.ID = shared.GenerateID()
		snap.Revision = current + 1

		err = s.backend.Append(ctx, snap)
		if err == nil {
			break
		}
		s.latest.Remove(ref)
		if !errors.Is(err, shared.ErrConflict) || attempt == maxAppendAttempts {
			return nil, fmt.Errorf("failed to append snapshot of %s: %w", ref, err)
		}
		s.logger.Debug("revision taken by another writer, retrying", "playlist", ref, "revision", snap.Revision)
	}
	s.latest.Add(ref, snap)
	s.logger.Debug("captured snapshot", "playlist", ref, "revision", snap.Revision, "tracks", len(snap.Tracks))

	if s.retention.KeepLast > 0 || s.retention.MaxAge > 0 {
		var cutoff time.Time
		if s.retention.MaxAge > 0 {
			cutoff = snap.CapturedAt.Add(-s.retention.MaxAge)
		}
		if n, err := s.backend.Prune(ctx, ref, s.retention.KeepLast, cutoff); err != nil {
			s.logger.Warn("failed to prune snapshots", "playlist", ref, "error", err)
		} else if n > 0 {
			s.logger.Debug("pruned snapshots", "playlist", ref, "count", n)
		}
	}

	return clone(snap), nil
}

// Latest returns the newest snapshot of ref.
func (s *Store) Latest(ctx context.Context, ref models.PlaylistRef) (*models.Snapshot, error) {
	revision, err := s.backend.Revision(ctx, ref)
	if err != nil {
		return nil, err
	}
	if revision == 0 {
		s.latest.Remove(ref)
		return nil, fmt.Errorf("%w: no snapshot of %s", shared.ErrNotFound, ref)
	}
	if snap, ok := s.latest.Get(ref); ok && snap.Revision == revision {
		return clone(snap), nil
	}

	snap, err := s.backend.Latest(ctx, ref)
	if err != nil {
		return nil, err
	}
	s.latest.Add(ref, *snap)
	return clone(*snap), nil
}

// Get returns revision of ref, or the latest when revision is zero or negative.
func (s *Store) Get(ctx context.Context, ref models.PlaylistRef, revision int64) (*models.Snapshot, error) {
	if revision <= 0 {
		return s.Latest(ctx, ref)
	}
	snap, err := s.backend.Get(ctx, ref, revision)
	if err != nil {
		return nil, err
	}
	return clone(*snap), nil
}

// ByID returns the snapshot with the given ID.
func (s *Store) ByID(ctx context.Context, id string) (*models.Snapshot, error) {
	snap, err := s.backend.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return clone(*snap), nil
}

// List returns every retained snapshot of ref, newest first.
func (s *Store) List(ctx context.Context, ref models.PlaylistRef) ([]models.Snapshot, error) {
	return s.backend.List(ctx, ref)
}

// Refs lists every playlist with at least one snapshot.
func (s *Store) Refs(ctx context.Context) ([]models.PlaylistRef, error) {
	return s.backend.Refs(ctx)
}

// Revision returns the current stored revision of ref, or 0 when it was never captured.
func (s *Store) Revision(ctx context.Context, ref models.PlaylistRef) (int64, error) {
	return s.backend.Revision(ctx, ref)
}

func clone(s models.Snapshot) *models.Snapshot {
	s.Tracks = slices.Clone(s.Tracks)
	return &s
}
