package services

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

// Platform is the capability the core consumes from a streaming service.
type Platform interface {
	// Name identifies the service; it matches [models.PlaylistRef.Platform].
	Name() models.Platform

	// FetchLibrary returns every playlist of the authenticated user with tracks in order.
	// credentials may be nil when the platform was configured at construction.
	FetchLibrary(ctx context.Context, credentials map[string]string) ([]models.Playlist, error)

	// ApplyMutation performs a single add, remove or move.
	ApplyMutation(ctx context.Context, op models.MutationOp) error
}

// PlaylistFetcher is implemented by platforms that can read one playlist without the whole library.
type PlaylistFetcher interface {
	FetchPlaylist(ctx context.Context, playlistID string) (*models.Playlist, error)
}

// FetchPlaylist reads one playlist from p, falling back to a library scan.
func FetchPlaylist(ctx context.Context, p Platform, playlistID string) (*models.Playlist, error) {
	if f, ok := p.(PlaylistFetcher); ok {
		return f.FetchPlaylist(ctx, playlistID)
	}

	library, err := p.FetchLibrary(ctx, nil)
	if err != nil {
		return nil, err
	}
	for _, pl := range library {
		if pl.ID == playlistID {
			pl.Platform = p.Name()
			return &pl, nil
		}
	}
	return nil, fmt.Errorf("%w: playlist %s on %s", shared.ErrNotFound, playlistID, p.Name())
}

// Registry maps platform names to adapters. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	platforms map[models.Platform]Platform
}

// NewRegistry creates a registry holding platforms.
func NewRegistry(platforms ...Platform) *Registry {
	r := &Registry{platforms: make(map[models.Platform]Platform)}
	for _, p := range platforms {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any adapter with the same name.
func (r *Registry) Register(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[p.Name()] = p
}

// Get returns the adapter for name.
func (r *Registry) Get(name models.Platform) (Platform, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.platforms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownPlatform, name)
	}
	return p, nil
}

// Available returns the registered platform names, sorted.
func (r *Registry) Available() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]models.Platform, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
