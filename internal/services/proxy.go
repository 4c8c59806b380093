// Proxy [Platform] implementation
//
// Talks to a local HTTP proxy that wraps a service without a usable public API, such as a
// ytmusicapi server for YouTube Music.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

const defaultProxyBaseURL = "http://127.0.0.1:8080"

// ProxyArtist represents an artist in proxy responses.
type ProxyArtist struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// ProxyTrack represents a track in proxy responses.
type ProxyTrack struct {
	VideoID     string        `json:"videoId"`
	Title       string        `json:"title"`
	Artists     []ProxyArtist `json:"artists"`
	Album       *struct {
		Name string `json:"name"`
	} `json:"album"`
	DurationSec int    `json:"duration_seconds"`
	ISRC        string `json:"isrc,omitempty"`
	SetVideoID  string `json:"setVideoId,omitempty"`
}

func (p ProxyTrack) toModel() models.Track {
	t := models.Track{
		Title:      p.Title,
		DurationMS: int64(p.DurationSec) * 1000,
		PlatformID: p.VideoID,
		ISRC:       p.ISRC,
	}
	names := make([]string, len(p.Artists))
	for i, a := range p.Artists {
		names[i] = a.Name
	}
	t.Artist = strings.Join(names, ", ")
	if p.Album != nil {
		t.Album = p.Album.Name
	}
	return t
}

// ProxyPlatform implements [Platform] over the proxy protocol.
type ProxyPlatform struct {
	name       models.Platform
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	header http.Header
}

// NewProxyPlatform creates an adapter named name that talks to baseURL.
func NewProxyPlatform(name models.Platform, baseURL string, client *http.Client) *ProxyPlatform {
	if name == "" {
		name = models.YouTubeMusic
	}
	if baseURL == "" {
		baseURL = defaultProxyBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProxyPlatform{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
		header:     make(http.Header),
	}
}

func (p *ProxyPlatform) Name() models.Platform { return p.name }

// Authenticate stores the headers sent with every request.
//
// credentials["token"] becomes a bearer token; credentials["headers_path"] names a cURL dump or
// JSON object of browser headers, see [shared.LoadProxyHeaders].
func (p *ProxyPlatform) Authenticate(_ context.Context, credentials map[string]string) error {
	header := make(http.Header)
	if path := credentials["headers_path"]; path != "" {
		loaded, err := shared.LoadProxyHeaders(path)
		if err != nil {
			return err
		}
		header = loaded
	}
	if token := credentials["token"]; token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.header = header
	return nil
}

func (p *ProxyPlatform) call(ctx context.Context, op, method, endpoint string, body, result any) error {
	p.mu.RLock()
	header := p.header.Clone()
	p.mu.RUnlock()

	return do(ctx, p.httpClient, request{
		platform: string(p.name),
		op:       op,
		method:   method,
		url:      p.baseURL + endpoint,
		header:   header,
		body:     body,
	}, result)
}

// FetchLibrary calls GET /api/library/playlists, then reads each playlist.
func (p *ProxyPlatform) FetchLibrary(ctx context.Context, credentials map[string]string) ([]models.Playlist, error) {
	if len(credentials) > 0 {
		if err := p.Authenticate(ctx, credentials); err != nil {
			return nil, err
		}
	}

	var listing []struct {
		PlaylistID string `json:"playlistId"`
		Title      string `json:"title"`
	}
	if err := p.call(ctx, "list playlists", http.MethodGet, "/api/library/playlists", nil, &listing); err != nil {
		return nil, err
	}

	playlists := make([]models.Playlist, 0, len(listing))
	for _, item := range listing {
		pl, err := p.FetchPlaylist(ctx, item.PlaylistID)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch playlist %s: %w", item.PlaylistID, err)
		}
		playlists = append(playlists, *pl)
	}
	return playlists, nil
}

// FetchPlaylist calls GET /api/playlists/{id}.
func (p *ProxyPlatform) FetchPlaylist(ctx context.Context, playlistID string) (*models.Playlist, error) {
	var resp struct {
		ID        string       `json:"id"`
		Title     string       `json:"title"`
		UpdatedAt string       `json:"updated_at"`
		Tracks    []ProxyTrack `json:"tracks"`
	}
	if err := p.call(ctx, "get playlist", http.MethodGet, "/api/playlists/"+url.PathEscape(playlistID), nil, &resp); err != nil {
		return nil, err
	}

	pl := &models.Playlist{ID: resp.ID, Platform: p.name, Name: resp.Title}
	if pl.ID == "" {
		pl.ID = playlistID
	}
	if updated, err := time.Parse(time.RFC3339, resp.UpdatedAt); err == nil {
		pl.UpdatedAt = updated
	}
	pl.Tracks = make([]models.Track, 0, len(resp.Tracks))
	for _, t := range resp.Tracks {
		pl.Tracks = append(pl.Tracks, t.toModel())
	}
	return pl, nil
}

// ApplyMutation maps ops onto /api/playlists/{id}/items: POST adds, DELETE removes and PATCH moves.
// The proxy answers 409 when the change is already in place.
func (p *ProxyPlatform) ApplyMutation(ctx context.Context, op models.MutationOp) error {
	endpoint := "/api/playlists/" + url.PathEscape(op.PlaylistID) + "/items"

	var err error
	switch op.Kind {
	case models.OpAdd:
		id := op.Track.PlatformID
		if id == "" {
			found, serr := p.SearchTrack(ctx, op.Track)
			if serr != nil {
				return serr
			}
			id = found.PlatformID
		}
		body := map[string]any{"video_ids": []string{id}}
		if op.Position != nil {
			body["position"] = *op.Position
		}
		err = p.call(ctx, "add track", http.MethodPost, endpoint, body, nil)

	case models.OpRemove:
		body := map[string]any{"video_id": op.Track.PlatformID, "title": op.Track.Title}
		if op.From != nil {
			body["position"] = *op.From
		}
		err = p.call(ctx, "remove track", http.MethodDelete, endpoint, body, nil)

	case models.OpMove:
		if op.From == nil || op.Position == nil {
			return fmt.Errorf("%w: move needs from and position", shared.ErrInvalidInput)
		}
		body := map[string]any{"from": *op.From, "to": *op.Position}
		err = p.call(ctx, "reorder track", http.MethodPatch, endpoint, body, nil)

	default:
		return fmt.Errorf("%w: unknown op %q", shared.ErrInvalidInput, op.Kind)
	}

	var perr *shared.PlatformError
	if errors.As(err, &perr) && perr.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %v", shared.ErrAlreadyApplied, err)
	}
	return err
}

// SearchTrack calls GET /api/search?q={title} {artist}&filter=songs and returns the first result.
func (p *ProxyPlatform) SearchTrack(ctx context.Context, t models.Track) (*models.Track, error) {
	query := strings.TrimSpace(t.Title + " " + t.Artist)
	endpoint := "/api/search?filter=songs&q=" + url.QueryEscape(query)

	var results []ProxyTrack
	if err := p.call(ctx, "search", http.MethodGet, endpoint, nil, &results); err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &shared.PlatformError{
			Platform: string(p.name),
			Op:       "search",
			Message:  fmt.Sprintf("no match for %s", t),
			Err:      fmt.Errorf("%w: %w", shared.ErrPermanent, shared.ErrNotFound),
		}
	}
	found := results[0].toModel()
	return &found, nil
}
