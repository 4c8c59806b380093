// Spotify Web API implementation of [Platform]
//
// Response types follow https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	spotifyPageSize = 50
	spotifyTrackURI = "spotify:track:"
)

// SpotifyScopes are the OAuth scopes needed to read and edit playlists.
var SpotifyScopes = []string{
	"playlist-read-private",
	"playlist-read-collaborative",
	"playlist-modify-public",
	"playlist-modify-private",
}

type externalIDs struct {
	ISRC string `json:"isrc"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	Album       SpotifyAlbum    `json:"album"`
	DurationMS  int64           `json:"duration_ms"`
	ExternalIDs externalIDs     `json:"external_ids"`
	URI         string          `json:"uri"`
	IsLocal     bool            `json:"is_local"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SpotifyPlaylistTrack represents a track within a playlist context. Track is nil for
// items Spotify can no longer resolve.
type SpotifyPlaylistTrack struct {
	AddedAt string        `json:"added_at"`
	Track   *SpotifyTrack `json:"track"`
}

// visible reports whether FetchPlaylist keeps the item. Unavailable tracks come back as null and
// local files have no ID; neither can be matched or re-added elsewhere.
func (i SpotifyPlaylistTrack) visible() bool {
	return i.Track != nil && i.Track.ID != ""
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	SnapshotID string `json:"snapshot_id"`
	Tracks     struct {
		Total int `json:"total"`
	} `json:"tracks"`
}

type paging[T any] struct {
	Items  []T     `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   *string `json:"next"`
}

func (s SpotifyTrack) toModel() models.Track {
	t := models.Track{
		Title:      s.Name,
		Album:      s.Album.Name,
		DurationMS: s.DurationMS,
		PlatformID: s.ID,
		ISRC:       s.ExternalIDs.ISRC,
	}
	names := make([]string, len(s.Artists))
	for i, a := range s.Artists {
		names[i] = a.Name
	}
	t.Artist = strings.Join(names, ", ")
	return t
}

// SpotifyPlatform implements [Platform] for Spotify.
type SpotifyPlatform struct {
	config  *oauth2.Config
	baseURL string

	mu         sync.RWMutex
	token      *oauth2.Token
	httpClient *http.Client
}

// SpotifyOption configures a [SpotifyPlatform].
type SpotifyOption func(*SpotifyPlatform)

// WithSpotifyBaseURL points the adapter at another API root, such as a test server.
func WithSpotifyBaseURL(baseURL string) SpotifyOption {
	return func(s *SpotifyPlatform) { s.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithSpotifyHTTPClient sets the client used before OAuth wraps it.
func WithSpotifyHTTPClient(client *http.Client) SpotifyOption {
	return func(s *SpotifyPlatform) { s.httpClient = client }
}

// NewSpotifyPlatform creates a new Spotify adapter from client credentials.
//
// When credentials already hold an access or refresh token the adapter is authenticated immediately.
func NewSpotifyPlatform(credentials map[string]string, opts ...SpotifyOption) (*SpotifyPlatform, error) {
	clientID := credentials["client_id"]
	if clientID == "" {
		return nil, fmt.Errorf("%w: spotify client_id", shared.ErrMissingCredentials)
	}
	clientSecret := credentials["client_secret"]
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_secret", shared.ErrMissingCredentials)
	}
	redirectURI := credentials["redirect_uri"]
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:8000/callback"
	}

	s := &SpotifyPlatform{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURI,
			Scopes:       SpotifyScopes,
			Endpoint:     oauth2.Endpoint{AuthURL: spotifyAuthURL, TokenURL: spotifyTokenURL},
		},
		baseURL:    spotifyBaseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(s)
	}

	if credentials["access_token"] != "" || credentials["refresh_token"] != "" {
		if err := s.Authenticate(context.Background(), credentials); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *SpotifyPlatform) Name() models.Platform { return models.Spotify }

// OAuthConfig exposes the OAuth2 configuration for the authorization code flow.
func (s *SpotifyPlatform) OAuthConfig() *oauth2.Config { return s.config }

// AuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyPlatform) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Authenticate accepts either a stored token (access_token, refresh_token, token_expiry) or an auth_code.
func (s *SpotifyPlatform) Authenticate(ctx context.Context, credentials map[string]string) error {
	var token *oauth2.Token

	switch {
	case credentials["access_token"] != "" || credentials["refresh_token"] != "":
		token = &oauth2.Token{
			AccessToken:  credentials["access_token"],
			RefreshToken: credentials["refresh_token"],
			TokenType:    "Bearer",
		}
		if raw := credentials["token_expiry"]; raw != "" {
			expiry, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return fmt.Errorf("%w: token_expiry: %v", shared.ErrInvalidConfig, err)
			}
			token.Expiry = expiry
		}
	case credentials["auth_code"] != "":
		exchanged, err := s.config.Exchange(s.oauthContext(ctx), credentials["auth_code"])
		if err != nil {
			return fmt.Errorf("failed to exchange auth code: %w", err)
		}
		token = exchanged
	default:
		return fmt.Errorf("%w: access_token or auth_code", shared.ErrMissingCredentials)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.httpClient = s.config.Client(s.oauthContext(ctx), token)
	return nil
}

// Token returns the current token, refreshed if it expired.
func (s *SpotifyPlatform) Token(ctx context.Context) (*oauth2.Token, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if token == nil {
		return nil, fmt.Errorf("%w: spotify is not authenticated", shared.ErrMissingCredentials)
	}
	return s.config.TokenSource(s.oauthContext(ctx), token).Token()
}

// oauthContext makes the oauth2 package reuse the injected base client.
func (s *SpotifyPlatform) oauthContext(ctx context.Context) context.Context {
	if s.httpClient != nil && s.httpClient != http.DefaultClient {
		return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}
	return ctx
}

func (s *SpotifyPlatform) call(ctx context.Context, op, method, endpoint string, body, result any) error {
	s.mu.RLock()
	client, token := s.httpClient, s.token
	s.mu.RUnlock()
	if token == nil {
		return fmt.Errorf("%w: spotify is not authenticated", shared.ErrMissingCredentials)
	}

	target := endpoint
	if !strings.HasPrefix(endpoint, "http") {
		target = s.baseURL + endpoint
	}
	return do(ctx, client, request{
		platform: string(models.Spotify),
		op:       op,
		method:   method,
		url:      target,
		body:     body,
	}, result)
}

// FetchLibrary returns every playlist of the current user with its tracks.
func (s *SpotifyPlatform) FetchLibrary(ctx context.Context, credentials map[string]string) ([]models.Playlist, error) {
	if len(credentials) > 0 {
		if err := s.Authenticate(ctx, credentials); err != nil {
			return nil, err
		}
	}

	var playlists []models.Playlist
	next := fmt.Sprintf("/me/playlists?limit=%d&offset=0", spotifyPageSize)
	for next != "" {
		var page paging[SpotifySimplePlaylist]
		if err := s.call(ctx, "list playlists", http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, sp := range page.Items {
			pl, err := s.FetchPlaylist(ctx, sp.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch playlist %s: %w", sp.ID, err)
			}
			playlists = append(playlists, *pl)
		}
		next = nextPage(page.Next)
	}
	return playlists, nil
}

// FetchPlaylist reads one playlist with all of its tracks.
//
// Spotify reports no modification time, so UpdatedAt is the newest added_at among the items.
func (s *SpotifyPlatform) FetchPlaylist(ctx context.Context, playlistID string) (*models.Playlist, error) {
	var meta struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := s.call(ctx, "get playlist", http.MethodGet, "/playlists/"+url.PathEscape(playlistID)+"?fields=id,name", nil, &meta); err != nil {
		return nil, err
	}

	pl := &models.Playlist{ID: meta.ID, Platform: models.Spotify, Name: meta.Name}
	next := fmt.Sprintf("/playlists/%s/tracks?limit=%d&offset=0", url.PathEscape(playlistID), spotifyPageSize*2)
	for next != "" {
		var page paging[SpotifyPlaylistTrack]
		if err := s.call(ctx, "get playlist tracks", http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if !item.visible() {
				continue
			}
			pl.Tracks = append(pl.Tracks, item.Track.toModel())
			if added, err := time.Parse(time.RFC3339, item.AddedAt); err == nil && added.After(pl.UpdatedAt) {
				pl.UpdatedAt = added
			}
		}
		next = nextPage(page.Next)
	}
	return pl, nil
}

// layout returns the real playlist position of every item [SpotifyPlatform.FetchPlaylist] keeps,
// plus the total item count including unavailable and local items.
func (s *SpotifyPlatform) layout(ctx context.Context, playlistID string) ([]int, int, error) {
	var positions []int
	total := 0
	next := fmt.Sprintf("/playlists/%s/tracks?fields=%s&limit=%d&offset=0",
		url.PathEscape(playlistID), url.QueryEscape("items(track(id)),next"), spotifyPageSize*2)
	for next != "" {
		var page paging[SpotifyPlaylistTrack]
		if err := s.call(ctx, "get playlist layout", http.MethodGet, next, nil, &page); err != nil {
			return nil, 0, err
		}
		for _, item := range page.Items {
			if item.visible() {
				positions = append(positions, total)
			}
			total++
		}
		next = nextPage(page.Next)
	}
	return positions, total, nil
}

// insertAt maps an insertion index over kept items to a real position.
func insertAt(positions []int, total, i int) int {
	if i < len(positions) {
		return positions[i]
	}
	return total
}

func itemAt(positions []int, i int) (int, error) {
	if i < 0 || i >= len(positions) {
		return 0, shared.NewPlatformError(string(models.Spotify), "resolve position", http.StatusBadRequest,
			fmt.Sprintf("position %d is out of range", i))
	}
	return positions[i], nil
}

// ApplyMutation performs one playlist edit.
//
// Op indices count only the tracks a fetch returns, so they are translated to real positions first:
// unavailable and local items still occupy a slot on Spotify. Adds without a PlatformID are
// resolved through the search endpoint. Moves become Spotify's insert_before, which counts positions
// before the item is lifted out.
func (s *SpotifyPlatform) ApplyMutation(ctx context.Context, op models.MutationOp) error {
	endpoint := "/playlists/" + url.PathEscape(op.PlaylistID) + "/tracks"

	if op.Kind == models.OpMove {
		if op.From == nil || op.Position == nil {
			return fmt.Errorf("%w: move needs from and position", shared.ErrInvalidInput)
		}
		if *op.From == *op.Position {
			return shared.ErrAlreadyApplied
		}
	}
	var (
		positions []int
		total     int
	)
	if op.Position != nil || op.From != nil {
		var err error
		if positions, total, err = s.layout(ctx, op.PlaylistID); err != nil {
			return err
		}
	}

	switch op.Kind {
	case models.OpAdd:
		id := op.Track.PlatformID
		if id == "" {
			found, err := s.SearchTrack(ctx, op.Track)
			if err != nil {
				return err
			}
			id = found.PlatformID
		}
		body := map[string]any{"uris": []string{spotifyTrackURI + id}}
		if op.Position != nil {
			body["position"] = insertAt(positions, total, *op.Position)
		}
		return s.call(ctx, "add track", http.MethodPost, endpoint, body, nil)

	case models.OpRemove:
		if op.Track.PlatformID == "" {
			return shared.NewPlatformError(string(models.Spotify), "remove track", http.StatusBadRequest, "track has no spotify id")
		}
		entry := map[string]any{"uri": spotifyTrackURI + op.Track.PlatformID}
		if op.From != nil {
			at, err := itemAt(positions, *op.From)
			if err != nil {
				return err
			}
			entry["positions"] = []int{at}
		}
		return s.call(ctx, "remove track", http.MethodDelete, endpoint, map[string]any{"tracks": []any{entry}}, nil)

	case models.OpMove:
		from, to := *op.From, *op.Position
		start, err := itemAt(positions, from)
		if err != nil {
			return err
		}
		before := to
		if to > from {
			before = to + 1
		}
		body := map[string]any{"range_start": start, "insert_before": insertAt(positions, total, before), "range_length": 1}
		return s.call(ctx, "reorder track", http.MethodPut, endpoint, body, nil)
	}
	return fmt.Errorf("%w: unknown op %q", shared.ErrInvalidInput, op.Kind)
}

// SearchTrack finds the best Spotify match for a track from another platform.
func (s *SpotifyPlatform) SearchTrack(ctx context.Context, t models.Track) (*models.Track, error) {
	var q string
	if t.ISRC != "" {
		q = "isrc:" + t.ISRC
	} else {
		q = fmt.Sprintf("track:%s artist:%s", t.Title, t.Artist)
	}
	endpoint := "/search?type=track&limit=1&q=" + url.QueryEscape(q)

	var result struct {
		Tracks paging[SpotifyTrack] `json:"tracks"`
	}
	if err := s.call(ctx, "search", http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Tracks.Items) == 0 {
		return nil, &shared.PlatformError{
			Platform: string(models.Spotify),
			Op:       "search",
			Message:  fmt.Sprintf("no match for %s", t),
			Err:      fmt.Errorf("%w: %w", shared.ErrPermanent, shared.ErrNotFound),
		}
	}
	found := result.Tracks.Items[0].toModel()
	return &found, nil
}

func nextPage(next *string) string {
	if next == nil {
		return ""
	}
	return *next
}
