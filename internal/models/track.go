package models

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies a streaming service.
type Platform string

const (
	Spotify      Platform = "spotify"
	Tidal        Platform = "tidal"
	AppleMusic   Platform = "apple_music"
	YouTubeMusic Platform = "youtube_music"

	// Merged holds a sync group's last committed state. Its snapshots are the common
	// ancestor for the next three-way merge and never map to a real service.
	Merged Platform = "merged"
)

// Track is an immutable song reference.
//
// Fingerprint is derived from normalized metadata by the identity package; two tracks are
// the same song exactly when their fingerprints are equal, regardless of PlatformID.
type Track struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
	PlatformID  string `json:"platform_id,omitempty"`
	ISRC        string `json:"isrc,omitempty"`
	Fingerprint string `json:"fingerprint"`
	Degraded    bool   `json:"degraded,omitempty"`
}

// Duration returns DurationMS as a [time.Duration].
func (t Track) Duration() time.Duration {
	return time.Duration(t.DurationMS) * time.Millisecond
}

// Key returns the identity key, which is empty until the track has been resolved.
func (t Track) Key() string { return t.Fingerprint }

func (t Track) String() string {
	return fmt.Sprintf("%s - %s", t.Artist, t.Title)
}

// Playlist is a platform's view of one playlist, in order.
type Playlist struct {
	ID        string    `json:"id"`
	Platform  Platform  `json:"platform"`
	Name      string    `json:"name"`
	Tracks    []Track   `json:"tracks"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Ref returns the playlist's platform-scoped identity.
func (p Playlist) Ref() PlaylistRef {
	return PlaylistRef{Platform: p.Platform, PlaylistID: p.ID}
}

// PlaylistRef is a platform-scoped playlist identity.
type PlaylistRef struct {
	Platform   Platform `json:"platform"`
	PlaylistID string   `json:"playlist_id"`
}

func (r PlaylistRef) String() string {
	return string(r.Platform) + ":" + r.PlaylistID
}

// ParsePlaylistRef parses the "platform:playlist_id" form.
func ParsePlaylistRef(s string) (PlaylistRef, error) {
	platform, id, ok := strings.Cut(s, ":")
	if !ok || platform == "" || id == "" {
		return PlaylistRef{}, fmt.Errorf("invalid playlist reference %q: want platform:id", s)
	}
	return PlaylistRef{Platform: Platform(platform), PlaylistID: id}, nil
}
