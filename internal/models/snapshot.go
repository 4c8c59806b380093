package models

import "time"

// Snapshot is an immutable capture of a playlist at one revision.
//
// Revisions of the same playlist strictly increase with every capture.
type Snapshot struct {
	ID              string    `json:"id"`
	Platform        Platform  `json:"platform"`
	PlaylistID      string    `json:"playlist_id"`
	Name            string    `json:"name"`
	Revision        int64     `json:"revision"`
	CapturedAt      time.Time `json:"captured_at"`
	SourceUpdatedAt time.Time `json:"source_updated_at,omitempty"`
	Tracks          []Track   `json:"tracks"`
}

// Ref returns the playlist identity the snapshot belongs to.
func (s Snapshot) Ref() PlaylistRef {
	return PlaylistRef{Platform: s.Platform, PlaylistID: s.PlaylistID}
}

// ChangedAt is the best known time of the last edit: the platform's own timestamp when it
// reports one, otherwise the capture time.
func (s Snapshot) ChangedAt() time.Time {
	if !s.SourceUpdatedAt.IsZero() {
		return s.SourceUpdatedAt
	}
	return s.CapturedAt
}

// Move relocates one track occurrence.
type Move struct {
	Track    Track `json:"track"`
	OldIndex int   `json:"old_index"`
	NewIndex int   `json:"new_index"`
}

// DiffResult lists what changed between two snapshots of the same logical playlist.
type DiffResult struct {
	Added     []Track `json:"added"`
	Removed   []Track `json:"removed"`
	Reordered []Move  `json:"reordered"`
}

// IsEmpty reports whether nothing changed.
func (d DiffResult) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Reordered) == 0
}

// GroupMember is a track and its index in the scanned snapshot.
type GroupMember struct {
	Index int   `json:"index"`
	Track Track `json:"track"`
}

// PairScore is the similarity of two members, by position in [DuplicateGroup.Members].
type PairScore struct {
	A     int     `json:"a"`
	B     int     `json:"b"`
	Score float64 `json:"score"`
}

// DuplicateGroup is a set of two or more equivalent tracks.
type DuplicateGroup struct {
	Members   []GroupMember `json:"members"`
	Canonical int           `json:"canonical"`
	Scores    []PairScore   `json:"scores"`
	Exact     bool          `json:"exact"`
}

// CanonicalTrack returns the member chosen to keep.
func (g DuplicateGroup) CanonicalTrack() Track {
	return g.Members[g.Canonical].Track
}

// Redundant returns every member except the canonical one.
func (g DuplicateGroup) Redundant() []GroupMember {
	out := make([]GroupMember, 0, len(g.Members)-1)
	for i, m := range g.Members {
		if i != g.Canonical {
			out = append(out, m)
		}
	}
	return out
}
