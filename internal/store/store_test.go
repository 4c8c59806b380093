package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

func playlist(id string, titles ...string) models.Playlist {
	tracks := make([]models.Track, len(titles))
	for i, title := range titles {
		tracks[i] = models.Track{Title: title, Artist: "Artist", DurationMS: 200_000}
	}
	return models.Playlist{ID: id, Name: "Mix " + id, Tracks: tracks}
}

func newStore(t *testing.T, opts ...Option) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	s, err := New(backend, 8, opts...)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return s, backend
}

func TestCapture(t *testing.T) {
	ctx := context.Background()

	t.Run("revisions increase per playlist", func(t *testing.T) {
		s, _ := newStore(t)

		first, err := s.Capture(ctx, models.Spotify, playlist("p1", "A", "B"))
		if err != nil {
			t.Fatalf("capture failed: %v", err)
		}
		second, err := s.Capture(ctx, models.Spotify, playlist("p1", "A"))
		if err != nil {
			t.Fatalf("capture failed: %v", err)
		}
		other, err := s.Capture(ctx, models.Tidal, playlist("p1", "A"))
		if err != nil {
			t.Fatalf("capture failed: %v", err)
		}

		if first.Revision != 1 || second.Revision != 2 {
			t.Errorf("expected revisions 1, 2, got %d, %d", first.Revision, second.Revision)
		}
		if other.Revision != 1 {
			t.Errorf("expected independent revision for another platform, got %d", other.Revision)
		}
		if first.ID == second.ID {
			t.Error("expected distinct snapshot IDs")
		}
	})

	t.Run("tracks carry fingerprints", func(t *testing.T) {
		s, _ := newStore(t)

		snap, err := s.Capture(ctx, models.Spotify, models.Playlist{ID: "p", Tracks: []models.Track{
			{Title: "Song", Artist: "Band", DurationMS: 180_000},
			{Title: "Song", Artist: "Band"},
		}})
		if err != nil {
			t.Fatalf("capture failed: %v", err)
		}

		for i, tr := range snap.Tracks {
			if tr.Fingerprint == "" {
				t.Errorf("track %d has no fingerprint", i)
			}
		}
		if snap.Tracks[0].Degraded {
			t.Error("expected complete metadata to produce a full fingerprint")
		}
		if !snap.Tracks[1].Degraded {
			t.Error("expected missing duration to be flagged as degraded")
		}
	})

	t.Run("rejects playlist without id", func(t *testing.T) {
		s, _ := newStore(t)
		if _, err := s.Capture(ctx, models.Spotify, models.Playlist{}); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("concurrent captures never share a revision", func(t *testing.T) {
		s, _ := newStore(t)

		const n = 20
		revisions := make(chan int64, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				snap, err := s.Capture(ctx, models.Spotify, playlist("p", fmt.Sprintf("T%d", i)))
				if err != nil {
					t.Errorf("capture failed: %v", err)
					return
				}
				revisions <- snap.Revision
			}()
		}
		wg.Wait()
		close(revisions)

		seen := map[int64]bool{}
		for r := range revisions {
			if seen[r] {
				t.Errorf("revision %d assigned twice", r)
			}
			seen[r] = true
		}
		if len(seen) != n {
			t.Errorf("expected %d revisions, got %d", n, len(seen))
		}
	})

	t.Run("returned snapshot is a copy", func(t *testing.T) {
		s, _ := newStore(t)
		ref := models.PlaylistRef{Platform: models.Spotify, PlaylistID: "p"}

		snap, _ := s.Capture(ctx, models.Spotify, playlist("p", "A"))
		snap.Tracks[0].Title = "mutated"

		latest, err := s.Latest(ctx, ref)
		if err != nil {
			t.Fatalf("latest failed: %v", err)
		}
		if latest.Tracks[0].Title != "A" {
			t.Errorf("stored snapshot was mutated through a returned copy: %q", latest.Tracks[0].Title)
		}
	})
}

func TestRead(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	ref := models.PlaylistRef{Platform: models.Spotify, PlaylistID: "p"}

	first, _ := s.Capture(ctx, models.Spotify, playlist("p", "A"))
	s.Capture(ctx, models.Spotify, playlist("p", "A", "B"))

	t.Run("get by revision", func(t *testing.T) {
		snap, err := s.Get(ctx, ref, 1)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if len(snap.Tracks) != 1 {
			t.Errorf("expected revision 1 to have 1 track, got %d", len(snap.Tracks))
		}
	})

	t.Run("zero revision means latest", func(t *testing.T) {
		snap, err := s.Get(ctx, ref, 0)
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if snap.Revision != 2 {
			t.Errorf("expected revision 2, got %d", snap.Revision)
		}
	})

	t.Run("by id", func(t *testing.T) {
		snap, err := s.ByID(ctx, first.ID)
		if err != nil {
			t.Fatalf("by id failed: %v", err)
		}
		if snap.Revision != 1 {
			t.Errorf("expected revision 1, got %d", snap.Revision)
		}
	})

	t.Run("list is newest first", func(t *testing.T) {
		list, err := s.List(ctx, ref)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(list) != 2 || list[0].Revision != 2 {
			t.Errorf("unexpected listing: %+v", list)
		}
	})

	t.Run("revision", func(t *testing.T) {
		rev, err := s.Revision(ctx, ref)
		if err != nil || rev != 2 {
			t.Errorf("expected revision 2, got %d (%v)", rev, err)
		}
		rev, err = s.Revision(ctx, models.PlaylistRef{Platform: models.Tidal, PlaylistID: "none"})
		if err != nil || rev != 0 {
			t.Errorf("expected revision 0 for unknown playlist, got %d (%v)", rev, err)
		}
	})

	t.Run("missing data", func(t *testing.T) {
		tests := []struct {
			name string
			fn   func() error
		}{
			{"unknown revision", func() error { _, err := s.Get(ctx, ref, 9); return err }},
			{"unknown playlist", func() error {
				_, err := s.Latest(ctx, models.PlaylistRef{Platform: models.Tidal, PlaylistID: "x"})
				return err
			}},
			{"unknown id", func() error { _, err := s.ByID(ctx, "nope"); return err }},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := tt.fn(); !errors.Is(err, shared.ErrNotFound) {
					t.Errorf("expected ErrNotFound, got %v", err)
				}
			})
		}
	})
}

func TestRetention(t *testing.T) {
	ctx := context.Background()
	ref := models.PlaylistRef{Platform: models.Spotify, PlaylistID: "p"}

	t.Run("keep last", func(t *testing.T) {
		s, _ := newStore(t, WithRetention(Retention{KeepLast: 2}))
		for range 5 {
			if _, err := s.Capture(ctx, models.Spotify, playlist("p", "A")); err != nil {
				t.Fatalf("capture failed: %v", err)
			}
		}

		list, _ := s.List(ctx, ref)
		if len(list) != 2 {
			t.Fatalf("expected 2 retained snapshots, got %d", len(list))
		}
		if list[0].Revision != 5 || list[1].Revision != 4 {
			t.Errorf("expected revisions 5 and 4, got %d and %d", list[0].Revision, list[1].Revision)
		}
		if _, err := s.Get(ctx, ref, 1); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected pruned revision to be gone, got %v", err)
		}
	})

	t.Run("max age never drops the newest", func(t *testing.T) {
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		s, _ := newStore(t,
			WithRetention(Retention{MaxAge: time.Hour}),
			WithClock(func() time.Time { return now }),
		)

		s.Capture(ctx, models.Spotify, playlist("p", "A"))
		now = now.Add(2 * time.Hour)
		s.Capture(ctx, models.Spotify, playlist("p", "A"))
		now = now.Add(10 * time.Minute)
		s.Capture(ctx, models.Spotify, playlist("p", "A"))

		list, _ := s.List(ctx, ref)
		if len(list) != 2 {
			t.Fatalf("expected 2 retained snapshots, got %d", len(list))
		}
		if list[len(list)-1].Revision != 2 {
			t.Errorf("expected oldest retained revision 2, got %d", list[len(list)-1].Revision)
		}
	})

	t.Run("revision keeps increasing after pruning", func(t *testing.T) {
		s, _ := newStore(t, WithRetention(Retention{KeepLast: 1}))
		s.Capture(ctx, models.Spotify, playlist("p", "A"))
		s.Capture(ctx, models.Spotify, playlist("p", "A"))
		snap, _ := s.Capture(ctx, models.Spotify, playlist("p", "A"))
		if snap.Revision != 3 {
			t.Errorf("expected revision 3, got %d", snap.Revision)
		}
	})
}

func TestRefs(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	s.Capture(ctx, models.Tidal, playlist("b", "A"))
	s.Capture(ctx, models.Spotify, playlist("a", "A"))

	refs, err := s.Refs(ctx)
	if err != nil {
		t.Fatalf("refs failed: %v", err)
	}
	if len(refs) != 2 || refs[0].Platform != models.Spotify {
		t.Errorf("expected refs sorted by platform, got %v", refs)
	}
}

// laggingBackend reports a stale revision for the next n lookups, like a second writer racing ahead.
type laggingBackend struct {
	*MemoryBackend
	n int
}

func (b *laggingBackend) Revision(ctx context.Context, ref models.PlaylistRef) (int64, error) {
	if b.n > 0 {
		b.n--
		return 0, nil
	}
	return b.MemoryBackend.Revision(ctx, ref)
}

func TestSharedBackend(t *testing.T) {
	ctx := context.Background()
	ref := models.PlaylistRef{Platform: models.Spotify, PlaylistID: "p1"}

	t.Run("captures by another store are visible", func(t *testing.T) {
		backend := NewMemoryBackend()
		serve, err := New(backend, 8)
		if err != nil {
			t.Fatal(err)
		}
		cli, err := New(backend, 8)
		if err != nil {
			t.Fatal(err)
		}

		if _, err := serve.Capture(ctx, models.Spotify, playlist("p1", "A")); err != nil {
			t.Fatal(err)
		}
		if _, err := serve.Latest(ctx, ref); err != nil {
			t.Fatal(err)
		}
		if _, err := cli.Capture(ctx, models.Spotify, playlist("p1", "A", "B")); err != nil {
			t.Fatal(err)
		}

		if rev, err := serve.Revision(ctx, ref); err != nil || rev != 2 {
			t.Errorf("Revision() = %d, %v; want 2", rev, err)
		}
		latest, err := serve.Latest(ctx, ref)
		if err != nil {
			t.Fatal(err)
		}
		if latest.Revision != 2 || len(latest.Tracks) != 2 {
			t.Errorf("Latest() served a stale body: revision %d, %d tracks", latest.Revision, len(latest.Tracks))
		}

		snap, err := serve.Capture(ctx, models.Spotify, playlist("p1", "A", "B", "C"))
		if err != nil {
			t.Fatalf("capture after a foreign write failed: %v", err)
		}
		if snap.Revision != 3 {
			t.Errorf("expected revision 3, got %d", snap.Revision)
		}
	})

	t.Run("retries when the revision was taken", func(t *testing.T) {
		backend := &laggingBackend{MemoryBackend: NewMemoryBackend()}
		s, err := New(backend, 8)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Capture(ctx, models.Spotify, playlist("p1", "A")); err != nil {
			t.Fatal(err)
		}

		backend.n = 1
		snap, err := s.Capture(ctx, models.Spotify, playlist("p1", "A", "B"))
		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if snap.Revision != 2 {
			t.Errorf("expected revision 2, got %d", snap.Revision)
		}
	})

	t.Run("gives up after repeated conflicts", func(t *testing.T) {
		backend := &laggingBackend{MemoryBackend: NewMemoryBackend()}
		s, err := New(backend, 8)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Capture(ctx, models.Spotify, playlist("p1", "A")); err != nil {
			t.Fatal(err)
		}

		backend.n = maxAppendAttempts
		_, err = s.Capture(ctx, models.Spotify, playlist("p1", "B"))
		if !errors.Is(err, shared.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})
}
