package tasks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/audioarchitect/internal/identity"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/services"
	tu "github.com/desertthunder/audioarchitect/internal/testing"
)

// songs builds fingerprinted tracks from single-token titles; "5" becomes "Song 5".
func songs(titles ...string) []models.Track {
	tracks := make([]models.Track, len(titles))
	for i, title := range titles {
		tracks[i] = models.Track{Title: "Song " + title, Artist: "Artist", DurationMS: 200_000}
	}
	return identity.ResolveAll(tracks)
}

func snapshot(ref models.PlaylistRef, revision int64, titles ...string) models.Snapshot {
	return models.Snapshot{
		ID:         ref.String(),
		Platform:   ref.Platform,
		PlaylistID: ref.PlaylistID,
		Revision:   revision,
		CapturedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Tracks:     songs(titles...),
	}
}

func titles(tracks []models.Track) string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = strings.TrimPrefix(t.Title, "Song ")
	}
	return strings.Join(out, ",")
}

func split(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func registry(platforms ...*tu.MemoryPlatform) *services.Registry {
	reg := services.NewRegistry()
	for _, p := range platforms {
		reg.Register(p)
	}
	return reg
}

// revisionMap is a fixed [RevisionSource].
type revisionMap map[models.PlaylistRef]int64

func (r revisionMap) Revision(_ context.Context, ref models.PlaylistRef) (int64, error) {
	return r[ref], nil
}

func fastRetries() ExecutorOption {
	return WithRetryPolicy(RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond})
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
