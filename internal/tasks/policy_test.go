package tasks

import (
	"testing"
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
)

var (
	refA = models.PlaylistRef{Platform: models.Spotify, PlaylistID: "a"}
	refB = models.PlaylistRef{Platform: models.YouTubeMusic, PlaylistID: "b"}
)

func counts(ancestor, a, b int, aChanged, bChanged time.Time) Counts {
	return Counts{
		Fingerprint: "fp",
		Ancestor:    ancestor,
		Members: []MemberCount{
			{Ref: refA, Count: a, ChangedAt: aChanged},
			{Ref: refB, Count: b, ChangedAt: bChanged},
		},
	}
}

func TestResolve(t *testing.T) {
	early := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)

	tests := []struct {
		name   string
		policy models.Policy
		in     Counts
		want   Decision
	}{
		{"union keeps a track removed on one side", models.PreferUnion, counts(1, 1, 0, early, late), Decision{Target: 1}},
		{"union removes when every member removed", models.PreferUnion, counts(1, 0, 0, early, late), Decision{Target: 0}},
		{"union keeps the copy one member still holds", models.PreferUnion, counts(2, 1, 0, early, late), Decision{Target: 1}},
		{"union keeps the larger remainder", models.PreferUnion, counts(3, 2, 1, early, late), Decision{Target: 2}},
		{"union adds new track everywhere", models.PreferUnion, counts(0, 1, 0, early, late), Decision{Target: 1}},
		{"union flags add versus remove", models.PreferUnion, counts(1, 2, 0, early, late), Decision{Target: 2, Conflict: true}},
		{"union keeps the larger multiplicity", models.PreferUnion, counts(2, 3, 1, early, late), Decision{Target: 3, Conflict: true}},
		{"unchanged", models.PreferUnion, counts(2, 2, 2, early, late), Decision{Target: 2}},
		{"latest follows newest member on conflict", models.PreferLatest, counts(1, 2, 0, early, late), Decision{Target: 0, Conflict: true}},
		{"latest follows other member when it is newer", models.PreferLatest, counts(1, 2, 0, late, early), Decision{Target: 2, Conflict: true}},
		{"latest applies a removal without conflict", models.PreferLatest, counts(1, 1, 0, late, early), Decision{Target: 0}},
		{"latest applies an add without conflict", models.PreferLatest, counts(0, 0, 1, late, early), Decision{Target: 1}},
		{"manual blocks on conflict", models.PreferManual, counts(1, 2, 0, early, late), Decision{Target: 1, Conflict: true, Undecided: true}},
		{"manual applies a removal without conflict", models.PreferManual, counts(1, 1, 0, early, late), Decision{Target: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.policy, tt.in); got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}

	t.Run("no members keeps ancestor", func(t *testing.T) {
		if got := Resolve(models.PreferUnion, Counts{Ancestor: 2}); got.Target != 2 {
			t.Errorf("expected target 2, got %d", got.Target)
		}
	})
}

func TestResolveManual(t *testing.T) {
	c := counts(1, 2, 0, time.Time{}, time.Time{})

	if got := ResolveManual(c, true); got.Target != 2 || !got.Conflict {
		t.Errorf("keep: got %+v, want target 2", got)
	}
	if got := ResolveManual(c, false); got.Target != 0 {
		t.Errorf("drop: got %+v, want target 0", got)
	}
}

func TestNoDataLoss(t *testing.T) {
	// Under prefer-union a fingerprint never drops below what the fullest member holds.
	for ancestor := range 4 {
		for a := range 4 {
			for b := range 4 {
				d := Resolve(models.PreferUnion, counts(ancestor, a, b, time.Time{}, time.Time{}))
				if d.Target < max(a, b) {
					t.Errorf("ancestor=%d a=%d b=%d: target %d loses data", ancestor, a, b, d.Target)
				}
			}
		}
	}
}
