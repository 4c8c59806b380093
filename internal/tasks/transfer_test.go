package tasks

import (
	"testing"

	"github.com/desertthunder/audioarchitect/internal/models"
)

func TestPlanTransfer(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		dest      string
		wantAdded string
	}{
		{"copies missing tracks in source order", "1,2,3", "2", "1,3"},
		{"respects multiplicity", "1,1,2", "1", "1,2"},
		{"nothing missing", "1,2", "2,1,3", ""},
		{"empty destination", "1,2", "", "1,2"},
		{"empty source", "", "1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := snapshot(refA, 1, split(tt.source)...)
			dest := snapshot(refB, 9, split(tt.dest)...)

			plan := PlanTransfer(source, dest)
			var added []models.Track
			for i, op := range plan.Ops {
				if op.Kind != models.OpAdd || op.Ref() != refB {
					t.Fatalf("transfer must only add to the destination, got %v", op)
				}
				if *op.Position != len(dest.Tracks)+i {
					t.Errorf("op %d appended at %d, want %d", i, *op.Position, len(dest.Tracks)+i)
				}
				added = append(added, op.Track)
			}
			if got := titles(added); got != tt.wantAdded {
				t.Errorf("added %q, want %q", got, tt.wantAdded)
			}
			if plan.Revisions[refB.String()] != 9 || len(plan.Revisions) != 1 {
				t.Errorf("plan must pin only the destination, got %v", plan.Revisions)
			}
		})
	}

	t.Run("cross-platform adds drop the source id", func(t *testing.T) {
		source := snapshot(refA, 1, "1")
		source.Tracks[0].PlatformID = "spotify:track:1"
		plan := PlanTransfer(source, snapshot(refB, 1))
		if plan.Ops[0].Track.PlatformID != "" {
			t.Errorf("expected platform id cleared, got %q", plan.Ops[0].Track.PlatformID)
		}

		same := models.PlaylistRef{Platform: refA.Platform, PlaylistID: "other"}
		plan = PlanTransfer(source, snapshot(same, 1))
		if plan.Ops[0].Track.PlatformID != "spotify:track:1" {
			t.Errorf("same-platform transfer should keep the id")
		}
	})
}
