package tasks

import (
	"time"

	"github.com/desertthunder/audioarchitect/internal/diff"
	"github.com/desertthunder/audioarchitect/internal/identity"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

// PlanTransfer plans a one-way copy from source to dest: every source occurrence that dest does
// not already hold is appended, in source order. Nothing is removed or reordered.
//
// Platform IDs are dropped when the platforms differ so the destination adapter looks the
// track up itself.
func PlanTransfer(source, dest models.Snapshot) models.MutationPlan {
	have := diff.Counts(dest.Tracks)
	seen := make(map[string]int)

	plan := models.MutationPlan{
		ID:        shared.GenerateID(),
		CreatedAt: time.Now().UTC(),
		Revisions: map[string]int64{dest.Ref().String(): dest.Revision},
		Ops:       []models.MutationOp{},
	}

	pos := len(dest.Tracks)
	for _, t := range source.Tracks {
		key := identity.Key(t)
		seen[key]++
		if seen[key] <= have[key] {
			continue
		}
		if source.Platform != dest.Platform {
			t.PlatformID = ""
		}
		plan.Ops = append(plan.Ops, models.MutationOp{
			Kind:       models.OpAdd,
			Platform:   dest.Platform,
			PlaylistID: dest.PlaylistID,
			Track:      t,
			Position:   models.Index(pos),
		})
		pos++
	}
	return plan
}
