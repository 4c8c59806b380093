package tasks

import (
	"fmt"
	"slices"
	"time"

	"github.com/desertthunder/audioarchitect/internal/diff"
	"github.com/desertthunder/audioarchitect/internal/identity"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

// PlanInput is everything the planner needs for one sync group.
type PlanInput struct {
	Group  models.SyncGroup
	Policy models.Policy
	// Ancestor is the group's last committed state; a zero snapshot means no sync happened yet.
	Ancestor models.Snapshot
	// Current holds the latest snapshot of every member.
	Current map[models.PlaylistRef]models.Snapshot
	// Resolutions answers prefer-manual conflicts: fingerprint -> keep.
	Resolutions map[string]bool
	// Reorder emits moves so every member ends in the merged order.
	Reorder bool
}

// PlanResult is a computed plan plus the merge it realizes.
type PlanResult struct {
	Plan      models.MutationPlan
	Merged    []models.Track
	Conflicts []models.Conflict
	Diffs     []models.PlatformDiff
}

// Unresolved returns the conflicts still waiting for the caller.
func (r PlanResult) Unresolved() []models.Conflict {
	var out []models.Conflict
	for _, c := range r.Conflicts {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}

// entry is one position of the merged order together with the platform its metadata came from.
type entry struct {
	track    models.Track
	platform models.Platform
}

// BuildPlan performs the three-way merge of every member against the ancestor and emits the ops
// that bring each member to the merged result.
//
// Under prefer-manual, conflicts without an entry in Resolutions make BuildPlan return the
// partial result and an error wrapping [shared.ErrConflict]; no ops are planned.
func BuildPlan(in PlanInput) (*PlanResult, error) {
	if len(in.Group.Members) == 0 {
		return nil, fmt.Errorf("%w: group %s has no members", shared.ErrInvalidInput, in.Group.ID)
	}
	members := make([]models.Snapshot, len(in.Group.Members))
	for i, ref := range in.Group.Members {
		snap, ok := in.Current[ref]
		if !ok {
			return nil, fmt.Errorf("%w: no snapshot of member %s", shared.ErrNotFound, ref)
		}
		members[i] = snap
	}

	result := &PlanResult{}
	for _, snap := range members {
		result.Diffs = append(result.Diffs, models.PlatformDiff{
			Ref:  snap.Ref(),
			Diff: diff.Tracks(in.Ancestor.Tracks, snap.Tracks),
		})
	}

	targets, conflicts := decide(in, members)
	result.Conflicts = conflicts
	if pending := result.Unresolved(); len(pending) > 0 {
		return result, fmt.Errorf("%w: %d track(s) need a decision", shared.ErrConflict, len(pending))
	}

	merged := mergeOrder(members, in.Ancestor, targets)
	result.Merged = make([]models.Track, len(merged))
	for i, e := range merged {
		result.Merged[i] = e.track
	}

	plan := models.MutationPlan{
		ID:        shared.GenerateID(),
		GroupID:   in.Group.ID,
		Policy:    in.Policy,
		CreatedAt: time.Now().UTC(),
		Revisions: make(map[string]int64, len(members)),
	}
	for _, snap := range members {
		plan.Revisions[snap.Ref().String()] = snap.Revision
		plan.Ops = append(plan.Ops, memberOps(snap, merged, targets, in.Reorder)...)
	}
	result.Plan = plan
	return result, nil
}

// decide runs the policy for every fingerprint seen on any member or the ancestor.
func decide(in PlanInput, members []models.Snapshot) (map[string]int, []models.Conflict) {
	counts := make([]map[string]int, len(members))
	for i, snap := range members {
		counts[i] = diff.Counts(snap.Tracks)
	}
	ancestor := diff.Counts(in.Ancestor.Tracks)

	var (
		order  []string
		sample = make(map[string]models.Track)
	)
	see := func(tracks []models.Track) {
		for _, t := range tracks {
			key := identity.Key(t)
			if _, ok := sample[key]; !ok {
				sample[key] = t
				order = append(order, key)
			}
		}
	}
	for _, snap := range members {
		see(snap.Tracks)
	}
	see(in.Ancestor.Tracks)

	targets := make(map[string]int, len(order))
	var conflicts []models.Conflict
	for _, key := range order {
		c := Counts{Fingerprint: key, Ancestor: ancestor[key]}
		for i, snap := range members {
			c.Members = append(c.Members, MemberCount{Ref: snap.Ref(), Count: counts[i][key], ChangedAt: snap.ChangedAt()})
		}

		d := Resolve(in.Policy, c)
		if d.Conflict {
			conflict := models.Conflict{Fingerprint: key, Track: sample[key], Resolved: !d.Undecided}
			for _, m := range c.Members {
				switch {
				case m.Count > c.Ancestor:
					conflict.AddedOn = append(conflict.AddedOn, m.Ref.Platform)
				case m.Count < c.Ancestor:
					conflict.RemovedOn = append(conflict.RemovedOn, m.Ref.Platform)
				}
			}
			if d.Undecided {
				if keep, ok := in.Resolutions[key]; ok {
					d = ResolveManual(c, keep)
					conflict.Resolved = true
				}
			}
			conflict.Keep = d.Target > 0
			conflicts = append(conflicts, conflict)
		}
		targets[key] = d.Target
	}
	return targets, conflicts
}

// mergeOrder lays out the merged playlist: the first member's order, trimmed to each target
// count, with missing occurrences inserted after the track that precedes them on the member
// (or ancestor) where they were found.
func mergeOrder(members []models.Snapshot, ancestor models.Snapshot, targets map[string]int) []entry {
	var merged []entry
	have := make(map[string]int)

	for _, t := range members[0].Tracks {
		key := identity.Key(t)
		if have[key] < targets[key] {
			merged = append(merged, entry{track: t, platform: members[0].Platform})
			have[key]++
		}
	}

	sources := append(slices.Clone(members[1:]), ancestor)
	for _, src := range sources {
		for i, t := range src.Tracks {
			key := identity.Key(t)
			if have[key] >= targets[key] {
				continue
			}
			pos := len(merged)
			if i == 0 {
				pos = 0
			} else if anchor := lastIndex(merged, identity.Key(src.Tracks[i-1])); anchor >= 0 {
				pos = anchor + 1
			}
			merged = slices.Insert(merged, pos, entry{track: t, platform: src.Platform})
			have[key]++
		}
	}
	return merged
}

func lastIndex(entries []entry, key string) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if identity.Key(entries[i].track) == key {
			return i
		}
	}
	return -1
}

// slot is a track on the simulated playlist labelled with its index in the merged order.
type slot struct {
	track  models.Track
	target int
	moved  bool
}

// memberOps emits removals (descending index), adds (ascending position) and, with reorder,
// the moves that sort the member into the merged order.
func memberOps(snap models.Snapshot, merged []entry, targets map[string]int, reorder bool) []models.MutationOp {
	ref := snap.Ref()
	op := func(kind models.OpKind, t models.Track) models.MutationOp {
		return models.MutationOp{Kind: kind, Platform: ref.Platform, PlaylistID: ref.PlaylistID, Track: t}
	}

	var ops []models.MutationOp

	// Excess occurrences beyond the target go, latest first.
	seen := make(map[string]int)
	keep := make([]bool, len(snap.Tracks))
	for i, t := range snap.Tracks {
		key := identity.Key(t)
		keep[i] = seen[key] < targets[key]
		seen[key]++
	}
	for i := len(snap.Tracks) - 1; i >= 0; i-- {
		if !keep[i] {
			o := op(models.OpRemove, snap.Tracks[i])
			o.From = models.Index(i)
			ops = append(ops, o)
		}
	}

	// Label survivors with the merged index of the same occurrence.
	positions := make(map[string][]int)
	for j, e := range merged {
		key := identity.Key(e.track)
		positions[key] = append(positions[key], j)
	}
	used := make(map[string]int)
	matched := make([]bool, len(merged))
	var sim []slot
	for i, t := range snap.Tracks {
		if !keep[i] {
			continue
		}
		key := identity.Key(t)
		j := positions[key][used[key]]
		used[key]++
		matched[j] = true
		sim = append(sim, slot{track: t, target: j})
	}

	for j, e := range merged {
		if matched[j] {
			continue
		}
		pos := 0
		for _, s := range sim {
			if s.target < j {
				pos++
			}
		}
		t := e.track
		if e.platform != ref.Platform {
			t.PlatformID = ""
		}
		o := op(models.OpAdd, t)
		o.Position = models.Index(pos)
		ops = append(ops, o)
		sim = slices.Insert(sim, pos, slot{track: t, target: j})
	}

	if reorder {
		ops = append(ops, sortMoves(ref, sim)...)
	}
	return ops
}

// sortMoves sorts sim by target with single-item moves. Items off the longest increasing run of
// targets are sent straight to their final index once; the rest are pulled forward in order.
func sortMoves(ref models.PlaylistRef, sim []slot) []models.MutationOp {
	labels := make([]int, len(sim))
	for i, s := range sim {
		labels[i] = s.target
	}
	stable := make([]bool, len(sim))
	for _, i := range diff.IncreasingSubsequence(labels) {
		stable[i] = true
	}
	for i := range sim {
		sim[i].moved = stable[i]
	}

	var ops []models.MutationOp
	move := func(from, to int) {
		s := sim[from]
		s.moved = true
		sim = slices.Delete(sim, from, from+1)
		sim = slices.Insert(sim, to, s)
		ops = append(ops, models.MutationOp{
			Kind: models.OpMove, Platform: ref.Platform, PlaylistID: ref.PlaylistID,
			Track: s.track, From: models.Index(from), Position: models.Index(to),
		})
	}

	for j := 0; j < len(sim); {
		if sim[j].target == j {
			j++
			continue
		}
		if !sim[j].moved {
			move(j, min(sim[j].target, len(sim)-1))
			continue
		}
		k := slices.IndexFunc(sim[j+1:], func(s slot) bool { return s.target == j }) + j + 1
		move(k, j)
		j++
	}
	return ops
}
