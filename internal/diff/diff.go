// Package diff computes what changed between two snapshots of one logical playlist.
//
// Tracks are compared by fingerprint multiset, so a song the user deliberately added twice
// counts twice. Repeated fingerprints are matched positionally: the k-th occurrence before
// pairs with the k-th occurrence after.
package diff

import (
	"slices"

	"github.com/desertthunder/audioarchitect/internal/identity"
	"github.com/desertthunder/audioarchitect/internal/models"
)

// Pair links an occurrence in the old sequence to the same fingerprint's occurrence in the new one.
type Pair struct {
	Before int
	After  int
	Stable bool // part of the longest common subsequence; does not need to move
}

// Alignment is the positional matching of two fingerprint sequences.
type Alignment struct {
	Pairs   []Pair // in Before order
	Removed []int  // indices into the old sequence with no partner
	Added   []int  // indices into the new sequence with no partner
}

// Align matches before against after and marks the pairs on a longest common subsequence.
func Align(before, after []string) Alignment {
	occurrences := make(map[string][]int, len(after))
	for j, key := range after {
		occurrences[key] = append(occurrences[key], j)
	}

	var al Alignment
	matchedAfter := make([]bool, len(after))
	used := make(map[string]int, len(occurrences))
	for i, key := range before {
		k := used[key]
		if k >= len(occurrences[key]) {
			al.Removed = append(al.Removed, i)
			continue
		}
		used[key] = k + 1
		j := occurrences[key][k]
		matchedAfter[j] = true
		al.Pairs = append(al.Pairs, Pair{Before: i, After: j})
	}

	for j, matched := range matchedAfter {
		if !matched {
			al.Added = append(al.Added, j)
		}
	}

	targets := make([]int, len(al.Pairs))
	for i, p := range al.Pairs {
		targets[i] = p.After
	}
	for _, i := range IncreasingSubsequence(targets) {
		al.Pairs[i].Stable = true
	}
	return al
}

// Tracks diffs two ordered track lists.
func Tracks(before, after []models.Track) models.DiffResult {
	al := Align(keys(before), keys(after))

	result := models.DiffResult{
		Added:     make([]models.Track, 0, len(al.Added)),
		Removed:   make([]models.Track, 0, len(al.Removed)),
		Reordered: []models.Move{},
	}
	for _, i := range al.Removed {
		result.Removed = append(result.Removed, before[i])
	}
	for _, j := range al.Added {
		result.Added = append(result.Added, after[j])
	}
	for _, p := range al.Pairs {
		if !p.Stable {
			result.Reordered = append(result.Reordered, models.Move{
				Track:    after[p.After],
				OldIndex: p.Before,
				NewIndex: p.After,
			})
		}
	}
	slices.SortFunc(result.Reordered, func(a, b models.Move) int { return a.NewIndex - b.NewIndex })
	return result
}

// Diff compares two snapshots of the same logical playlist.
func Diff(before, after models.Snapshot) models.DiffResult {
	return Tracks(before.Tracks, after.Tracks)
}

// Counts returns the fingerprint multiset of tracks.
func Counts(tracks []models.Track) map[string]int {
	counts := make(map[string]int, len(tracks))
	for _, t := range tracks {
		counts[identity.Key(t)]++
	}
	return counts
}

func keys(tracks []models.Track) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = identity.Key(t)
	}
	return out
}

// IncreasingSubsequence returns the positions of a longest strictly increasing subsequence of
// seq. Ties resolve to the earliest elements so the result is deterministic.
func IncreasingSubsequence(seq []int) []int {
	if len(seq) == 0 {
		return nil
	}

	tails := make([]int, 0, len(seq)) // tails[k] = position of smallest tail of a run of length k+1
	prev := make([]int, len(seq))
	for i, v := range seq {
		k, _ := slices.BinarySearchFunc(tails, v, func(pos, target int) int { return seq[pos] - target })
		if k > 0 {
			prev[i] = tails[k-1]
		} else {
			prev[i] = -1
		}
		if k == len(tails) {
			tails = append(tails, i)
		} else {
			tails[k] = i
		}
	}

	out := make([]int, len(tails))
	for i, k := tails[len(tails)-1], len(tails)-1; k >= 0; i, k = prev[i], k-1 {
		out[k] = i
	}
	return out
}
