// Package dedupe finds duplicate tracks within a snapshot and proposes which copy to keep.
//
// Exact fingerprint collisions are grouped first. The remaining tracks are scored pairwise,
// but only against tracks sharing a core title, and pairs above the threshold are joined with
// union-find so near-duplicates chain into one group. Nothing is deleted: the result is a proposal.
package dedupe

import (
	"cmp"
	"slices"

	"github.com/desertthunder/audioarchitect/internal/identity"
	"github.com/desertthunder/audioarchitect/internal/models"
)

// DefaultThreshold is the similarity above which two tracks are considered duplicates.
const DefaultThreshold = 0.85

// Options tune [Find].
type Options struct {
	// Threshold in (0, 1]; zero or negative selects [DefaultThreshold].
	Threshold float64
}

func (o Options) threshold() float64 {
	if o.Threshold <= 0 {
		return DefaultThreshold
	}
	return min(o.Threshold, 1)
}

// Find returns the duplicate groups of snapshot, ordered by the first-seen member.
func Find(snapshot models.Snapshot, opts Options) []models.DuplicateGroup {
	return Tracks(snapshot.Tracks, opts)
}

// Tracks is [Find] over a bare track list.
func Tracks(tracks []models.Track, opts Options) []models.DuplicateGroup {
	threshold := opts.threshold()

	byKey := make(map[string][]int)
	var order []string
	for i, t := range tracks {
		key := identity.Key(t)
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], i)
	}

	var groups []models.DuplicateGroup
	var remainder []int
	for _, key := range order {
		idx := byKey[key]
		if len(idx) == 1 {
			remainder = append(remainder, idx[0])
			continue
		}
		groups = append(groups, exactGroup(tracks, idx))
	}

	groups = append(groups, fuzzyGroups(tracks, remainder, threshold)...)

	slices.SortFunc(groups, func(a, b models.DuplicateGroup) int {
		return cmp.Compare(a.Members[0].Index, b.Members[0].Index)
	})
	return groups
}

func exactGroup(tracks []models.Track, idx []int) models.DuplicateGroup {
	g := models.DuplicateGroup{Exact: true, Members: members(tracks, idx)}
	for a := 0; a < len(idx); a++ {
		for b := a + 1; b < len(idx); b++ {
			g.Scores = append(g.Scores, models.PairScore{A: a, B: b, Score: 1})
		}
	}
	g.Canonical = Canonical(g.Members)
	return g
}

func fuzzyGroups(tracks []models.Track, remainder []int, threshold float64) []models.DuplicateGroup {
	buckets := make(map[string][]int)
	var bucketOrder []string
	for _, i := range remainder {
		core := identity.CoreTitle(tracks[i].Title)
		if core == "" {
			continue
		}
		if _, ok := buckets[core]; !ok {
			bucketOrder = append(bucketOrder, core)
		}
		buckets[core] = append(buckets[core], i)
	}

	uf := newUnionFind(len(tracks))
	scores := make(map[[2]int]float64)
	for _, core := range bucketOrder {
		idx := buckets[core]
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				s := identity.Similarity(tracks[idx[a]], tracks[idx[b]])
				if s >= threshold {
					uf.union(idx[a], idx[b])
					scores[[2]int{idx[a], idx[b]}] = s
				}
			}
		}
	}

	components := make(map[int][]int)
	var roots []int
	for _, i := range remainder {
		root := uf.find(i)
		if _, ok := components[root]; !ok {
			roots = append(roots, root)
		}
		components[root] = append(components[root], i)
	}

	var groups []models.DuplicateGroup
	for _, root := range roots {
		idx := components[root]
		if len(idx) < 2 {
			continue
		}
		slices.Sort(idx)
		g := models.DuplicateGroup{Members: members(tracks, idx)}
		for a := 0; a < len(idx); a++ {
			for b := a + 1; b < len(idx); b++ {
				s, ok := scores[[2]int{idx[a], idx[b]}]
				if !ok {
					s = identity.Similarity(tracks[idx[a]], tracks[idx[b]])
				}
				g.Scores = append(g.Scores, models.PairScore{A: a, B: b, Score: s})
			}
		}
		g.Canonical = Canonical(g.Members)
		groups = append(groups, g)
	}
	return groups
}

func members(tracks []models.Track, idx []int) []models.GroupMember {
	out := make([]models.GroupMember, len(idx))
	for i, j := range idx {
		out[i] = models.GroupMember{Index: j, Track: tracks[j]}
	}
	return out
}

// Canonical picks the member to keep: longest duration, then lexicographically smallest
// title, then earliest seen.
func Canonical(members []models.GroupMember) int {
	best := 0
	for i := 1; i < len(members); i++ {
		a, b := members[i], members[best]
		switch {
		case a.Track.DurationMS != b.Track.DurationMS:
			if a.Track.DurationMS > b.Track.DurationMS {
				best = i
			}
		case a.Track.Title != b.Track.Title:
			if a.Track.Title < b.Track.Title {
				best = i
			}
		case a.Index < b.Index:
			best = i
		}
	}
	return best
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}
}
