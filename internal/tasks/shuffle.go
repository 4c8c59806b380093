package tasks

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/desertthunder/audioarchitect/internal/identity"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

// ShuffleAlgorithm selects how [PlanShuffle] orders tracks.
type ShuffleAlgorithm string

const (
	// SmartShuffle spreads tracks by the same primary artist evenly across the playlist.
	SmartShuffle ShuffleAlgorithm = "smart"
	// PureShuffle is a uniform Fisher-Yates permutation.
	PureShuffle ShuffleAlgorithm = "pure"
)

// ParseShuffleAlgorithm accepts "smart", "pure" or "" (smart).
func ParseShuffleAlgorithm(s string) (ShuffleAlgorithm, error) {
	switch ShuffleAlgorithm(s) {
	case "", SmartShuffle:
		return SmartShuffle, nil
	case PureShuffle:
		return PureShuffle, nil
	}
	return "", fmt.Errorf("%w: unknown shuffle algorithm %q", shared.ErrInvalidArgument, s)
}

// PlanShuffle computes a new order for snap and returns the move plan that realizes it.
//
// The plan is pinned to snap's revision so the Executor refuses it once the playlist changes.
// The same seed always yields the same plan.
func PlanShuffle(snap models.Snapshot, algorithm ShuffleAlgorithm, seed uint64) (models.MutationPlan, []models.Track, error) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	var order []int
	switch algorithm {
	case PureShuffle:
		order = pureOrder(len(snap.Tracks), rng)
	case SmartShuffle, "":
		order = smartOrder(snap.Tracks, rng)
	default:
		return models.MutationPlan{}, nil, fmt.Errorf("%w: unknown shuffle algorithm %q", shared.ErrInvalidArgument, algorithm)
	}

	shuffled := make([]models.Track, len(order))
	for j, i := range order {
		shuffled[j] = snap.Tracks[i]
	}

	plan := models.MutationPlan{
		ID:        shared.GenerateID(),
		CreatedAt: time.Now().UTC(),
		Revisions: map[string]int64{snap.Ref().String(): snap.Revision},
		Ops:       movesFor(snap, order),
	}
	return plan, shuffled, nil
}

func pureOrder(n int, rng *rand.Rand) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

// smartOrder gives every track of an artist evenly spaced slots in [0, 1) with a random phase
// and a little jitter, then sorts by slot.
func smartOrder(tracks []models.Track, rng *rand.Rand) []int {
	byArtist := make(map[string][]int)
	var artists []string
	for i, t := range tracks {
		a := identity.PrimaryArtist(t.Artist)
		if _, ok := byArtist[a]; !ok {
			artists = append(artists, a)
		}
		byArtist[a] = append(byArtist[a], i)
	}

	type slot struct {
		index int
		pos   float64
	}
	slots := make([]slot, 0, len(tracks))
	for _, a := range artists {
		idx := byArtist[a]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		n := float64(len(idx))
		phase := rng.Float64() / n
		for k, i := range idx {
			jitter := (rng.Float64() - 0.5) * 0.1 / n
			slots = append(slots, slot{index: i, pos: phase + float64(k)/n + jitter})
		}
	}
	slices.SortStableFunc(slots, func(a, b slot) int {
		switch {
		case a.pos < b.pos:
			return -1
		case a.pos > b.pos:
			return 1
		}
		return 0
	})

	order := make([]int, len(slots))
	for j, s := range slots {
		order[j] = s.index
	}
	return order
}

// movesFor emits moves that turn snap.Tracks into the permutation order, placing one position
// at a time from the front.
func movesFor(snap models.Snapshot, order []int) []models.MutationOp {
	working := make([]int, len(order))
	for i := range working {
		working[i] = i
	}

	var ops []models.MutationOp
	for j, want := range order {
		k := slices.Index(working[j:], want) + j
		if k == j {
			continue
		}
		working = slices.Delete(working, k, k+1)
		working = slices.Insert(working, j, want)
		ops = append(ops, models.MutationOp{
			Kind:       models.OpMove,
			Platform:   snap.Platform,
			PlaylistID: snap.PlaylistID,
			Track:      snap.Tracks[want],
			From:       models.Index(k),
			Position:   models.Index(j),
		})
	}
	return ops
}
