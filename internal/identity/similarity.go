package identity

import (
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/hbollon/go-edlib"
)

const (
	titleWeight    = 0.55
	artistWeight   = 0.35
	durationWeight = 0.10

	// durations further apart than this share no duration credit
	durationFalloff int64 = 30000
)

// Similarity scores how likely a and b are the same recording, in [0, 1].
//
// Titles are compared on [CoreTitle] so remasters and live takes of one song score high. The
// score is symmetric: inputs are put in a canonical order before comparing.
func Similarity(a, b models.Track) float64 {
	if ka, kb := Key(a), Key(b); ka == kb && !a.Degraded && !b.Degraded {
		return 1
	}

	ta, tb := CoreTitle(a.Title), CoreTitle(b.Title)
	aa, ab := PrimaryArtist(a.Artist), PrimaryArtist(b.Artist)
	da, db := a.DurationMS, b.DurationMS
	if ta > tb || (ta == tb && aa > ab) {
		ta, tb, aa, ab, da, db = tb, ta, ab, aa, db, da
	}

	score := titleWeight*stringSimilarity(ta, tb) +
		artistWeight*stringSimilarity(aa, ab) +
		durationWeight*durationSimilarity(da, db)
	return min(max(score, 0), 1)
}

func stringSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.JaroWinkler)
	if err != nil {
		return 0
	}
	return float64(sim)
}

func durationSimilarity(a, b int64) float64 {
	if a <= 0 || b <= 0 {
		return 0.5
	}
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	if diff <= Tolerance {
		return 1
	}
	if diff >= durationFalloff {
		return 0
	}
	return 1 - float64(diff-Tolerance)/float64(durationFalloff-Tolerance)
}
