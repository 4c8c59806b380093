package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/desertthunder/audioarchitect/internal/models"
)

const (
	// Tolerance is how far apart two encodings of one recording may be.
	Tolerance int64 = 2000

	bucketWidth = 2 * Tolerance
	keyVersion  = "v1"
	keyLength   = 32
)

// DurationBucket rounds ms into a window of width 2×[Tolerance].
//
// Returns -1 for a missing duration.
func DurationBucket(ms int64) int64 {
	if ms <= 0 {
		return -1
	}
	return (ms + bucketWidth/2) / bucketWidth
}

// Fingerprint derives the canonical key for t from its normalized title, primary artist and
// duration bucket.
//
// When the duration or title is missing the key is built from what remains and degraded is true.
func Fingerprint(t models.Track) (key string, degraded bool) {
	title := NormalizeTitle(t.Title)
	artist := PrimaryArtist(t.Artist)

	bucket := "-"
	if b := DurationBucket(t.DurationMS); b >= 0 {
		bucket = strconv.FormatInt(b, 10)
	} else {
		degraded = true
	}
	if title == "" {
		degraded = true
	}

	sum := sha256.Sum256([]byte(keyVersion + "\x1f" + title + "\x1f" + artist + "\x1f" + bucket))
	return hex.EncodeToString(sum[:])[:keyLength], degraded
}

// Key returns t's fingerprint, computing it when t has not been resolved.
func Key(t models.Track) string {
	if t.Fingerprint != "" {
		return t.Fingerprint
	}
	key, _ := Fingerprint(t)
	return key
}

// Resolve returns a copy of t with Fingerprint and Degraded populated.
func Resolve(t models.Track) models.Track {
	t.Fingerprint, t.Degraded = Fingerprint(t)
	return t
}

// ResolveAll resolves every track into a new slice.
func ResolveAll(tracks []models.Track) []models.Track {
	out := make([]models.Track, len(tracks))
	for i, t := range tracks {
		out[i] = Resolve(t)
	}
	return out
}
