package tasks

import (
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
)

// MemberCount is how many times one member playlist holds a fingerprint.
type MemberCount struct {
	Ref       models.PlaylistRef
	Count     int
	ChangedAt time.Time
}

// Counts is the three-way merge input for one fingerprint.
type Counts struct {
	Fingerprint string
	Ancestor    int
	Members     []MemberCount
}

// Decision is a policy's verdict for one fingerprint: every member ends with Target occurrences.
//
// Conflict is set when some member added the track while another removed it. Under
// [models.PreferManual] a conflicting decision is not final until the caller resolves it.
type Decision struct {
	Target   int
	Conflict bool
	// Undecided is true only under prefer-manual, while the conflict waits for the caller.
	Undecided bool
}

// Resolve applies policy to one fingerprint.
func Resolve(policy models.Policy, c Counts) Decision {
	if len(c.Members) == 0 {
		return Decision{Target: c.Ancestor}
	}

	lo, hi := c.Members[0].Count, c.Members[0].Count
	var added, removed bool
	for _, m := range c.Members {
		lo, hi = min(lo, m.Count), max(hi, m.Count)
		added = added || m.Count > c.Ancestor
		removed = removed || m.Count < c.Ancestor
	}
	conflict := added && removed

	switch policy {
	case models.PreferLatest:
		if conflict {
			return Decision{Target: latest(c.Members).Count, Conflict: true}
		}
	case models.PreferManual:
		if conflict {
			return Decision{Target: c.Ancestor, Conflict: true, Undecided: true}
		}
	default:
		// Every member dropped copies: keep as many as the fullest member still holds.
		if hi < c.Ancestor {
			return Decision{Target: hi}
		}
		return Decision{Target: max(c.Ancestor, hi), Conflict: conflict}
	}

	switch {
	case added:
		return Decision{Target: hi}
	case removed:
		return Decision{Target: lo}
	default:
		return Decision{Target: c.Ancestor}
	}
}

// ResolveManual turns a caller's keep/drop answer into a decision.
func ResolveManual(c Counts, keep bool) Decision {
	target := 0
	for _, m := range c.Members {
		if keep {
			target = max(target, m.Count, c.Ancestor)
		}
	}
	return Decision{Target: target, Conflict: true}
}

// latest returns the member whose playlist changed most recently; ties go to the first listed.
func latest(members []MemberCount) MemberCount {
	best := members[0]
	for _, m := range members[1:] {
		if m.ChangedAt.After(best.ChangedAt) {
			best = m
		}
	}
	return best
}
