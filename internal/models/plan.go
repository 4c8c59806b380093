package models

import (
	"fmt"
	"time"
)

// OpKind is the kind of a [MutationOp].
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpRemove OpKind = "remove"
	OpMove   OpKind = "move"
)

// MutationOp is one pending change against a platform playlist.
//
// Position is the target index for add and move. From is the current index of the track for
// move, and an optional hint for remove.
type MutationOp struct {
	Kind       OpKind   `json:"op"`
	Platform   Platform `json:"platform"`
	PlaylistID string   `json:"playlist_id"`
	Track      Track    `json:"track"`
	Position   *int     `json:"position,omitempty"`
	From       *int     `json:"from,omitempty"`
}

// Ref returns the playlist the op targets.
func (o MutationOp) Ref() PlaylistRef {
	return PlaylistRef{Platform: o.Platform, PlaylistID: o.PlaylistID}
}

func (o MutationOp) String() string {
	switch {
	case o.Kind == OpMove && o.From != nil && o.Position != nil:
		return fmt.Sprintf("move %q %d->%d on %s", o.Track.Title, *o.From, *o.Position, o.Ref())
	case o.Position != nil:
		return fmt.Sprintf("%s %q at %d on %s", o.Kind, o.Track.Title, *o.Position, o.Ref())
	default:
		return fmt.Sprintf("%s %q on %s", o.Kind, o.Track.Title, o.Ref())
	}
}

// Index returns a pointer to i, for [MutationOp.Position] and [MutationOp.From].
func Index(i int) *int { return &i }

// MutationPlan is an immutable, ordered list of ops.
//
// Revisions records, per playlist ref string, the snapshot revision the plan was computed
// against; execution is refused if any stored revision has moved past it.
type MutationPlan struct {
	ID        string           `json:"id"`
	GroupID   string           `json:"group_id,omitempty"`
	Policy    Policy           `json:"policy,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	Revisions map[string]int64 `json:"revisions"`
	Ops       []MutationOp     `json:"ops"`
}

// Targets returns every playlist the plan touches, in first-seen order.
func (p MutationPlan) Targets() []PlaylistRef {
	seen := make(map[PlaylistRef]bool)
	var refs []PlaylistRef
	for _, op := range p.Ops {
		if ref := op.Ref(); !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs
}

// OpStatus is the outcome of one op.
type OpStatus string

const (
	OpApplied OpStatus = "applied"
	OpSkipped OpStatus = "skipped"
	OpFailed  OpStatus = "failed"
)

// OpResult records how an op ended, including its retry bookkeeping.
type OpResult struct {
	Index          int        `json:"index"`
	Op             MutationOp `json:"op"`
	Status         OpStatus   `json:"status"`
	Attempts       int        `json:"attempts"`
	NextEligibleAt time.Time  `json:"next_eligible_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Outcome summarizes an execution for callers.
type Outcome string

const (
	NothingChanged   Outcome = "nothing_changed"
	PartiallyApplied Outcome = "partially_applied"
	FullyApplied     Outcome = "fully_applied"
	// Stale means the plan was refused because a target playlist changed after planning.
	Stale Outcome = "stale"
)

// ExecutionReport is the result of running a [MutationPlan].
//
// CaptureRequests lists playlists that must be re-captured so the store reflects what the
// platforms actually hold.
type ExecutionReport struct {
	ID              string        `json:"id"`
	PlanID          string        `json:"plan_id"`
	Outcome         Outcome       `json:"outcome"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      time.Time     `json:"finished_at"`
	Results         []OpResult    `json:"results"`
	CaptureRequests []PlaylistRef `json:"capture_requests"`
}

// Counts tallies results by status.
func (r ExecutionReport) Counts() map[OpStatus]int {
	counts := make(map[OpStatus]int, 3)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Succeeded reports whether no op failed.
func (r ExecutionReport) Succeeded() bool {
	return r.Counts()[OpFailed] == 0
}

// Summarize derives the outcome from per-op results.
func Summarize(results []OpResult) Outcome {
	var applied, failed int
	for _, res := range results {
		switch res.Status {
		case OpApplied:
			applied++
		case OpFailed:
			failed++
		}
	}
	switch {
	case applied == 0:
		return NothingChanged
	case failed > 0:
		return PartiallyApplied
	default:
		return FullyApplied
	}
}

// PlanStatus is the persisted lifecycle of a plan.
type PlanStatus string

const (
	PlanReady     PlanStatus = "ready"
	PlanExecuting PlanStatus = "executing"
	PlanCommitted PlanStatus = "committed"
	PlanFailed    PlanStatus = "failed"
	PlanCancelled PlanStatus = "cancelled"
	// PlanAbandoned marks a plan found executing after a restart.
	PlanAbandoned PlanStatus = "abandoned"
)
