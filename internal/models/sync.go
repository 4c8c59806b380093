package models

import (
	"fmt"
	"time"
)

// SyncState is the lifecycle state of a sync session.
type SyncState string

const (
	StateIdle               SyncState = "idle"
	StateDiffing            SyncState = "diffing"
	StateConflictResolution SyncState = "conflict_resolution"
	StatePlanReady          SyncState = "plan_ready"
	StateExecuting          SyncState = "executing"
	StateCommitted          SyncState = "committed"
	StateFailed             SyncState = "failed"
)

// Terminal reports whether no further transition is possible within the session.
func (s SyncState) Terminal() bool {
	return s == StateCommitted || s == StateFailed || s == StateIdle
}

// Policy selects how conflicting edits are resolved.
type Policy string

const (
	PreferUnion  Policy = "prefer-union"
	PreferLatest Policy = "prefer-latest-timestamp"
	PreferManual Policy = "prefer-manual"
)

// ParsePolicy accepts the policy names plus the empty string, which means [PreferUnion].
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PreferUnion:
		return PreferUnion, nil
	case PreferLatest, "prefer-latest":
		return PreferLatest, nil
	case PreferManual:
		return PreferManual, nil
	}
	return "", fmt.Errorf("unknown conflict policy %q", s)
}

// SyncGroup is one logical playlist mirrored on several platforms.
type SyncGroup struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Members []PlaylistRef `json:"members"`
}

// Conflict is a track added on some platforms and removed on others since the common ancestor.
type Conflict struct {
	Fingerprint string     `json:"fingerprint"`
	Track       Track      `json:"track"`
	AddedOn     []Platform `json:"added_on"`
	RemovedOn   []Platform `json:"removed_on"`
	Resolved    bool       `json:"resolved"`
	Keep        bool       `json:"keep"`
}

// SessionStatus is the externally visible state of a sync session.
type SessionStatus struct {
	ID        string           `json:"id"`
	GroupID   string           `json:"group_id"`
	Policy    Policy           `json:"policy"`
	State     SyncState        `json:"state"`
	Cancelled bool             `json:"cancelled,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Conflicts []Conflict       `json:"conflicts,omitempty"`
	Diffs     []PlatformDiff   `json:"diffs,omitempty"`
	Plan      *MutationPlan    `json:"plan,omitempty"`
	Report    *ExecutionReport `json:"report,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// PlatformDiff is the diff of one member against the common ancestor.
type PlatformDiff struct {
	Ref  PlaylistRef `json:"ref"`
	Diff DiffResult  `json:"diff"`
}
