// Package models defines the value types shared by the sync and dedup engine.
//
// The package contains three groups of types:
//
// 1. Library state captured from streaming platforms
//   - [Track] : immutable song metadata; equality is by fingerprint only
//   - [Playlist] : ordered tracks as returned by a platform adapter
//   - [Snapshot] : immutable, revisioned capture of a playlist
//
// 2. Engine results
//   - [DiffResult] : additions, removals and minimal moves between two snapshots
//   - [DuplicateGroup] : equivalent tracks with a canonical member
//   - [MutationPlan] : ordered add/remove/move ops computed against known revisions
//   - [ExecutionReport] : per-op outcome of running a plan
//
// 3. Sync session vocabulary
//   - [SyncGroup], [SyncState], [Policy], [Conflict]
//
// Every persisted type carries stable snake_case JSON field names; revisions are int64 and
// survive a JSON round trip unchanged.
package models
