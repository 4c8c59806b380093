// Package tasks runs playlist sync sessions and the planners that feed the Executor.
//
// # Sync sessions
//
// An [Orchestrator] drives one session per sync group through
//
//	Idle → Diffing → [ConflictResolution] → PlanReady → Executing → Committed | Failed
//
// Diffing captures every member concurrently and loads the group's last committed state (the
// ancestor, stored under platform "merged"). [BuildPlan] then performs a three-way merge per
// fingerprint using the session's [models.Policy]; [Resolve] is the policy itself and has no
// side effects. Under prefer-manual, conflicting tracks stop the session in ConflictResolution
// until [Orchestrator.ResolveConflict] has decided each one.
//
// The session leases every member playlist from start to finish. Cancellation is honored
// until execution starts; after that the session always runs to Committed or Failed.
//
// # Execution
//
// [Executor.Execute] refuses plans whose pinned revisions are behind the store, then applies
// ops with per-op exponential backoff and a per-platform rate limit. Playlists run concurrently,
// ops within one playlist run in listed order except that removals go ahead of adds of the same
// track. Every op ends applied, skipped or failed; nothing is rolled back.
//
// # Other planners
//
//   - [PlanShuffle] reorders one playlist (smart or pure shuffle) with moves only.
//   - [PlanTransfer] copies missing tracks one way and never removes.
//   - [BulkCapture] snapshots many playlists with a worker pool.
//
// # Progress Reporting
//
// Long operations accept an optional channel of [ProgressUpdate]. Sends never block; a full
// channel drops the update.
package tasks
