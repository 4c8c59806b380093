// Package repositories implements SQLite persistence for snapshots, plans and execution reports.
//
// Key Implementations:
//   - [SnapshotRepository] : append-only snapshot history, usable as a store.Backend
//   - [PlanRepository] : mutation plans with their status and execution reports
//
// Track lists, plans and reports are stored as JSON documents next to the columns used for lookups.
package repositories
