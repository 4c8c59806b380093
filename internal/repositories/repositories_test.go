package repositories

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"github.com/desertthunder/audioarchitect/internal/store"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.OpenDatabase(context.Background(), shared.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func snapshot(id string, revision int64, capturedAt time.Time) models.Snapshot {
	return models.Snapshot{
		ID:         id,
		Platform:   models.Spotify,
		PlaylistID: "p1",
		Name:       "Road Trip",
		Revision:   revision,
		CapturedAt: capturedAt,
		Tracks: []models.Track{
			{Title: "Song", Artist: "Band", DurationMS: 180_000, Fingerprint: "abc"},
		},
	}
}

func TestSnapshotRepository(t *testing.T) {
	ctx := context.Background()
	ref := models.PlaylistRef{Platform: models.Spotify, PlaylistID: "p1"}

	t.Run("Append and Latest", func(t *testing.T) {
		repo := NewSnapshotRepository(setupTestDB(t))

		first := snapshot("s1", 1, base)
		second := snapshot("s2", 2, base.Add(time.Minute))
		second.SourceUpdatedAt = base.Add(30 * time.Second)
		for _, s := range []models.Snapshot{first, second} {
			if err := repo.Append(ctx, s); err != nil {
				t.Fatalf("failed to append snapshot: %v", err)
			}
		}

		latest, err := repo.Latest(ctx, ref)
		if err != nil {
			t.Fatalf("failed to get latest: %v", err)
		}
		if latest.ID != "s2" || latest.Revision != 2 {
			t.Errorf("expected s2 at revision 2, got %s at %d", latest.ID, latest.Revision)
		}
		if !latest.SourceUpdatedAt.Equal(second.SourceUpdatedAt) {
			t.Errorf("expected source timestamp %v, got %v", second.SourceUpdatedAt, latest.SourceUpdatedAt)
		}
		if len(latest.Tracks) != 1 || latest.Tracks[0].Fingerprint != "abc" {
			t.Errorf("tracks not preserved: %+v", latest.Tracks)
		}
	})

	t.Run("duplicate revision", func(t *testing.T) {
		repo := NewSnapshotRepository(setupTestDB(t))
		if err := repo.Append(ctx, snapshot("s1", 1, base)); err != nil {
			t.Fatalf("failed to append snapshot: %v", err)
		}

		err := repo.Append(ctx, snapshot("s2", 1, base))
		if !errors.Is(err, shared.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("Get and ByID", func(t *testing.T) {
		repo := NewSnapshotRepository(setupTestDB(t))
		repo.Append(ctx, snapshot("s1", 1, base))

		got, err := repo.Get(ctx, ref, 1)
		if err != nil || got.ID != "s1" {
			t.Errorf("expected s1, got %+v (%v)", got, err)
		}
		got, err = repo.ByID(ctx, "s1")
		if err != nil || got.Revision != 1 {
			t.Errorf("expected revision 1, got %+v (%v)", got, err)
		}
		if !got.SourceUpdatedAt.IsZero() {
			t.Errorf("expected zero source timestamp, got %v", got.SourceUpdatedAt)
		}
	})

	t.Run("not found", func(t *testing.T) {
		repo := NewSnapshotRepository(setupTestDB(t))

		if _, err := repo.Latest(ctx, ref); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound from Latest, got %v", err)
		}
		if _, err := repo.Get(ctx, ref, 3); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound from Get, got %v", err)
		}
		if _, err := repo.ByID(ctx, "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound from ByID, got %v", err)
		}
	})

	t.Run("corrupt tracks", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewSnapshotRepository(db)
		repo.Append(ctx, snapshot("s1", 1, base))

		if _, err := db.Exec(`UPDATE snapshots SET tracks = '{' WHERE id = 's1'`); err != nil {
			t.Fatalf("failed to corrupt row: %v", err)
		}
		if _, err := repo.ByID(ctx, "s1"); !errors.Is(err, shared.ErrDataIntegrity) {
			t.Errorf("expected ErrDataIntegrity, got %v", err)
		}
	})

	t.Run("List and Refs", func(t *testing.T) {
		repo := NewSnapshotRepository(setupTestDB(t))
		repo.Append(ctx, snapshot("s1", 1, base))
		repo.Append(ctx, snapshot("s2", 2, base))
		other := snapshot("t1", 1, base)
		other.Platform = models.Tidal
		repo.Append(ctx, other)

		list, err := repo.List(ctx, ref)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(list) != 2 || list[0].Revision != 2 {
			t.Errorf("expected newest first, got %+v", list)
		}

		refs, err := repo.Refs(ctx)
		if err != nil {
			t.Fatalf("failed to list refs: %v", err)
		}
		if len(refs) != 2 {
			t.Errorf("expected 2 refs, got %v", refs)
		}
	})

	t.Run("Prune", func(t *testing.T) {
		tests := []struct {
			name     string
			keepLast int
			cutoff   time.Time
			deleted  int
			oldest   int64
		}{
			{name: "keep last two", keepLast: 2, deleted: 2, oldest: 3},
			{name: "age cutoff", cutoff: base.Add(150 * time.Minute), deleted: 3, oldest: 4},
			{name: "cutoff past newest keeps newest", cutoff: base.Add(24 * time.Hour), deleted: 3, oldest: 4},
			{name: "no bounds", deleted: 0, oldest: 1},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				repo := NewSnapshotRepository(setupTestDB(t))
				for i := range int64(4) {
					id := "s" + string(rune('1'+i))
					repo.Append(ctx, snapshot(id, i+1, base.Add(time.Duration(i)*time.Hour)))
				}

				n, err := repo.Prune(ctx, ref, tt.keepLast, tt.cutoff)
				if err != nil {
					t.Fatalf("prune failed: %v", err)
				}
				if n != tt.deleted {
					t.Errorf("expected %d deleted, got %d", tt.deleted, n)
				}

				list, _ := repo.List(ctx, ref)
				if got := list[len(list)-1].Revision; got != tt.oldest {
					t.Errorf("expected oldest retained revision %d, got %d", tt.oldest, got)
				}
			})
		}
	})
}

func TestPlanRepository(t *testing.T) {
	ctx := context.Background()

	plan := models.MutationPlan{
		ID:        "plan-1",
		GroupID:   "road-trip",
		Policy:    models.PreferUnion,
		CreatedAt: base,
		Revisions: map[string]int64{"spotify:p1": 3},
		Ops: []models.MutationOp{
			{Kind: models.OpAdd, Platform: models.Spotify, PlaylistID: "p1", Track: models.Track{Title: "New"}, Position: models.Index(2)},
		},
	}

	t.Run("SavePlan and GetPlan", func(t *testing.T) {
		repo := NewPlanRepository(setupTestDB(t))
		if err := repo.SavePlan(ctx, plan); err != nil {
			t.Fatalf("failed to save plan: %v", err)
		}

		got, status, err := repo.GetPlan(ctx, plan.ID)
		if err != nil {
			t.Fatalf("failed to get plan: %v", err)
		}
		if status != models.PlanReady {
			t.Errorf("expected status ready, got %s", status)
		}
		if got.Revisions["spotify:p1"] != 3 {
			t.Errorf("expected revision 3, got %v", got.Revisions)
		}
		if len(got.Ops) != 1 || *got.Ops[0].Position != 2 {
			t.Errorf("ops not preserved: %+v", got.Ops)
		}

		if err := repo.SavePlan(ctx, plan); !errors.Is(err, shared.ErrConflict) {
			t.Errorf("expected ErrConflict on duplicate save, got %v", err)
		}
	})

	t.Run("UpdateStatus and ListByStatus", func(t *testing.T) {
		repo := NewPlanRepository(setupTestDB(t))
		repo.SavePlan(ctx, plan)

		if err := repo.UpdateStatus(ctx, plan.ID, models.PlanExecuting); err != nil {
			t.Fatalf("failed to update status: %v", err)
		}

		executing, err := repo.ListByStatus(ctx, models.PlanExecuting)
		if err != nil {
			t.Fatalf("failed to list plans: %v", err)
		}
		if len(executing) != 1 || executing[0].ID != plan.ID {
			t.Errorf("expected plan-1 executing, got %+v", executing)
		}

		ready, _ := repo.ListByStatus(ctx, models.PlanReady)
		if len(ready) != 0 {
			t.Errorf("expected no ready plans, got %d", len(ready))
		}

		if err := repo.UpdateStatus(ctx, "missing", models.PlanFailed); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveReport and Reports", func(t *testing.T) {
		repo := NewPlanRepository(setupTestDB(t))
		repo.SavePlan(ctx, plan)

		report := models.ExecutionReport{
			ID:         "report-1",
			PlanID:     plan.ID,
			Outcome:    models.FullyApplied,
			StartedAt:  base,
			FinishedAt: base.Add(time.Second),
			Results: []models.OpResult{
				{Index: 0, Op: plan.Ops[0], Status: models.OpApplied, Attempts: 2},
			},
			CaptureRequests: []models.PlaylistRef{{Platform: models.Spotify, PlaylistID: "p1"}},
		}
		if err := repo.SaveReport(ctx, report); err != nil {
			t.Fatalf("failed to save report: %v", err)
		}

		reports, err := repo.Reports(ctx, plan.ID)
		if err != nil {
			t.Fatalf("failed to list reports: %v", err)
		}
		if len(reports) != 1 || reports[0].Results[0].Attempts != 2 {
			t.Errorf("report not preserved: %+v", reports)
		}
	})

	t.Run("report requires plan", func(t *testing.T) {
		repo := NewPlanRepository(setupTestDB(t))
		err := repo.SaveReport(ctx, models.ExecutionReport{ID: "r", PlanID: "missing", StartedAt: base, FinishedAt: base})
		if err == nil {
			t.Error("expected foreign key failure for unknown plan")
		}
	})

	t.Run("GetPlan not found", func(t *testing.T) {
		repo := NewPlanRepository(setupTestDB(t))
		if _, _, err := repo.GetPlan(ctx, "missing"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestSharedDatabaseFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")
	ref := models.PlaylistRef{Platform: models.Spotify, PlaylistID: "p1"}

	open := func() *store.Store {
		t.Helper()
		db, err := shared.OpenDatabase(ctx, shared.DatabaseConfig{Path: path})
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		st, err := store.New(NewSnapshotRepository(db), 8)
		if err != nil {
			t.Fatal(err)
		}
		return st
	}
	serve, cli := open(), open()
	pl := models.Playlist{ID: "p1", Name: "Road Trip", Tracks: []models.Track{{Title: "Song", Artist: "Band", DurationMS: 180_000}}}

	if _, err := serve.Capture(ctx, models.Spotify, pl); err != nil {
		t.Fatalf("first capture failed: %v", err)
	}
	if _, err := cli.Capture(ctx, models.Spotify, pl); err != nil {
		t.Fatalf("second capture failed: %v", err)
	}

	t.Run("Revision reads the file", func(t *testing.T) {
		rev, err := serve.Revision(ctx, ref)
		if err != nil {
			t.Fatal(err)
		}
		if rev != 2 {
			t.Errorf("expected revision 2, got %d", rev)
		}
	})

	t.Run("next capture follows the foreign write", func(t *testing.T) {
		snap, err := serve.Capture(ctx, models.Spotify, pl)
		if err != nil {
			t.Fatalf("capture failed: %v", err)
		}
		if snap.Revision != 3 {
			t.Errorf("expected revision 3, got %d", snap.Revision)
		}
	})

	t.Run("empty playlist has revision zero", func(t *testing.T) {
		rev, err := NewSnapshotRepository(setupTestDB(t)).Revision(ctx, ref)
		if err != nil || rev != 0 {
			t.Errorf("Revision() = %d, %v; want 0", rev, err)
		}
	})
}
