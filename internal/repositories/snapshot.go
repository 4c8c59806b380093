package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
)

const snapshotColumns = `id, platform, playlist_id, name, revision, captured_at, source_updated_at, tracks`

// SnapshotRepository stores snapshots in the snapshots table. Rows are inserted and pruned, never updated.
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository creates a new SnapshotRepository with the given database connection
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Append inserts snap. A second row for the same playlist revision fails with [shared.ErrConflict].
func (r *SnapshotRepository) Append(ctx context.Context, snap models.Snapshot) error {
	tracks, err := encode(snap.Tracks)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO snapshots (id, platform, playlist_id, name, revision, captured_at, source_updated_at, track_count, tracks)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		snap.ID,
		string(snap.Platform),
		snap.PlaylistID,
		snap.Name,
		snap.Revision,
		snap.CapturedAt.UTC(),
		nullTime(snap.SourceUpdatedAt),
		len(snap.Tracks),
		tracks,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: revision %d of %s already exists", shared.ErrConflict, snap.Revision, snap.Ref())
		}
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// Latest returns the highest revision of ref.
func (r *SnapshotRepository) Latest(ctx context.Context, ref models.PlaylistRef) (*models.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE platform = ? AND playlist_id = ?
		ORDER BY revision DESC LIMIT 1`

	snap, err := r.scan(r.db.QueryRowContext(ctx, query, string(ref.Platform), ref.PlaylistID))
	if err != nil {
		return nil, notFound(err, "no snapshot of %s", ref)
	}
	return snap, nil
}

// Get returns one revision of ref.
func (r *SnapshotRepository) Get(ctx context.Context, ref models.PlaylistRef, revision int64) (*models.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE platform = ? AND playlist_id = ? AND revision = ?`

	snap, err := r.scan(r.db.QueryRowContext(ctx, query, string(ref.Platform), ref.PlaylistID, revision))
	if err != nil {
		return nil, notFound(err, "revision %d of %s", revision, ref)
	}
	return snap, nil
}

// ByID returns the snapshot with the given ID.
func (r *SnapshotRepository) ByID(ctx context.Context, id string) (*models.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE id = ?`

	snap, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "snapshot %s", id)
	}
	return snap, nil
}

// List returns every snapshot of ref, newest first.
func (r *SnapshotRepository) List(ctx context.Context, ref models.PlaylistRef) ([]models.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots
		WHERE platform = ? AND playlist_id = ?
		ORDER BY revision DESC`

	rows, err := r.db.QueryContext(ctx, query, string(ref.Platform), ref.PlaylistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.Snapshot
	for rows.Next() {
		snap, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snapshots, nil
}

// Prune deletes revisions of ref outside the newest keepLast or captured before cutoff.
// The newest revision always survives.
func (r *SnapshotRepository) Prune(ctx context.Context, ref models.PlaylistRef, keepLast int, cutoff time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, captured_at FROM snapshots
		WHERE platform = ? AND playlist_id = ?
		ORDER BY revision DESC
	`, string(ref.Platform), ref.PlaylistID)
	if err != nil {
		return 0, fmt.Errorf("failed to query snapshots: %w", err)
	}

	var expired []string
	for i := 0; rows.Next(); i++ {
		var (
			id         string
			capturedAt time.Time
		)
		if err := rows.Scan(&id, &capturedAt); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if i == 0 {
			continue
		}
		if (keepLast > 0 && i >= keepLast) || (!cutoff.IsZero() && capturedAt.Before(cutoff)) {
			expired = append(expired, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate snapshots: %w", err)
	}

	for _, id := range expired {
		if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete snapshot %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return len(expired), nil
}

// Refs lists every playlist that has at least one snapshot.
func (r *SnapshotRepository) Refs(ctx context.Context) ([]models.PlaylistRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT platform, playlist_id FROM snapshots
		ORDER BY platform, playlist_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	defer rows.Close()

	var refs []models.PlaylistRef
	for rows.Next() {
		var platform, playlistID string
		if err := rows.Scan(&platform, &playlistID); err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		refs = append(refs, models.PlaylistRef{Platform: models.Platform(platform), PlaylistID: playlistID})
	}
	return refs, rows.Err()
}

// Revision returns the highest stored revision of ref, or 0 when there is none.
func (r *SnapshotRepository) Revision(ctx context.Context, ref models.PlaylistRef) (int64, error) {
	var revision int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(revision), 0) FROM snapshots
		WHERE platform = ? AND playlist_id = ?
	`, string(ref.Platform), ref.PlaylistID).Scan(&revision)
	if err != nil {
		return 0, fmt.Errorf("failed to query revision of %s: %w", ref, err)
	}
	return revision, nil
}

func (r *SnapshotRepository) scan(row scanner) (*models.Snapshot, error) {
	var (
		snap     models.Snapshot
		platform string
		updated  sql.NullTime
		tracks   string
	)

	err := row.Scan(&snap.ID, &platform, &snap.PlaylistID, &snap.Name, &snap.Revision, &snap.CapturedAt, &updated, &tracks)
	if err != nil {
		return nil, err
	}

	snap.Platform = models.Platform(platform)
	if updated.Valid {
		snap.SourceUpdatedAt = updated.Time
	}
	if err := decode(tracks, &snap.Tracks); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", snap.ID, err)
	}
	return &snap, nil
}
