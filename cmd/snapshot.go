package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/audioarchitect/internal/dedupe"
	"github.com/desertthunder/audioarchitect/internal/diff"
	"github.com/desertthunder/audioarchitect/internal/formatter"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"github.com/desertthunder/audioarchitect/internal/tasks"
	"github.com/urfave/cli/v3"
)

func parseRefs(raw ...string) ([]models.PlaylistRef, error) {
	refs := make([]models.PlaylistRef, 0, len(raw))
	for _, s := range raw {
		ref, err := models.ParsePlaylistRef(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// SnapshotCapture fetches every --playlist and stores a new snapshot of each.
func (r *Runner) SnapshotCapture(ctx context.Context, cmd *cli.Command) error {
	refs, err := parseRefs(cmd.StringSlice("playlist")...)
	if err != nil {
		return err
	}
	st, err := r.snapshots(ctx)
	if err != nil {
		return err
	}

	r.logger.Info("capturing playlists", "count", len(refs))
	progress, stop := r.progress(2 * len(refs))
	result, err := tasks.BulkCapture(ctx, progress, r.registry(ctx), st, refs, tasks.BulkCaptureOpts{
		NumWorkers: cmd.Int("workers"),
		RateLimit:  r.config.Execution.RateLimit,
	})
	stop()
	if err != nil {
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader("Capture Complete")
	r.writePlain("Captured: %d/%d\n", result.Succeeded, result.Total)
	for _, res := range result.Results {
		if res.Err != nil {
			r.writePlain("  ✗ %s: %v\n", res.Ref, res.Err)
			continue
		}
		r.writePlain("  ✓ %s rev %d → %s\n", res.Ref, res.Snapshot.Revision, res.Snapshot.ID)
	}

	if result.Failed > 0 {
		return fmt.Errorf("%d of %d captures failed", result.Failed, result.Total)
	}
	return nil
}

// SnapshotList prints the stored revisions of one playlist, newest first.
func (r *Runner) SnapshotList(ctx context.Context, cmd *cli.Command) error {
	refs, err := parseRefs(cmd.String("playlist"))
	if err != nil {
		return err
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	st, err := r.snapshots(ctx)
	if err != nil {
		return err
	}

	snaps, err := st.List(ctx, refs[0])
	if err != nil {
		return err
	}
	if format == formatter.JSON {
		for i := range snaps {
			snaps[i].Tracks = nil
		}
		return r.writeJSON(snaps, true)
	}

	if len(snaps) == 0 {
		return r.writePlain("No snapshots of %s\n", refs[0])
	}
	r.writePlain("%d snapshot(s) of %s:\n\n", len(snaps), refs[0])
	for _, s := range snaps {
		r.writePlain("  r%-4d %s  %3d tracks  %s\n", s.Revision, s.CapturedAt.Local().Format("2006-01-02 15:04"), len(s.Tracks), s.ID)
	}
	return nil
}

// SnapshotShow prints a stored snapshot.
func (r *Runner) SnapshotShow(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	st, err := r.snapshots(ctx)
	if err != nil {
		return err
	}
	snap, err := st.ByID(ctx, cmd.String("id"))
	if err != nil {
		return err
	}
	return formatter.WriteSnapshot(r.output, *snap, format)
}

// SnapshotExport writes a stored snapshot to a file in --dir.
func (r *Runner) SnapshotExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	st, err := r.snapshots(ctx)
	if err != nil {
		return err
	}
	snap, err := st.ByID(ctx, cmd.String("id"))
	if err != nil {
		return err
	}

	path, err := formatter.ExportSnapshot(*snap, format, cmd.String("dir"))
	if err != nil {
		return err
	}
	r.logger.Info("snapshot exported", "snapshot", snap.ID, "path", path, "tracks", len(snap.Tracks))
	return r.writePlain("✓ Exported %s (%d tracks) to %s\n", snap.Ref(), len(snap.Tracks), path)
}

// Diff compares two stored revisions of a playlist.
func (r *Runner) Diff(ctx context.Context, cmd *cli.Command) error {
	refs, err := parseRefs(cmd.String("playlist"))
	if err != nil {
		return err
	}
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	st, err := r.snapshots(ctx)
	if err != nil {
		return err
	}

	from, err := st.Get(ctx, refs[0], int64(cmd.Int("from")))
	if err != nil {
		return fmt.Errorf("revision %d: %w", cmd.Int("from"), err)
	}
	to, err := st.Get(ctx, refs[0], int64(cmd.Int("to")))
	if err != nil {
		return fmt.Errorf("revision %d: %w", cmd.Int("to"), err)
	}

	if format != formatter.JSON {
		r.writePlain("%s r%d → r%d\n", refs[0], from.Revision, to.Revision)
	}
	return formatter.WriteDiff(r.output, diff.Diff(*from, *to), format)
}

// Dedupe lists duplicate groups in a stored snapshot.
func (r *Runner) Dedupe(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	threshold := r.config.Sync.DuplicateThreshold
	if cmd.IsSet("threshold") {
		threshold = cmd.Float("threshold")
	}
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [0, 1]", shared.ErrInvalidArgument)
	}

	st, err := r.snapshots(ctx)
	if err != nil {
		return err
	}
	snap, err := st.ByID(ctx, cmd.String("snapshot"))
	if err != nil {
		return err
	}

	groups := dedupe.Find(*snap, dedupe.Options{Threshold: threshold})
	r.logger.Debug("duplicate scan finished", "snapshot", snap.ID, "threshold", threshold, "groups", len(groups))
	return formatter.WriteDuplicates(r.output, *snap, groups, format)
}
