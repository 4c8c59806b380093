package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/audioarchitect/internal/formatter"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/tasks"
	"github.com/urfave/cli/v3"
)

// capture takes a fresh snapshot of every ref, failing on the first error.
func (r *Runner) capture(ctx context.Context, refs ...models.PlaylistRef) ([]models.Snapshot, error) {
	st, err := r.snapshots(ctx)
	if err != nil {
		return nil, err
	}
	result, err := tasks.BulkCapture(ctx, nil, r.registry(ctx), st, refs, tasks.BulkCaptureOpts{
		RateLimit: r.config.Execution.RateLimit,
	})
	if err != nil {
		return nil, err
	}

	snaps := make([]models.Snapshot, len(result.Results))
	var errs []error
	for i, res := range result.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("failed to capture %s: %w", res.Ref, res.Err))
			continue
		}
		snaps[i] = *res.Snapshot
	}
	return snaps, errors.Join(errs...)
}

// execute runs plan, then re-captures its targets so the store reflects the new state.
func (r *Runner) execute(ctx context.Context, plan models.MutationPlan) (*models.ExecutionReport, error) {
	exec, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}

	progress, stop := r.progress(len(plan.Ops) + 1)
	report, err := exec.Execute(ctx, plan, progress)
	stop()
	if report != nil {
		r.writePlain("\n")
		formatter.WriteReport(r.output, *report, formatter.Text)
	}
	if err != nil {
		return report, err
	}

	if _, err := r.capture(ctx, plan.Targets()...); err != nil {
		r.logger.Warn("failed to re-capture after execution", "error", err)
	}
	if !report.Succeeded() {
		return report, fmt.Errorf("%s: %d op(s) failed", report.Outcome, report.Counts()[models.OpFailed])
	}
	return report, nil
}

// Shuffle reorders a playlist with the smart or pure algorithm.
func (r *Runner) Shuffle(ctx context.Context, cmd *cli.Command) error {
	refs, err := parseRefs(cmd.String("playlist"))
	if err != nil {
		return err
	}
	algorithm, err := tasks.ParseShuffleAlgorithm(cmd.String("algorithm"))
	if err != nil {
		return err
	}
	seed := cmd.Uint64("seed")
	if !cmd.IsSet("seed") {
		seed = uint64(time.Now().UnixNano())
	}

	snaps, err := r.capture(ctx, refs[0])
	if err != nil {
		return err
	}
	snap := snaps[0]

	plan, order, err := tasks.PlanShuffle(snap, algorithm, seed)
	if err != nil {
		return err
	}
	r.logger.Info("shuffle planned", "playlist", snap.Ref(), "algorithm", algorithm, "seed", seed, "moves", len(plan.Ops))

	r.writePlainHeader(fmt.Sprintf("%s shuffle of %s (seed %d)", algorithm, snap.Name, seed))
	for i, t := range order {
		r.writePlain("%3d. %s - %s\n", i+1, t.Artist, t.Title)
	}

	if cmd.Bool("dry-run") || len(plan.Ops) == 0 {
		return nil
	}
	r.writePlain("\n")
	_, err = r.execute(ctx, plan)
	return err
}

// Transfer appends the tracks of --from that --to lacks.
func (r *Runner) Transfer(ctx context.Context, cmd *cli.Command) error {
	refs, err := parseRefs(cmd.String("from"), cmd.String("to"))
	if err != nil {
		return err
	}

	r.logger.Info("starting transfer", "source", refs[0], "dest", refs[1])
	r.writePlain("Starting playlist transfer...\n")
	r.writePlain("Source: %s\n", refs[0])
	r.writePlain("Destination: %s\n\n", refs[1])

	snaps, err := r.capture(ctx, refs...)
	if err != nil {
		return err
	}
	source, dest := snaps[0], snaps[1]

	plan := tasks.PlanTransfer(source, dest)
	if len(plan.Ops) == 0 {
		return r.writePlain("✓ %s already holds every track of %s\n", dest.Ref(), source.Ref())
	}
	formatter.WritePlan(r.output, plan, formatter.Text)

	if cmd.Bool("dry-run") {
		return nil
	}
	r.writePlain("\n")
	report, err := r.execute(ctx, plan)
	if err != nil {
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader("Transfer Complete!")
	r.writePlain("Source: %s (%d tracks)\n", source.Name, len(source.Tracks))
	r.writePlain("Destination: %s (%d added)\n", dest.Name, report.Counts()[models.OpApplied])
	return nil
}
