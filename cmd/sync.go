package main

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/desertthunder/audioarchitect/internal/formatter"
	"github.com/desertthunder/audioarchitect/internal/lease"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"github.com/desertthunder/audioarchitect/internal/tasks"
	"github.com/urfave/cli/v3"
)

// orchestrator wires a session engine over the configured store and adapters. obs, when not
// nil, observes both session transitions and executed ops.
func (r *Runner) orchestrator(ctx context.Context, leases *lease.Manager, obs tasks.Observer, opts ...tasks.OrchestratorOption) (*tasks.Orchestrator, error) {
	st, err := r.snapshots(ctx)
	if err != nil {
		return nil, err
	}
	var execOpts []tasks.ExecutorOption
	if obs != nil {
		execOpts = append(execOpts, tasks.WithExecutorObserver(obs))
		opts = append(opts, tasks.WithOrchestratorObserver(obs))
	}
	exec, err := r.executor(ctx, execOpts...)
	if err != nil {
		return nil, err
	}

	opts = append([]tasks.OrchestratorOption{
		tasks.WithOrchestratorLogger(shared.WithLogger(r.logger, "component", "orchestrator")),
		tasks.WithLeaseTTL(r.config.LeaseDuration()),
		tasks.WithReorder(r.config.Sync.Reorder),
	}, opts...)
	if r.plans != nil {
		opts = append(opts, tasks.WithJournal(r.plans))
	}
	return tasks.NewOrchestrator(r.registry(ctx), st, exec, leases, opts...), nil
}

func (r *Runner) group(id string) (models.SyncGroup, error) {
	groups, err := r.groups()
	if err != nil {
		return models.SyncGroup{}, err
	}
	i := slices.IndexFunc(groups, func(g models.SyncGroup) bool { return g.ID == id })
	if i < 0 {
		return models.SyncGroup{}, fmt.Errorf("%w: sync group %q is not configured", shared.ErrNotFound, id)
	}
	return groups[i], nil
}

// SyncStart runs one sync session in the foreground. Without --approve the plan is printed and
// the session cancelled, leaving every playlist untouched.
func (r *Runner) SyncStart(ctx context.Context, cmd *cli.Command) error {
	group, err := r.group(cmd.String("group"))
	if err != nil {
		return err
	}
	policy := models.Policy(cmd.String("policy"))
	if policy == "" {
		policy = models.Policy(r.config.Sync.DefaultPolicy)
	}
	approve := cmd.Bool("approve")
	keep := cmd.StringSlice("keep")

	progress, stop := r.progress(64)
	defer stop()
	orch, err := r.orchestrator(ctx, lease.NewManager(), nil, tasks.WithProgress(progress))
	if err != nil {
		return err
	}
	defer orch.Wait()

	handle, err := orch.StartSync(ctx, group, policy)
	if err != nil {
		return err
	}
	r.logger.Info("sync session started", "session", handle, "group", group.ID, "policy", policy)

	status, err := orch.Await(ctx, handle, models.StateConflictResolution, models.StatePlanReady)
	if err != nil {
		return err
	}

	if status.State == models.StateConflictResolution {
		if !approve && len(keep) == 0 {
			werr := formatter.WriteStatus(r.output, status, formatter.Text)
			if err := orch.Cancel(handle); err != nil {
				return errors.Join(err, werr)
			}
			return errors.Join(fmt.Errorf("%w: %d conflict(s) need a decision; rerun with --keep <fingerprint> for tracks to keep",
				shared.ErrConflict, len(status.Conflicts)), werr)
		}
		var dropped []models.Conflict
		for _, c := range status.Conflicts {
			if !keeps(keep, c.Fingerprint) {
				dropped = append(dropped, c)
			}
		}
		if len(dropped) > 0 {
			if err := r.writeDropped(dropped); err != nil {
				return errors.Join(err, orch.Cancel(handle))
			}
		}
		for _, c := range status.Conflicts {
			decision := keeps(keep, c.Fingerprint)
			if err := orch.ResolveConflict(ctx, handle, c.Fingerprint, decision); err != nil {
				return err
			}
			r.logger.Info("conflict resolved", "track", c.Track, "keep", decision)
		}
		if status, err = orch.Status(handle); err != nil {
			return err
		}
	}

	if status.State != models.StatePlanReady {
		return errors.Join(fmt.Errorf("sync %s ended %s: %s", handle, status.State, status.Error),
			formatter.WriteStatus(r.output, status, formatter.Text))
	}

	r.writePlain("\n")
	if err := formatter.WriteStatus(r.output, status, formatter.Text); err != nil {
		return errors.Join(err, orch.Cancel(handle))
	}
	r.writePlain("\n")
	if err := formatter.WritePlan(r.output, *status.Plan, formatter.Text); err != nil {
		return errors.Join(err, orch.Cancel(handle))
	}

	if !approve {
		if err := orch.Cancel(handle); err != nil {
			return err
		}
		r.writePlainln("Dry run: nothing was changed. Rerun with --approve to apply.")
		return nil
	}
	if len(status.Plan.Ops) == 0 {
		r.writePlainln("Already in sync.")
	}

	if err := orch.ApprovePlan(ctx, handle); err != nil {
		return err
	}
	status, err = orch.Await(ctx, handle)
	if err != nil {
		return err
	}

	r.writePlain("\n")
	r.writePlainHeader("Sync " + string(status.State))
	var werr error
	if status.Report != nil {
		werr = formatter.WriteReport(r.output, *status.Report, formatter.Text)
	}
	if status.State != models.StateCommitted {
		return errors.Join(fmt.Errorf("sync %s failed: %s", handle, status.Error), werr)
	}
	return werr
}

// writeDropped lists the conflicting tracks that --keep did not name, before they are removed.
func (r *Runner) writeDropped(dropped []models.Conflict) error {
	if err := r.writePlainln("Dropping %d conflicting track(s) not named by --keep:", len(dropped)); err != nil {
		return err
	}
	for _, c := range dropped {
		if err := r.writePlain("  %s  %s - %s\n", c.Fingerprint, c.Track.Artist, c.Track.Title); err != nil {
			return err
		}
	}
	return nil
}

func keeps(keep []string, fingerprint string) bool {
	return slices.ContainsFunc(keep, func(k string) bool {
		return k != "" && strings.HasPrefix(fingerprint, k)
	})
}

// SyncGroups prints the configured sync groups.
func (r *Runner) SyncGroups(ctx context.Context, cmd *cli.Command) error {
	groups, err := r.groups()
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return r.writeJSON(groups, true)
	}

	if len(groups) == 0 {
		return r.writePlain("No sync groups configured in %s\n", r.configPath)
	}
	for _, g := range groups {
		r.writePlain("%s", g.ID)
		if g.Name != "" {
			r.writePlain(" (%s)", g.Name)
		}
		r.writePlain("\n")
		for _, m := range g.Members {
			r.writePlain("  - %s\n", m)
		}
	}
	return nil
}
