package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/audioarchitect/internal/lease"
	"github.com/desertthunder/audioarchitect/internal/metrics"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/server"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"
)

// Serve runs the HTTP API until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	cfg := r.config.Server
	if cmd.IsSet("host") {
		cfg.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Port = cmd.Int("port")
	}
	policy := models.Policy(cmd.String("policy"))
	if policy == "" {
		policy = models.Policy(r.config.Sync.DefaultPolicy)
	}
	if _, err := models.ParsePolicy(string(policy)); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidPolicy, err)
	}

	groups, err := r.groups()
	if err != nil {
		return err
	}
	st, err := r.snapshots(ctx)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.New(registry)

	leases := lease.NewManager()
	orch, err := r.orchestrator(ctx, leases, collector)
	if err != nil {
		return err
	}
	defer orch.Wait()
	go leases.RunSweeper(ctx, r.config.LeaseDuration(), shared.WithLogger(r.logger, "component", "lease"))

	abandoned, err := orch.Recover(ctx)
	if err != nil {
		return err
	}
	if abandoned > 0 {
		r.logger.Warn("recovered interrupted plans", "count", abandoned)
	}

	platforms := r.registry(ctx)
	api := server.New(server.Config{
		Version:            version,
		Groups:             groups,
		DefaultPolicy:      policy,
		DuplicateThreshold: r.config.Sync.DuplicateThreshold,
	}, orch, st,
		server.WithLogger(shared.WithLogger(r.logger, "component", "http")),
		server.WithGatherer(registry),
		server.WithPlatforms(platforms),
	)

	readTimeout, writeTimeout := r.config.ServerTimeouts()
	r.logger.Info("starting API", "addr", cfg.Addr(), "groups", len(groups), "platforms", platforms.Available())
	return server.Run(ctx, api.HTTPServer(cfg.Addr(), readTimeout, writeTimeout), r.logger)
}
