package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/repositories"
	"github.com/desertthunder/audioarchitect/internal/services"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"github.com/desertthunder/audioarchitect/internal/store"
	"github.com/desertthunder/audioarchitect/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, snapshot store and platform registry are opened on first use so commands such as
// `setup config` work without any of them.
type Runner struct {
	configPath string
	config     *shared.Config
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	db        *sql.DB
	store     *store.Store
	plans     tasks.PlanJournal
	platforms *services.Registry
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer

	// Store and Platforms replace the configured database and adapters.
	Store     *store.Store
	Platforms *services.Registry
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		configPath: opts.ConfigPath,
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		store:      opts.Store,
		platforms:  opts.Platforms,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, snapshotCommand, diffCommand, dedupeCommand,
		syncCommand, shuffleCommand, transferCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// before loads the config named by --config (or $AUDIOARCHITECT_CONFIG) and applies --log-level.
func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if level := cmd.String("log-level"); level != "" {
		if err := shared.SetLogLevel(r.logger, level); err != nil {
			return ctx, err
		}
	}

	config, path, err := shared.ResolveConfig(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	r.config, r.configPath = config, path
	r.logger.Debug("configuration resolved", "path", path)
	return ctx, nil
}

// Close releases the database, if one was opened.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// snapshots opens the SQLite-backed snapshot store and plan journal.
func (r *Runner) snapshots(ctx context.Context) (*store.Store, error) {
	if r.store != nil {
		return r.store, nil
	}

	db, err := shared.OpenDatabase(ctx, r.config.Database)
	if err != nil {
		return nil, err
	}
	st, err := store.New(
		repositories.NewSnapshotRepository(db),
		r.config.Cache.LatestSize,
		store.WithRetention(store.Retention{KeepLast: r.config.Retention.KeepLast, MaxAge: r.config.RetentionMaxAge()}),
		store.WithLogger(shared.WithLogger(r.logger, "component", "store")),
	)
	if err != nil {
		db.Close()
		return nil, err
	}

	r.db, r.store = db, st
	r.plans = repositories.NewPlanRepository(db)
	r.logger.Debug("database opened", "path", r.config.Database.Path)
	return st, nil
}

// registry builds the configured platform adapters. Adapters that fail to configure are
// skipped with a warning so the others stay usable.
func (r *Runner) registry(ctx context.Context) *services.Registry {
	if r.platforms != nil {
		return r.platforms
	}

	reg := services.NewRegistry()
	if sp := r.config.Spotify; sp.ClientID != "" && sp.ClientSecret != "" {
		spotify, err := services.NewSpotifyPlatform(sp.Map(), services.WithSpotifyHTTPClient(r.httpClient))
		if err != nil {
			r.logger.Warn("spotify adapter disabled", "error", err)
		} else {
			reg.Register(spotify)
		}
	}
	if px := r.config.Proxy; px.BaseURL != "" {
		proxy := services.NewProxyPlatform(models.Platform(px.Name), px.BaseURL, r.httpClient)
		if err := proxy.Authenticate(ctx, px.Map()); err != nil {
			r.logger.Warn("proxy adapter disabled", "platform", px.Name, "error", err)
		} else {
			reg.Register(proxy)
		}
	}

	r.platforms = reg
	r.logger.Debug("platforms registered", "available", reg.Available())
	return reg
}

func (r *Runner) retryPolicy() tasks.RetryPolicy {
	policy := tasks.DefaultRetryPolicy()
	exec := r.config.Execution
	if exec.MaxAttempts > 0 {
		policy.MaxAttempts = exec.MaxAttempts
	}
	policy.InitialInterval, policy.MaxInterval = r.config.RetryIntervals()
	if exec.RateLimit > 0 {
		policy.RateLimit = exec.RateLimit
	}
	if exec.Burst > 0 {
		policy.Burst = exec.Burst
	}
	return policy
}

func (r *Runner) executor(ctx context.Context, opts ...tasks.ExecutorOption) (*tasks.Executor, error) {
	st, err := r.snapshots(ctx)
	if err != nil {
		return nil, err
	}
	opts = append([]tasks.ExecutorOption{
		tasks.WithRetryPolicy(r.retryPolicy()),
		tasks.WithExecutorLogger(shared.WithLogger(r.logger, "component", "executor")),
	}, opts...)
	return tasks.NewExecutor(r.registry(ctx), st, opts...), nil
}

// groups converts the configured sync groups.
func (r *Runner) groups() ([]models.SyncGroup, error) {
	out := make([]models.SyncGroup, 0, len(r.config.Groups))
	for _, g := range r.config.Groups {
		group := models.SyncGroup{ID: g.ID, Name: g.Name}
		for _, m := range g.Members {
			ref, err := models.ParsePlaylistRef(m)
			if err != nil {
				return nil, fmt.Errorf("%w: group %s: %v", shared.ErrInvalidConfig, g.ID, err)
			}
			group.Members = append(group.Members, ref)
		}
		out = append(out, group)
	}
	return out, nil
}

// progress prints updates until the returned stop function is called.
func (r *Runner) progress(size int) (chan tasks.ProgressUpdate, func()) {
	ch := make(chan tasks.ProgressUpdate, size)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range ch {
			r.writePlain("%s\n", update.Message)
		}
	}()
	return ch, func() {
		close(ch)
		<-done
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
