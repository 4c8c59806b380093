package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/audioarchitect/internal/identity"
	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/desertthunder/audioarchitect/internal/services"
	"github.com/desertthunder/audioarchitect/internal/shared"
	"github.com/desertthunder/audioarchitect/internal/store"
	"github.com/desertthunder/audioarchitect/internal/tasks"
	tu "github.com/desertthunder/audioarchitect/internal/testing"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

func tracks(specs ...string) []models.Track {
	out := make([]models.Track, len(specs))
	for i, s := range specs {
		artist, title, _ := strings.Cut(s, "/")
		out[i] = models.Track{Title: title, Artist: artist, DurationMS: 200_000}
	}
	return identity.ResolveAll(out)
}

func titles(ts []models.Track) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title
	}
	return out
}

type fixture struct {
	runner *Runner
	output *bytes.Buffer
	store  *store.Store
	a, b   *tu.MemoryPlatform
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(store.NewMemoryBackend(), 8)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	config := shared.DefaultConfig()
	config.Execution.InitialInterval = "1ms"
	config.Execution.MaxInterval = "2ms"
	config.Execution.RateLimit = 1000
	config.Groups = []shared.GroupConfig{{ID: "mix", Name: "Mix", Members: []string{"spotify:a", "youtube_music:b"}}}

	f := &fixture{
		output: &bytes.Buffer{},
		store:  st,
		a:      tu.NewMemoryPlatform(models.Spotify, models.Playlist{ID: "a", Name: "Mix", Tracks: tracks("X/One", "Y/Two", "X/Three")}),
		b:      tu.NewMemoryPlatform(models.YouTubeMusic, models.Playlist{ID: "b", Name: "Mix", Tracks: tracks("Y/Two", "Z/Four")}),
	}
	f.runner = NewRunner(RunnerOpts{
		Config:    config,
		Logger:    shared.DiscardLogger(),
		Output:    f.output,
		Store:     st,
		Platforms: services.NewRegistry(f.a, f.b),
	})
	return f
}

// run executes args against the command tree without the config-loading Before hook.
func (f *fixture) run(t *testing.T, args ...string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app := &cli.Command{
		Name:      "audioarchitect",
		Commands:  f.runner.register(),
		Writer:    f.output,
		ErrWriter: f.output,
	}
	return app.Run(ctx, append([]string{"audioarchitect"}, args...))
}

func (f *fixture) latest(t *testing.T, ref string) *models.Snapshot {
	t.Helper()
	parsed, err := models.ParsePlaylistRef(ref)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := f.store.Latest(context.Background(), parsed)
	if err != nil {
		t.Fatalf("no snapshot of %s: %v", ref, err)
	}
	return snap
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			platforms := services.NewRegistry()

			runner := NewRunner(RunnerOpts{
				Config:     config,
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Platforms:  platforms,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
			if runner.registry(context.Background()) != platforms {
				t.Error("expected platforms to be used as the registry")
			}
		})

		t.Run("with nil config uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: nil})
			if runner.config == nil {
				t.Error("expected default config to be set")
			}
		})

		t.Run("with nil logger uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Logger: nil})
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
		})

		t.Run("with nil output uses stdout", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: nil})
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
		})

		t.Run("with nil httpClient uses default", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{HTTPClient: nil})
			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
		})

		t.Run("with configPath sets field", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{ConfigPath: "/test/path/config.toml"})
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})
	})

	t.Run("registry", func(t *testing.T) {
		t.Run("builds the proxy adapter from config", func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Spotify.ClientID = ""
			runner := NewRunner(RunnerOpts{Config: config, Logger: shared.DiscardLogger()})

			got := runner.registry(context.Background()).Available()
			if !slices.Equal(got, []models.Platform{models.YouTubeMusic}) {
				t.Errorf("expected only the proxy adapter, got %v", got)
			}
		})

		t.Run("adds spotify when credentials are set", func(t *testing.T) {
			config := shared.DefaultConfig()
			config.Proxy.BaseURL = ""
			runner := NewRunner(RunnerOpts{Config: config, Logger: shared.DiscardLogger()})

			got := runner.registry(context.Background()).Available()
			if !slices.Equal(got, []models.Platform{models.Spotify}) {
				t.Errorf("expected only spotify, got %v", got)
			}
		})
	})

	t.Run("retryPolicy", func(t *testing.T) {
		config := shared.DefaultConfig()
		config.Execution.MaxAttempts = 2
		config.Execution.InitialInterval = "10ms"
		runner := NewRunner(RunnerOpts{Config: config})

		p := runner.retryPolicy()
		if p.MaxAttempts != 2 || p.InitialInterval != 10*time.Millisecond || p.MaxInterval != 30*time.Second {
			t.Errorf("unexpected policy %+v", p)
		}
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if result := output.String(); result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil || !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})

		t.Run("handles newline write failure", func(t *testing.T) {
			limitedWriter := tu.NewLimitedWriter(1, 0, &bytes.Buffer{})
			runner := NewRunner(RunnerOpts{Output: &limitedWriter})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil || !strings.Contains(err.Error(), "failed to write newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		t.Run("writes plain text successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writePlain("hello %s", "world"); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result := output.String(); result != "hello world" {
				t.Errorf("expected 'hello world', got %q", result)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writePlain("test")
			if err == nil || !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("register", func(t *testing.T) {
		runner := NewRunner(RunnerOpts{})
		commands := runner.register()

		var names []string
		for i, cmd := range commands {
			if cmd == nil {
				t.Fatalf("command at index %d is nil", i)
			}
			names = append(names, cmd.Name)
		}
		for _, want := range []string{"setup", "auth", "snapshot", "diff", "dedupe", "sync", "shuffle", "transfer", "serve"} {
			if !slices.Contains(names, want) {
				t.Errorf("missing command %q in %v", want, names)
			}
		}
	})

	t.Run("saveTokens", func(t *testing.T) {
		t.Run("saves tokens successfully", func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.toml")
			config := shared.DefaultConfig()
			if err := shared.SaveConfig(configPath, config); err != nil {
				t.Fatalf("failed to create test config: %v", err)
			}

			runner := NewRunner(RunnerOpts{Config: config, ConfigPath: configPath})
			token := &oauth2.Token{AccessToken: "new_access_token", RefreshToken: "new_refresh_token"}
			if err := runner.saveTokens(token); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			loaded, err := shared.LoadConfig(configPath)
			if err != nil {
				t.Fatalf("failed to reload config: %v", err)
			}
			if loaded.Spotify.AccessToken != "new_access_token" {
				t.Errorf("expected access token to be updated, got %s", loaded.Spotify.AccessToken)
			}
			if loaded.Spotify.RefreshToken != "new_refresh_token" {
				t.Errorf("expected refresh token to be updated, got %s", loaded.Spotify.RefreshToken)
			}
		})

		t.Run("handles nil config error", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{ConfigPath: "/tmp/test.toml"})
			runner.config = nil

			err := runner.saveTokens(&oauth2.Token{AccessToken: "test"})
			if err == nil || !strings.Contains(err.Error(), "config is nil") {
				t.Errorf("expected nil config error, got %v", err)
			}
		})

		t.Run("handles empty configPath", func(t *testing.T) {
			config := shared.DefaultConfig()
			runner := NewRunner(RunnerOpts{Config: config})

			if err := runner.saveTokens(&oauth2.Token{AccessToken: "new_token"}); err != nil {
				t.Fatalf("expected no error with empty path, got %v", err)
			}
			if config.Spotify.AccessToken != "new_token" {
				t.Error("expected config to be updated in memory")
			}
		})

		t.Run("handles SaveConfig failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{
				Config:     shared.DefaultConfig(),
				ConfigPath: filepath.Join(t.TempDir(), "missing", "config.toml"),
			})

			err := runner.saveTokens(&oauth2.Token{AccessToken: "test"})
			if err == nil || !strings.Contains(err.Error(), "failed to save config") {
				t.Errorf("expected save config error, got %v", err)
			}
		})

		t.Run("handles Update error", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Config: shared.DefaultConfig()})

			err := runner.saveTokens(nil)
			if err == nil || !strings.Contains(err.Error(), "failed to update spotify configuration") {
				t.Fatalf("expected update error, got %v", err)
			}
			if !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials in chain, got %v", err)
			}
		})
	})
}

func TestSetup(t *testing.T) {
	t.Run("config", func(t *testing.T) {
		f := newFixture(t)
		path := filepath.Join(t.TempDir(), "config.toml")

		if err := f.run(t, "setup", "config", "--output", path); err != nil {
			t.Fatalf("setup config failed: %v", err)
		}
		tu.AssertFileExists(t, path)
		if _, err := shared.LoadConfig(path); err != nil {
			t.Errorf("written config does not load: %v", err)
		}
		if err := f.run(t, "setup", "config", "--output", path); err == nil {
			t.Error("expected an error when the config already exists")
		}
	})

	t.Run("database", func(t *testing.T) {
		f := newFixture(t)
		f.runner.config.Database.Path = filepath.Join(t.TempDir(), "test.db")

		if err := f.run(t, "setup", "database"); err != nil {
			t.Fatalf("setup database failed: %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "✓ 0001") || !strings.Contains(out, "✓ 0002") {
			t.Errorf("expected every migration applied, got:\n%s", out)
		}

		f.output.Reset()
		if err := f.run(t, "setup", "database", "--rollback"); err != nil {
			t.Fatalf("rollback failed: %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "✓ 0001") || !strings.Contains(out, "✗ 0002") {
			t.Errorf("expected the latest migration reverted, got:\n%s", out)
		}
	})
}

func TestSnapshotCommands(t *testing.T) {
	t.Run("capture, list, show and export", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run(t, "snapshot", "capture", "-p", "spotify:a", "-p", "youtube_music:b"); err != nil {
			t.Fatalf("capture failed: %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "Captured: 2/2") {
			t.Errorf("unexpected capture output:\n%s", out)
		}
		snap := f.latest(t, "spotify:a")

		f.output.Reset()
		if err := f.run(t, "snapshot", "list", "-p", "spotify:a"); err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "r1") || !strings.Contains(out, snap.ID) {
			t.Errorf("unexpected list output:\n%s", out)
		}

		f.output.Reset()
		if err := f.run(t, "snapshot", "show", "--id", snap.ID, "--format", "csv"); err != nil {
			t.Fatalf("show failed: %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "Position,Title") || !strings.Contains(out, "Three") {
			t.Errorf("unexpected csv:\n%s", out)
		}

		dir := t.TempDir()
		if err := f.run(t, "snapshot", "export", "--id", snap.ID, "--format", "markdown", "--dir", dir); err != nil {
			t.Fatalf("export failed: %v", err)
		}
		tu.AssertFileExists(t, filepath.Join(dir, "spotify_a_r1.md"))
	})

	t.Run("capture reports failures", func(t *testing.T) {
		f := newFixture(t)
		err := f.run(t, "snapshot", "capture", "-p", "spotify:a", "-p", "tidal:x")
		if err == nil || !strings.Contains(err.Error(), "1 of 2 captures failed") {
			t.Errorf("expected a partial failure, got %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "✗ tidal:x") {
			t.Errorf("expected the failed ref listed:\n%s", out)
		}
	})

	t.Run("rejects malformed references", func(t *testing.T) {
		f := newFixture(t)
		err := f.run(t, "snapshot", "list", "-p", "spotify")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("diff between revisions", func(t *testing.T) {
		f := newFixture(t)
		if err := f.run(t, "snapshot", "capture", "-p", "spotify:a"); err != nil {
			t.Fatal(err)
		}
		f.a.Put(models.Playlist{ID: "a", Name: "Mix", Tracks: tracks("X/One", "X/Three", "W/Five")})
		if err := f.run(t, "snapshot", "capture", "-p", "spotify:a"); err != nil {
			t.Fatal(err)
		}

		f.output.Reset()
		if err := f.run(t, "diff", "-p", "spotify:a", "--from", "1", "--to", "2"); err != nil {
			t.Fatalf("diff failed: %v", err)
		}
		out := f.output.String()
		if !strings.Contains(out, "r1 → r2") || !strings.Contains(out, "+1 -1") {
			t.Errorf("unexpected diff output:\n%s", out)
		}
		if !strings.Contains(out, "Five") || !strings.Contains(out, "Two") {
			t.Errorf("diff should name added and removed tracks:\n%s", out)
		}
	})

	t.Run("dedupe", func(t *testing.T) {
		f := newFixture(t)
		f.a.Put(models.Playlist{ID: "a", Name: "Mix", Tracks: tracks("X/One", "Y/Two", "X/One", "X/One (Remastered)")})
		if err := f.run(t, "snapshot", "capture", "-p", "spotify:a"); err != nil {
			t.Fatal(err)
		}
		snap := f.latest(t, "spotify:a")

		f.output.Reset()
		if err := f.run(t, "dedupe", "--snapshot", snap.ID, "--threshold", "0.8"); err != nil {
			t.Fatalf("dedupe failed: %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "duplicate group") || strings.Contains(out, ": 0 duplicate") {
			t.Errorf("expected duplicate groups:\n%s", out)
		}

		if err := f.run(t, "dedupe", "--snapshot", snap.ID, "--threshold", "1.5"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument for a bad threshold, got %v", err)
		}
	})
}

func TestTransferAndShuffle(t *testing.T) {
	t.Run("transfer appends missing tracks", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run(t, "transfer", "--from", "spotify:a", "--to", "youtube_music:b"); err != nil {
			t.Fatalf("transfer failed: %v", err)
		}
		got := titles(f.b.Tracks("b"))
		want := []string{"Two", "Four", "One", "Three"}
		if !slices.Equal(got, want) {
			t.Errorf("b = %v, want %v", got, want)
		}
		if out := f.output.String(); !strings.Contains(out, "Transfer Complete!") {
			t.Errorf("missing summary:\n%s", out)
		}

		f.output.Reset()
		if err := f.run(t, "transfer", "--from", "spotify:a", "--to", "youtube_music:b"); err != nil {
			t.Fatalf("second transfer failed: %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "already holds every track") {
			t.Errorf("expected a no-op transfer:\n%s", out)
		}
	})

	t.Run("transfer dry run leaves the destination alone", func(t *testing.T) {
		f := newFixture(t)
		if err := f.run(t, "transfer", "--from", "spotify:a", "--to", "youtube_music:b", "--dry-run"); err != nil {
			t.Fatalf("transfer failed: %v", err)
		}
		if got := len(f.b.Tracks("b")); got != 2 {
			t.Errorf("dry run changed the destination: %d tracks", got)
		}
		if len(f.b.Calls()) != 0 {
			t.Errorf("dry run must not call the platform")
		}
	})

	t.Run("shuffle applies the seeded order", func(t *testing.T) {
		f := newFixture(t)
		f.a.Put(models.Playlist{ID: "a", Name: "Mix", Tracks: tracks("X/One", "Y/Two", "X/Three", "Z/Four", "W/Five", "V/Six")})
		snap, err := f.store.Capture(context.Background(), models.Spotify, models.Playlist{ID: "a", Name: "Mix", Tracks: f.a.Tracks("a")})
		if err != nil {
			t.Fatal(err)
		}
		_, order, err := tasks.PlanShuffle(*snap, tasks.PureShuffle, 42)
		if err != nil {
			t.Fatal(err)
		}

		if err := f.run(t, "shuffle", "-p", "spotify:a", "--algorithm", "pure", "--seed", "42"); err != nil {
			t.Fatalf("shuffle failed: %v", err)
		}
		if got, want := titles(f.a.Tracks("a")), titles(order); !slices.Equal(got, want) {
			t.Errorf("a = %v, want %v", got, want)
		}
	})

	t.Run("shuffle dry run prints without moving", func(t *testing.T) {
		f := newFixture(t)
		before := titles(f.a.Tracks("a"))

		if err := f.run(t, "randomize", "-p", "spotify:a", "--seed", "7", "--dry-run"); err != nil {
			t.Fatalf("shuffle failed: %v", err)
		}
		if got := titles(f.a.Tracks("a")); !slices.Equal(got, before) {
			t.Errorf("dry run reordered the playlist: %v", got)
		}
		if out := f.output.String(); !strings.Contains(out, "smart shuffle of Mix (seed 7)") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("shuffle rejects unknown algorithms", func(t *testing.T) {
		f := newFixture(t)
		if err := f.run(t, "shuffle", "-p", "spotify:a", "--algorithm", "chaos"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestSyncCommands(t *testing.T) {
	t.Run("dry run prints the plan and changes nothing", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run(t, "sync", "start", "--group", "mix"); err != nil {
			t.Fatalf("sync failed: %v", err)
		}
		out := f.output.String()
		if !strings.Contains(out, "Dry run") || !strings.Contains(out, "Plan ") {
			t.Errorf("unexpected output:\n%s", out)
		}
		if len(f.a.Calls()) != 0 || len(f.b.Calls()) != 0 {
			t.Errorf("dry run must not mutate playlists")
		}
	})

	t.Run("approve converges the group", func(t *testing.T) {
		f := newFixture(t)

		if err := f.run(t, "sync", "start", "--group", "mix", "--approve"); err != nil {
			t.Fatalf("sync failed: %v\n%s", err, f.output.String())
		}
		a, b := titles(f.a.Tracks("a")), titles(f.b.Tracks("b"))
		if !slices.Equal(a, b) || len(a) != 4 {
			t.Errorf("members differ after sync: a=%v b=%v", a, b)
		}
		if out := f.output.String(); !strings.Contains(out, "Sync committed") {
			t.Errorf("expected a committed summary:\n%s", out)
		}

		f.output.Reset()
		if err := f.run(t, "sync", "start", "--group", "mix", "--approve"); err != nil {
			t.Fatalf("second sync failed: %v", err)
		}
		if out := f.output.String(); !strings.Contains(out, "Already in sync") {
			t.Errorf("expected an empty plan:\n%s", out)
		}
	})

	t.Run("prefer-manual conflicts", func(t *testing.T) {
		// converge first so the ancestor holds exactly one copy of every track
		converged := func(t *testing.T) *fixture {
			f := newFixture(t)
			if err := f.run(t, "sync", "start", "--group", "mix", "--approve"); err != nil {
				t.Fatalf("initial sync failed: %v", err)
			}
			// a adds a second copy of One while b removes it
			f.a.Put(models.Playlist{ID: "a", Name: "Mix", Tracks: tracks("X/One", "Y/Two", "X/Three", "Z/Four", "X/One")})
			f.b.Put(models.Playlist{ID: "b", Name: "Mix", Tracks: tracks("Y/Two", "Z/Four", "X/Three")})
			f.output.Reset()
			return f
		}
		fingerprint := tracks("X/One")[0].Fingerprint

		t.Run("without a decision the session is cancelled", func(t *testing.T) {
			f := converged(t)
			err := f.run(t, "sync", "start", "--group", "mix", "--policy", "prefer-manual")
			if !errors.Is(err, shared.ErrConflict) {
				t.Fatalf("expected ErrConflict, got %v", err)
			}
			if !strings.Contains(f.output.String(), "conflict "+fingerprint[:8]) {
				t.Errorf("expected the conflicting fingerprint in the status:\n%s", f.output.String())
			}
			// the lease must have been released by the cancel
			if err := f.run(t, "sync", "start", "--group", "mix"); err != nil {
				t.Errorf("follow-up sync failed: %v", err)
			}
		})

		t.Run("approve without keep lists what is dropped", func(t *testing.T) {
			f := converged(t)
			if err := f.run(t, "sync", "start", "--group", "mix", "--policy", "prefer-manual", "--approve"); err != nil {
				t.Fatalf("sync failed: %v\n%s", err, f.output.String())
			}
			out := f.output.String()
			if !strings.Contains(out, "Dropping 1 conflicting track(s)") || !strings.Contains(out, fingerprint+"  X - One") {
				t.Errorf("expected the dropped track to be listed:\n%s", out)
			}
			if slices.Contains(f.a.Titles("a"), "One") || slices.Contains(f.b.Titles("b"), "One") {
				t.Errorf("dropped track still present: a=%v b=%v", f.a.Titles("a"), f.b.Titles("b"))
			}
		})

		t.Run("keep by fingerprint prefix lists nothing", func(t *testing.T) {
			f := converged(t)
			if err := f.run(t, "sync", "start", "--group", "mix", "--policy", "prefer-manual", "--approve", "--keep", fingerprint[:8]); err != nil {
				t.Fatalf("sync failed: %v\n%s", err, f.output.String())
			}
			if strings.Contains(f.output.String(), "Dropping") {
				t.Errorf("kept conflicts must not be listed as dropped:\n%s", f.output.String())
			}
			if !slices.Contains(f.b.Titles("b"), "One") {
				t.Errorf("kept track missing from b: %v", f.b.Titles("b"))
			}
		})
	})

	t.Run("unknown group", func(t *testing.T) {
		f := newFixture(t)
		if err := f.run(t, "sync", "start", "--group", "nope"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("groups", func(t *testing.T) {
		f := newFixture(t)
		if err := f.run(t, "sync", "groups"); err != nil {
			t.Fatalf("groups failed: %v", err)
		}
		out := f.output.String()
		if !strings.Contains(out, "mix (Mix)") || !strings.Contains(out, "- youtube_music:b") {
			t.Errorf("unexpected groups output:\n%s", out)
		}
	})
}
