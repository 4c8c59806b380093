// submodule cmd contains command definitions
package main

import (
	"github.com/desertthunder/audioarchitect/internal/tasks"
	"github.com/urfave/cli/v3"
)

func formatFlag(value string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, csv, markdown or txt",
		Value:   value,
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Write a config file from the built-in template",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Where to write the config file",
						Value:   "config.toml",
					},
				},
				Action: r.SetupConfig,
			},
			{
				Name:  "database",
				Usage: "Initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Revert the most recent migration instead",
					},
					&cli.BoolFlag{
						Name:  "status",
						Usage: "List migrations and whether they are applied",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand handles platform authorization.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize platform adapters",
		Commands: []*cli.Command{
			{
				Name:  "spotify",
				Usage: "Authenticate with Spotify using OAuth2 and save the tokens",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: authTimeout,
					},
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening it",
					},
				},
				Action: r.SpotifyAuth,
			},
		},
	}
}

// snapshotCommand handles playlist captures.
func snapshotCommand(r *Runner) *cli.Command {
	playlist := &cli.StringFlag{
		Name:     "playlist",
		Aliases:  []string{"p"},
		Usage:    "Playlist reference, platform:id",
		Required: true,
	}
	return &cli.Command{
		Name:    "snapshot",
		Aliases: []string{"snap"},
		Usage:   "Capture and inspect playlist snapshots",
		Commands: []*cli.Command{
			{
				Name:  "capture",
				Usage: "Fetch playlists and store a new snapshot of each",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "playlist",
						Aliases:  []string{"p"},
						Usage:    "Playlist reference, platform:id (repeatable)",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent fetches",
						Value: 5,
					},
				},
				Action: r.SnapshotCapture,
			},
			{
				Name:   "list",
				Usage:  "List stored revisions of a playlist",
				Flags:  []cli.Flag{playlist, formatFlag("txt")},
				Action: r.SnapshotList,
			},
			{
				Name:  "show",
				Usage: "Print one snapshot",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Snapshot ID", Required: true},
					formatFlag("txt"),
				},
				Action: r.SnapshotShow,
			},
			{
				Name:  "export",
				Usage: "Write a snapshot to a file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "Snapshot ID", Required: true},
					formatFlag("json"),
					&cli.StringFlag{
						Name:    "dir",
						Aliases: []string{"o"},
						Usage:   "Output directory",
						Value:   ".",
					},
				},
				Action: r.SnapshotExport,
			},
		},
	}
}

func diffCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "diff",
		Usage: "Show what changed between two revisions of a playlist",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "playlist", Aliases: []string{"p"}, Usage: "Playlist reference, platform:id", Required: true},
			&cli.IntFlag{Name: "from", Usage: "Older revision", Required: true},
			&cli.IntFlag{Name: "to", Usage: "Newer revision (default: latest)"},
			formatFlag("txt"),
		},
		Action: r.Diff,
	}
}

func dedupeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "dedupe",
		Aliases: []string{"duplicates"},
		Usage:   "Find duplicate and near-duplicate tracks in a snapshot",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "snapshot", Aliases: []string{"s"}, Usage: "Snapshot ID", Required: true},
			&cli.FloatFlag{Name: "threshold", Usage: "Similarity threshold in (0, 1] (default: sync.duplicate_threshold)"},
			formatFlag("txt"),
		},
		Action: r.Dedupe,
	}
}

// syncCommand runs sync sessions for configured groups.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Reconcile the playlists of a sync group",
		Commands: []*cli.Command{
			{
				Name:  "start",
				Usage: "Capture, merge and plan a sync; apply it with --approve",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "Sync group ID", Required: true},
					&cli.StringFlag{
						Name:  "policy",
						Usage: "prefer-union, prefer-latest-timestamp or prefer-manual (default: sync.default_policy)",
					},
					&cli.BoolFlag{Name: "approve", Usage: "Execute the plan instead of only printing it"},
					&cli.StringSliceFlag{
						Name:  "keep",
						Usage: "Fingerprint of a conflicting track to keep (repeatable); unlisted conflicts are dropped",
					},
				},
				Action: r.SyncStart,
			},
			{
				Name:   "groups",
				Usage:  "List configured sync groups",
				Flags:  []cli.Flag{&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"}},
				Action: r.SyncGroups,
			},
		},
	}
}

func shuffleCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "shuffle",
		Aliases: []string{"randomize"},
		Usage:   "Reorder a playlist in place",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "playlist", Aliases: []string{"p"}, Usage: "Playlist reference, platform:id", Required: true},
			&cli.StringFlag{
				Name:  "algorithm",
				Usage: string(tasks.SmartShuffle) + " spreads out artists, " + string(tasks.PureShuffle) + " is uniform",
				Value: string(tasks.SmartShuffle),
			},
			&cli.Uint64Flag{Name: "seed", Usage: "Random seed (default: time based)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Print the new order without applying it"},
		},
		Action: r.Shuffle,
	}
}

func transferCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "transfer",
		Usage: "Copy tracks missing on one playlist from another",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "from", Usage: "Source playlist, platform:id", Required: true},
			&cli.StringFlag{Name: "to", Usage: "Destination playlist, platform:id", Required: true},
			&cli.BoolFlag{Name: "dry-run", Usage: "Print the plan without applying it"},
		},
		Action: r.Transfer,
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Bind address (default: server.host)"},
			&cli.IntFlag{Name: "port", Usage: "Port (default: server.port)"},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Conflict policy for sessions started without one (default: sync.default_policy)",
			},
		},
		Action: r.Serve,
	}
}
