package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/audioarchitect/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes the embedded example config to --output.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("output")

	if err := shared.CreateConfigFile(path); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", path)

	r.writePlain("✓ Config written to %s\n", path)
	r.writePlainln("Next steps:")
	r.writePlain("1. Fill in [spotify] client_id/client_secret and [proxy] base_url\n")
	r.writePlain("2. Declare sync groups under [[groups]]\n")
	r.writePlain("3. Run 'audioarchitect setup database' and 'audioarchitect auth spotify'\n")
	return nil
}

// SetupDatabase initializes the database and runs migrations, or rolls back the latest one.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	path := r.config.Database.Path
	r.logger.Info("initializing database", "path", path)

	db, err := shared.NewDatabase(path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	switch {
	case cmd.Bool("status"):
	case cmd.Bool("rollback"):
		r.logger.Info("rolling back latest migration")
		if err := shared.RollbackMigration(ctx, db); err != nil {
			return err
		}
	default:
		r.logger.Info("running database migrations")
		if err := shared.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	statuses, err := shared.MigrationStatuses(ctx, db)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		mark := "✗"
		if s.Applied {
			mark = "✓"
		}
		r.writePlain("%s %04d %s\n", mark, s.Version, s.Name)
	}
	r.logger.Infof("setup complete for database: %v", path)
	return nil
}
