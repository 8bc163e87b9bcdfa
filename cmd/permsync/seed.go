// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/permsync/permsync/internal/config"
	"github.com/permsync/permsync/internal/seed"
	"github.com/permsync/permsync/internal/store"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	file    string
	timeout time.Duration
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the permission database with initial groups",
		Long: `Creates the groups described in a seed file, including their
inheritance links and permission nodes. Runs pending migrations first.
This command is idempotent - re-running against an already seeded
database is detected and skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, args, cfg)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("database.url", defaults.Database.URL, "permission database connection string")
	cmd.Flags().StringVar(&cfg.file, "file", "seeds.yaml", "path to the group seed file")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")

	return cmd
}

func runSeed(cmd *cobra.Command, _ []string, cfg *seedConfig) error {
	appCfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	data, err := os.ReadFile(cfg.file)
	if err != nil {
		return oops.Code("SEED_FAILED").With("file", cfg.file).Wrap(err)
	}

	seeds, err := seed.Parse(data)
	if err != nil {
		return err
	}

	// Bound database work so a dead connection does not hang the CLI.
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	cmd.Println("Running migrations...")
	m, err := store.NewMigrator(appCfg.Database.URL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil {
		m.Close() //nolint:errcheck // already failing
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	if err := m.Close(); err != nil {
		slog.Warn("migrator close failed", "error", err)
	}

	cmd.Println("Connecting to database...")
	st, err := store.New(ctx, appCfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to permission database").Wrap(err)
	}
	defer st.Close()

	if err := st.Seed(ctx, seeds.SeedGroups()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			cmd.Println("Groups already exist, skipping seed")
			slog.Info("database already seeded", "file", cfg.file)
			return nil
		}
		return oops.Code("SEED_FAILED").With("operation", "insert seed groups").Wrap(err)
	}

	for _, g := range seeds.Groups {
		cmd.Printf("Created group: %s (priority %d)\n", g.Name, g.Priority)
	}
	slog.Info("seeded permission groups", "count", len(seeds.Groups), "file", cfg.file)

	cmd.Println("Seeding complete!")
	return nil
}
