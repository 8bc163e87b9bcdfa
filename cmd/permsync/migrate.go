// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/permsync/permsync/internal/config"
	"github.com/permsync/permsync/internal/store"
)

// NewMigrateCmd creates the migrate subcommand with its operations.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the mirror database schema",
		Long:  `Apply, roll back, and inspect schema migrations on the permission database.`,
	}

	defaults := config.Default()
	cmd.PersistentFlags().String("database.url", defaults.Database.URL, "permission database connection string")

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateForceCmd())

	return cmd
}

// migratorFor builds a Migrator from config and flags.
func migratorFor(cmd *cobra.Command) (*store.Migrator, error) {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	return store.NewMigrator(cfg.Database.URL)
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := migratorFor(cmd)
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck // best-effort cleanup on CLI exit

			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("No pending migrations")
				return nil
			}

			if err := m.Up(); err != nil {
				return err
			}
			cmd.Printf("Applied %d migration(s)\n", len(pending))
			return nil
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back all migrations (destructive)",
		Long:  `Rolls back every migration, dropping all tables and data. Requires --yes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return oops.Code("CONFIRMATION_REQUIRED").
					Errorf("migrate down drops all data; re-run with --yes to confirm")
			}

			m, err := migratorFor(cmd)
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck // best-effort cleanup on CLI exit

			if err := m.Down(); err != nil {
				return err
			}
			cmd.Println("Rolled back all migrations")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive rollback")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current migration version and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := migratorFor(cmd)
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck // best-effort cleanup on CLI exit

			version, dirty, err := m.Version()
			if err != nil {
				return err
			}

			if version == 0 {
				cmd.Println("Version: none (empty database)")
			} else {
				name, nameErr := store.MigrationName(version)
				if nameErr != nil || name == "" {
					name = "unknown"
				}
				cmd.Printf("Version: %d (%s)\n", version, name)
			}
			if dirty {
				cmd.Println("State:   DIRTY - a migration failed partway; fix the database and use 'migrate force'")
			}

			pending, err := m.PendingMigrations()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				cmd.Println("Pending: none")
				return nil
			}
			for _, v := range pending {
				name, nameErr := store.MigrationName(v)
				if nameErr != nil || name == "" {
					name = "unknown"
				}
				cmd.Printf("Pending: %d (%s)\n", v, name)
			}
			return nil
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Set the migration version without running migrations",
		Long:  `Recovers from a dirty state after fixing the database by hand.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < 0 {
				return oops.Code("INVALID_VERSION").
					Errorf("version must be a non-negative integer, got %q", args[0])
			}

			m, err := migratorFor(cmd)
			if err != nil {
				return err
			}
			defer m.Close() //nolint:errcheck // best-effort cleanup on CLI exit

			if err := m.Force(version); err != nil {
				return err
			}
			cmd.Printf("Forced version to %d\n", version)
			return nil
		},
	}
}
