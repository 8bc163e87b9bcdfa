// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PermSync Contributors

package main

import (
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/permsync/permsync/internal/seed"
)

// NewValidateSeedsCmd creates the validate-seeds subcommand.
func NewValidateSeedsCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate-seeds",
		Short: "Validate a group seed file without touching the database",
		Long: `Validates a group seed file against the schema and checks the
inheritance graph for unknown parents and cycles.
Does NOT require a database connection.
Exits with code 0 on success, non-zero on failure.

Useful in CI pipelines to catch seed file errors early:
  permsync validate-seeds --file seeds.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidateSeeds(cmd, file)
		},
	}

	cmd.Flags().StringVar(&file, "file", "seeds.yaml", "path to the group seed file")

	return cmd
}

func runValidateSeeds(cmd *cobra.Command, file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return oops.Code("SEED_INVALID").With("file", file).Wrap(err)
	}

	seeds, err := seed.Parse(data)
	if err != nil {
		cmd.PrintErrln(seed.FormatSchemaError(err))
		return oops.Code("SEED_INVALID").With("file", file).Errorf("seed validation failed")
	}

	cmd.Printf("%s: %d group(s) valid\n", file, len(seeds.Groups))
	return nil
}
