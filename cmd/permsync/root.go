package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the PermSync CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permsync",
		Short: "PermSync - permission mirror for game networks",
		Long: `PermSync mirrors a hierarchical permission database into memory and
keeps connected player sessions in sync as permissions change.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewValidateSeedsCmd())
	cmd.AddCommand(NewStatusCmd())

	return cmd
}
