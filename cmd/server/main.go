package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "portal",
		Short:         "Patient messaging portal with clinician-reviewed AI drafts",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running without a subcommand starts the HTTP server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCmd(), newRepairCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newRepairCmd() *cobra.Command {
	repair := &cobra.Command{
		Use:   "repair",
		Short: "Backfill AI drafts for queries that are missing one",
		Long: `Backfill AI drafts for queries that are missing one.

Examples:
  portal repair missing   # queries with no response row
  portal repair empty     # responses whose AI draft is empty`,
	}
	repair.AddCommand(
		&cobra.Command{
			Use:   "missing",
			Short: "Generate responses for queries that have none",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRepair(cmd.Context(), cmd.OutOrStdout(), repairMissing)
			},
		},
		&cobra.Command{
			Use:   "empty",
			Short: "Regenerate responses stored with an empty AI draft",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRepair(cmd.Context(), cmd.OutOrStdout(), repairEmpty)
			},
		},
	)
	return repair
}
