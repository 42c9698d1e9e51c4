package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdejongh/salvage/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// exitFatal is the exit code of a run aborted by a fatal error
const exitFatal = 2

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitFatal)
	}
}

func run() error {
	cli.Version, cli.Commit, cli.BuildDate = version, commit, date

	rootCmd := &cobra.Command{
		Use:   "salvage",
		Short: "Reconcile overlapping collections of recovered files",
		Long: `salvage reconciles collections of recovered files produced by different
recovery tools or passes. It identifies files by content, removes copies
already present in a more trusted collection, and restores probable names
of damaged files from size tables. Every command that changes files runs
as a dry run unless told otherwise.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add global flags
	cli.AddGlobalFlags(rootCmd)

	// Add commands
	rootCmd.AddCommand(cli.NewPlanCommand())
	rootCmd.AddCommand(cli.NewDedupCommand())
	rootCmd.AddCommand(cli.NewMatchCommand())
	rootCmd.AddCommand(cli.NewReconcileCommand())
	rootCmd.AddCommand(cli.NewApplyCommand())
	rootCmd.AddCommand(cli.NewSizesCommand())
	rootCmd.AddCommand(cli.NewHashesCommand())
	rootCmd.AddCommand(cli.NewMarkCommand())
	rootCmd.AddCommand(cli.NewConfigCommand())
	rootCmd.AddCommand(cli.NewVersionCommand())

	return rootCmd.Execute()
}
