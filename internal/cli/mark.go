package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdejongh/salvage/pkg/output"
	"github.com/sdejongh/salvage/pkg/reconcile"
)

// NewMarkCommand creates the mark command
func NewMarkCommand() *cobra.Command {
	var (
		minBytes int64
		dryRun   bool
		yes      bool
		exclude  []string
		format   string
	)

	cmd := &cobra.Command{
		Use:   "mark <dir>",
		Short: "Add the damaged suffix to zero-filled files",
		Long: `Find files below <dir> whose content is entirely zero bytes and rename
them to carry the damaged suffix (".damaged" by default), so later runs and
other tools recognise them. Files of --min-bytes or less are left alone.
Runs as a dry run unless --dry-run=false --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := requireConfirmation(dryRun, yes); err != nil {
				return err
			}
			if err := requireDirectory(args[0]); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if format != "" {
				cfg.Output.Format = format
			}
			if len(exclude) > 0 {
				cfg.Scan.Exclude = exclude
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := createLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Close()

			formatter, err := output.NewFormatter(cfg.Output.Format)
			if err != nil {
				return err
			}
			formatter.Start(stdout(cfg), cmd.Name(), dryRun)

			engine := reconcile.NewEngine(reconcile.Options{
				Command:       cmd.Name(),
				DryRun:        dryRun,
				DamagedSuffix: cfg.Scan.DamagedSuffix,
				Exclude:       cfg.Scan.Exclude,
			}, formatter, logger)

			report, err := engine.Mark(ctx, args[0], minBytes)
			if err != nil {
				formatter.Error(err)
				formatter.Complete(report)
				return fmt.Errorf("mark failed: %w", err)
			}

			formatter.Complete(report)
			exitWith(report)
			return nil
		},
	}

	cmd.Flags().Int64Var(&minBytes, "min-bytes", reconcile.DefaultMarkMinBytes, "leave zero-filled files of this size or less alone")
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "report renames without performing them")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm renames when --dry-run=false")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob patterns to exclude")
	cmd.Flags().StringVarP(&format, "format", "o", "", "output format: human, json")

	return cmd
}
