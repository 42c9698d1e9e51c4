package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/output"
	"github.com/sdejongh/salvage/pkg/planfile"
	"github.com/sdejongh/salvage/pkg/reconcile"
)

// ApplyFlags holds apply command flags
type ApplyFlags struct {
	Plan       string
	Yes        bool
	DryRun     bool
	Format     string
	Bandwidth  string
	OutputPlan string
}

// NewApplyCommand creates the apply command
func NewApplyCommand() *cobra.Command {
	f := &ApplyFlags{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a saved merge plan",
		Long: `Apply a merge plan saved by a dry run. Every deletion is re-verified
byte for byte against its kept copy first; actions whose files changed
since planning fail and are reported. Actions already applied are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, f)
		},
	}

	cmd.Flags().StringVar(&f.Plan, "plan", "", "plan file or plan ID (required)")
	cmd.MarkFlagRequired("plan")
	cmd.Flags().BoolVarP(&f.Yes, "yes", "y", false, "confirm changes to the collections")
	cmd.Flags().BoolVar(&f.DryRun, "dry-run", false, "re-report the plan without performing it")
	cmd.Flags().StringVarP(&f.Format, "format", "o", "", "output format: human, json")
	cmd.Flags().StringVarP(&f.Bandwidth, "bandwidth", "b", "", "read rate limit for verification (e.g., \"10M\")")
	cmd.Flags().StringVar(&f.OutputPlan, "output-plan", "", "save the plan with its outcomes to this file")

	return cmd
}

func runApply(cmd *cobra.Command, f *ApplyFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := requireConfirmation(f.DryRun, f.Yes); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if f.Format != "" {
		cfg.Output.Format = f.Format
	}
	if f.Bandwidth != "" {
		if cfg.Hashing.BandwidthLimit, err = parseBandwidth(f.Bandwidth); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	path, err := planfile.Resolve(f.Plan)
	if err != nil {
		return &models.ConfigurationError{Field: "plan", Message: err.Error()}
	}
	saved, err := planfile.Load(path)
	if err != nil {
		return &models.ConfigurationError{Field: "plan", Message: err.Error()}
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
	formatter.Start(stdout(cfg), cmd.Name(), f.DryRun)

	engine := reconcile.NewEngine(reconcile.Options{
		Command:        cmd.Name(),
		DryRun:         f.DryRun,
		BandwidthLimit: cfg.Hashing.BandwidthLimit,
	}, formatter, logger)

	report, err := engine.ApplyPlan(ctx, saved.Plan)
	if err != nil {
		formatter.Error(err)
		formatter.Complete(report)
		return fmt.Errorf("apply failed: %w", err)
	}

	if f.OutputPlan != "" {
		if err := planfile.Save(f.OutputPlan, cmd.Name(), report.Plan); err != nil {
			return fmt.Errorf("failed to save plan: %w", err)
		}
		if !cfg.Output.Quiet {
			fmt.Fprintf(os.Stderr, "Plan saved to %s\n", f.OutputPlan)
		}
	}

	formatter.Complete(report)
	exitWith(report)
	return nil
}
