package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdejongh/salvage/pkg/config"
	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/output"
	"github.com/sdejongh/salvage/pkg/planfile"
	"github.com/sdejongh/salvage/pkg/reconcile"
)

// RunFlags holds the flags shared by plan, dedup, match and reconcile
type RunFlags struct {
	Collections   []string
	SizeTables    []string
	DryRun        bool
	Yes           bool
	OutputPlan    string
	Format        string
	Parallel      int
	MinBytes      int64
	Exclude       []string
	Verify        bool
	Bandwidth     string
	SameExtension bool
	NoManifests   bool
	Report        string
	ReportFormat  string
}

// NewPlanCommand creates the plan command
func NewPlanCommand() *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build and save a merge plan without changing anything",
		Long: `Scan every collection, find duplicates of higher-priority content and
probable names for damaged files, and save the resulting merge plan.
Nothing is modified. Apply the saved plan later with "salvage apply".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.DryRun = true
			return executeRun(cmd, reconcile.ModeReconcile, f)
		},
	}
	addRunFlags(cmd, f, false)
	return cmd
}

// NewDedupCommand creates the dedup command
func NewDedupCommand() *cobra.Command {
	return newRunCommand(reconcile.ModeDedup, "dedup",
		"Delete content already present in a higher-priority collection",
		`Hash every collection in priority order and delete files whose exact
content already exists in a more trusted collection. Runs as a dry run
unless --dry-run=false --yes is given.`)
}

// NewMatchCommand creates the match command
func NewMatchCommand() *cobra.Command {
	return newRunCommand(reconcile.ModeMatch, "match",
		"Restore probable names of damaged files",
		`Pair damaged (zero-filled, empty or marked) files with candidate names of
the same size from size tables. A single candidate renames the file, or
replaces it when a good copy of that name and size exists. Several
candidates are reported and left alone. Runs as a dry run unless
--dry-run=false --yes is given.`)
}

// NewReconcileCommand creates the reconcile command
func NewReconcileCommand() *cobra.Command {
	return newRunCommand(reconcile.ModeReconcile, "reconcile",
		"Deduplicate and repair collections in one pass",
		`Run dedup and match together. Damaged files slated for deletion as
duplicates are not matched. Runs as a dry run unless --dry-run=false --yes
is given.`)
}

func newRunCommand(mode reconcile.Mode, use, short, long string) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, mode, f)
		},
	}
	addRunFlags(cmd, f, true)
	return cmd
}

func addRunFlags(cmd *cobra.Command, f *RunFlags, mutating bool) {
	cmd.Flags().StringSliceVarP(&f.Collections, "collections", "c", nil, "collections, most trusted first (default: config file)")
	cmd.Flags().StringSliceVar(&f.SizeTables, "size-tables", nil, "size-table sources: filesizes.txt files or directories (default: each collection's filesizes.txt)")
	if mutating {
		cmd.Flags().BoolVar(&f.DryRun, "dry-run", true, "report actions without performing them")
		cmd.Flags().BoolVarP(&f.Yes, "yes", "y", false, "confirm changes when --dry-run=false")
	}
	cmd.Flags().StringVar(&f.OutputPlan, "output-plan", "", "save the merge plan to this file")
	cmd.Flags().StringVarP(&f.Format, "format", "o", "", "output format: human, json")
	cmd.Flags().IntVarP(&f.Parallel, "parallel", "p", 0, "number of hashing workers (default: one per CPU)")
	cmd.Flags().Int64Var(&f.MinBytes, "min-bytes", 0, "keep duplicates smaller than this many bytes")
	cmd.Flags().StringSliceVar(&f.Exclude, "exclude", nil, "glob patterns to exclude")
	cmd.Flags().BoolVar(&f.Verify, "verify", false, "byte-compare each duplicate with its kept copy before deleting")
	cmd.Flags().StringVarP(&f.Bandwidth, "bandwidth", "b", "", "read rate limit (e.g., \"10M\", \"1G\")")
	cmd.Flags().BoolVar(&f.SameExtension, "same-extension", false, "only match candidates with an equivalent extension")
	cmd.Flags().BoolVar(&f.NoManifests, "no-manifests", false, "ignore hashes.txt manifests and hash everything")
	cmd.Flags().StringVar(&f.Report, "report", "", "write the plan listing to file")
	cmd.Flags().StringVar(&f.ReportFormat, "report-format", "human", "plan listing format: human, json")
}

// applyRunFlagsToConfig overrides config values with the flags the user set
func applyRunFlagsToConfig(cmd *cobra.Command, cfg *config.Config, f *RunFlags) error {
	changed := cmd.Flags().Changed

	if len(f.SizeTables) > 0 {
		cfg.SizeTables = f.SizeTables
	}
	if f.Format != "" {
		cfg.Output.Format = f.Format
	}
	if f.Parallel > 0 {
		cfg.Hashing.Workers = f.Parallel
	}
	if changed("min-bytes") {
		cfg.Dedup.MinDeleteBytes = f.MinBytes
	}
	if len(f.Exclude) > 0 {
		cfg.Scan.Exclude = f.Exclude
	}
	if changed("verify") {
		cfg.Dedup.Verify = f.Verify
	}
	if changed("same-extension") {
		cfg.Match.RequireSameExtension = f.SameExtension
	}
	if f.NoManifests {
		cfg.Hashing.UseManifests = false
	}
	if f.Bandwidth != "" {
		limit, err := parseBandwidth(f.Bandwidth)
		if err != nil {
			return err
		}
		cfg.Hashing.BandwidthLimit = limit
	}
	if f.ReportFormat != string(output.PlanFormatHuman) && f.ReportFormat != string(output.PlanFormatJSON) {
		return &models.ConfigurationError{Field: "report-format", Message: "must be 'human' or 'json'"}
	}

	return cfg.Validate()
}

func executeRun(cmd *cobra.Command, mode reconcile.Mode, f *RunFlags) error {
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
	if err := applyRunFlagsToConfig(cmd, cfg, f); err != nil {
		return err
	}

	collections, err := collectionsFromArgs(f.Collections, cfg)
	if err != nil {
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
	formatter.Start(stdout(cfg), cmd.Name(), f.DryRun)

	engine := reconcile.NewEngine(reconcile.Options{
		Mode:                 mode,
		Command:              cmd.Name(),
		Collections:          collections,
		SizeTables:           cfg.SizeTables,
		DryRun:               f.DryRun,
		Workers:              cfg.Hashing.Workers,
		BufferSize:           cfg.Hashing.BufferSize,
		Retries:              cfg.Hashing.Retries,
		BandwidthLimit:       cfg.Hashing.BandwidthLimit,
		UseManifests:         cfg.Hashing.UseManifests,
		DamagedSuffix:        cfg.Scan.DamagedSuffix,
		Exclude:              cfg.Scan.Exclude,
		MinDeleteBytes:       cfg.Dedup.MinDeleteBytes,
		Verify:               cfg.Dedup.Verify,
		RequireSameExtension: cfg.Match.RequireSameExtension,
	}, formatter, logger)
	if cfg.Output.Progress && cfg.Output.Format == "human" {
		engine.SetProgressWriter(os.Stderr)
	}

	report, err := engine.Run(ctx)
	if err != nil {
		formatter.Error(err)
		formatter.Complete(report)
		return fmt.Errorf("%s failed: %w", cmd.Name(), err)
	}

	if err := savePlan(cmd, f, cfg, report); err != nil {
		return err
	}
	if err := writeReport(f, report.Plan); err != nil {
		return err
	}

	formatter.Complete(report)
	exitWith(report)
	return nil
}

// savePlan persists the plan. Dry runs always save one so it can be applied
// later; live runs save only when --output-plan is given.
func savePlan(cmd *cobra.Command, f *RunFlags, cfg *config.Config, report *models.RunReport) error {
	path := f.OutputPlan
	if path == "" {
		if !report.DryRun {
			return nil
		}
		path = planfile.DefaultPath(report.Plan.ID)
	}

	if err := planfile.Save(path, cmd.Name(), report.Plan); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	if !cfg.Output.Quiet {
		fmt.Fprintf(os.Stderr, "Plan saved to %s\n", path)
	}
	return nil
}

// writeReport writes the plan listing if requested
func writeReport(f *RunFlags, plan *models.MergePlan) error {
	if f.Report == "" {
		return nil
	}
	if err := output.WritePlanFile(plan, f.Report, output.PlanFormat(f.ReportFormat)); err != nil {
		return fmt.Errorf("failed to write plan listing: %w", err)
	}
	return nil
}

// stdout returns where formatted output goes; nil silences the human
// formatter in quiet mode
func stdout(cfg *config.Config) io.Writer {
	if cfg.Output.Quiet && cfg.Output.Format == "human" {
		return nil
	}
	return os.Stdout
}

// exitWith ends the process with the report's exit code when it is not zero
func exitWith(report *models.RunReport) {
	if code := report.Status.ExitCode(); code != 0 {
		os.Exit(code)
	}
}
