// Package reconcile runs the salvage phases in order: scan, hash and index,
// plan deletions and damaged-file matches, then hand the plan to the
// reporter.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sdejongh/salvage/pkg/apply"
	"github.com/sdejongh/salvage/pkg/dedup"
	"github.com/sdejongh/salvage/pkg/digest"
	"github.com/sdejongh/salvage/pkg/index"
	"github.com/sdejongh/salvage/pkg/logging"
	"github.com/sdejongh/salvage/pkg/manifest"
	"github.com/sdejongh/salvage/pkg/match"
	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/output"
	"github.com/sdejongh/salvage/pkg/ratelimit"
	"github.com/sdejongh/salvage/pkg/scan"
	"github.com/sdejongh/salvage/pkg/sizetable"
	"github.com/sdejongh/salvage/pkg/storage"
	"github.com/sdejongh/salvage/pkg/verify"
)

// Mode selects which planners run
type Mode string

const (
	// ModeDedup plans duplicate deletions only
	ModeDedup Mode = "dedup"
	// ModeMatch plans damaged-file renames and replaces only
	ModeMatch Mode = "match"
	// ModeReconcile plans both
	ModeReconcile Mode = "reconcile"
)

// Options configures a run
type Options struct {
	Mode        Mode
	Command     string
	Collections []models.Collection

	// SizeTables lists explicit size-table sources (files or directories).
	// When empty every collection contributes its own table.
	SizeTables []string

	DryRun bool

	Workers        int
	BufferSize     int
	Retries        int
	BandwidthLimit int64
	UseManifests   bool

	DamagedSuffix string
	Exclude       []string
	Validator     scan.Validator

	MinDeleteBytes       int64
	Verify               bool
	RequireSameExtension bool
}

// Engine orchestrates one salvage run
type Engine struct {
	opts      Options
	formatter output.Formatter
	logger    logging.Logger
	progress  io.Writer
}

// NewEngine creates a new engine
func NewEngine(opts Options, formatter output.Formatter, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	if opts.Mode == "" {
		opts.Mode = ModeReconcile
	}
	if opts.Command == "" {
		opts.Command = string(opts.Mode)
	}
	return &Engine{
		opts:      opts,
		formatter: formatter,
		logger:    logger.WithFields(logging.Fields{"component": "reconcile"}),
	}
}

// SetProgressWriter enables the hashing progress bar on w when w is a terminal
func (e *Engine) SetProgressWriter(w io.Writer) {
	e.progress = w
}

// Run scans the collections, builds the plan and applies or reports it.
// The returned report is always finalized; err is the fatal error, if any.
func (e *Engine) Run(ctx context.Context) (*models.RunReport, error) {
	report := models.NewRunReport(uuid.New().String(), e.opts.Command, e.opts.DryRun)
	err := e.run(ctx, report)
	report.Finalize(err)
	return report, err
}

func (e *Engine) run(ctx context.Context, report *models.RunReport) error {
	collections, err := models.OrderCollections(absRoots(e.opts.Collections))
	if err != nil {
		return err
	}
	for _, c := range collections {
		if err := checkRoot(c); err != nil {
			return err
		}
	}

	excluder, err := scan.NewExcluder(e.opts.Exclude)
	if err != nil {
		return &models.ConfigurationError{Field: "exclude", Message: err.Error()}
	}

	backends, err := storage.NewSet(roots(collections))
	if err != nil {
		return err
	}
	defer backends.Close()

	e.logger.Info(ctx, "run started", logging.Fields{
		"operation_id": report.OperationID,
		"mode":         string(e.opts.Mode),
		"dry_run":      e.opts.DryRun,
		"collections":  len(collections),
	})

	// scan
	scanner := scan.NewScanner(scan.Options{
		DamagedSuffix: e.opts.DamagedSuffix,
		Exclude:       excluder,
		Validator:     e.opts.Validator,
		Logger:        e.logger,
	})
	records := make(map[string][]*models.FileRecord, len(collections))
	for _, col := range collections {
		res, err := scanner.Scan(ctx, col)
		if err != nil {
			return err
		}
		records[col.Root] = res.Records

		report.Stats.CollectionsScanned++
		report.Stats.FilesScanned += len(res.Records)
		report.Stats.BytesScanned += res.Bytes
		report.Stats.FilesDamaged += res.Damaged
		report.Stats.FilesZeroFilled += res.ZeroFilled
		for _, f := range res.Failures {
			report.AddError(f)
		}
		report.Stats.ReadFailures += len(res.Failures)
	}

	if e.opts.UseManifests {
		for _, col := range collections {
			report.Stats.ManifestDigests += e.prefill(ctx, col, records[col.Root])
		}
	}

	// hash and index
	limiter := ratelimit.NewLimiter(e.opts.BandwidthLimit)
	hasher := digest.NewHasher(e.opts.BufferSize)
	hasher.SetOpener(backends)
	hasher.SetLimiter(limiter)

	bar := output.NewHashProgress(e.progress, pendingBytes(records))
	if bar != nil {
		hasher.SetProgress(bar.Add)
		bar.Start()
	}
	pool := digest.NewPool(hasher, e.opts.Workers, e.opts.Retries)
	pool.OnRecord = func(rec *models.FileRecord, err error) {
		if err == nil {
			e.logger.Debug(ctx, "file hashed", logging.Fields{"path": rec.Path, "digest": rec.Digest()})
		}
	}
	e.logger.Info(ctx, "hashing started", logging.Fields{"workers": pool.Workers(), "pending_bytes": pendingBytes(records)})

	x, failures, err := index.Build(ctx, collections, records, pool, e.logger)
	bar.Finish()
	for _, f := range failures {
		report.AddError(f)
	}
	report.Stats.ReadFailures += len(failures)
	if err != nil {
		return fmt.Errorf("indexing interrupted: %w", err)
	}
	report.Stats.UniqueDigests = x.Len()
	report.Stats.FilesHashed = countHashed(records) - report.Stats.ManifestDigests

	// plan
	plan := models.NewMergePlan(report.OperationID, collections, e.opts.DryRun)
	report.Plan = plan

	var deletes []models.Action
	if e.opts.Mode != ModeMatch {
		deletes = dedup.Plan(ctx, collections, records, x, dedup.Options{
			MinDeleteBytes: e.opts.MinDeleteBytes,
			Logger:         e.logger,
		})
		plan.Add(deletes...)
	}

	if e.opts.Mode != ModeDedup {
		tables, err := e.sizeTables(ctx, collections, records)
		if err != nil {
			return err
		}
		e.logger.Info(ctx, "size tables loaded", logging.Fields{"tables": tables.Tables(), "sizes": tables.Sizes()})
		result := match.Plan(ctx, ordered(collections, records), tables, x, dedup.Deleted(deletes), match.Options{
			DamagedSuffix:        e.opts.DamagedSuffix,
			RequireSameExtension: e.opts.RequireSameExtension,
			Logger:               e.logger,
		})
		plan.Add(result.Actions...)
		for _, am := range result.Ambiguous {
			report.AddError(am)
		}
		report.Stats.Ambiguous = len(result.Ambiguous)
		report.Stats.Unresolved = result.None
	}

	report.Stats.Duplicates = plan.Count(models.ActionDelete)
	report.Stats.Renames = plan.Count(models.ActionRename)
	report.Stats.Replaces = plan.Count(models.ActionReplace)
	report.Stats.Skipped = plan.Count(models.ActionSkip)

	return e.apply(ctx, report, backends, limiter, e.opts.Verify)
}

// ApplyPlan applies a persisted plan. Deletions are always re-verified
// against their reference since the files may have changed since planning.
// Actions already applied by an earlier run are left out.
func (e *Engine) ApplyPlan(ctx context.Context, saved *models.MergePlan) (*models.RunReport, error) {
	report := models.NewRunReport(uuid.New().String(), e.opts.Command, e.opts.DryRun)
	err := e.applyPlan(ctx, report, saved)
	report.Finalize(err)
	return report, err
}

func (e *Engine) applyPlan(ctx context.Context, report *models.RunReport, saved *models.MergePlan) error {
	if saved == nil {
		return &models.ConfigurationError{Field: "plan", Message: "no plan to apply"}
	}
	collections := saved.Collections
	if len(collections) == 0 {
		return &models.ConfigurationError{Field: "plan", Message: "plan lists no collections"}
	}
	for _, c := range collections {
		if err := checkRoot(c); err != nil {
			return err
		}
	}

	backends, err := storage.NewSet(roots(collections))
	if err != nil {
		return err
	}
	defer backends.Close()

	plan := models.NewMergePlan(saved.ID, collections, e.opts.DryRun)
	for _, a := range saved.Actions {
		if a.Outcome == models.OutcomeApplied {
			continue
		}
		a.Outcome = ""
		a.Error = ""
		plan.Add(a)
	}
	report.Plan = plan
	report.Stats.CollectionsScanned = len(collections)
	report.Stats.Duplicates = plan.Count(models.ActionDelete)
	report.Stats.Renames = plan.Count(models.ActionRename)
	report.Stats.Replaces = plan.Count(models.ActionReplace)
	report.Stats.Skipped = plan.Count(models.ActionSkip)

	e.logger.Info(ctx, "applying saved plan", logging.Fields{
		"plan_id": saved.ID,
		"actions": len(plan.Actions),
		"dry_run": e.opts.DryRun,
	})

	return e.apply(ctx, report, backends, ratelimit.NewLimiter(e.opts.BandwidthLimit), true)
}

func (e *Engine) apply(ctx context.Context, report *models.RunReport, backends *storage.Set, limiter *ratelimit.Limiter, verifyDeletes bool) error {
	v := verify.NewVerifier(backends)
	v.SetLimiter(limiter)
	h := digest.NewHasher(e.opts.BufferSize)
	h.SetOpener(backends)
	h.SetLimiter(limiter)
	opts := apply.Options{
		DryRun:        e.opts.DryRun,
		VerifyDeletes: verifyDeletes,
		Verifier:      v,
		Hasher:        h,
		Logger:        e.logger,
	}

	reporter := apply.NewReporter(backends, opts)
	if e.formatter != nil {
		reporter.OnAction = func(a models.Action) {
			e.formatter.Action(a)
		}
	}

	result, err := reporter.Apply(ctx, report.Plan)
	report.Stats.ActionsApplied = result.Applied
	report.Stats.ActionsFailed = result.Failed
	report.Stats.ActionsSkipped = result.Skipped
	report.Stats.BytesReclaimed = result.BytesReclaimed
	for _, f := range result.Failures {
		report.AddError(f)
	}
	if err != nil {
		return fmt.Errorf("apply interrupted: %w", err)
	}
	return nil
}

// prefill presets digests listed in the collection's hash manifest
func (e *Engine) prefill(ctx context.Context, col models.Collection, records []*models.FileRecord) int {
	log := e.logger.WithFields(logging.Fields{"collection": col.Root})

	m, warnings, err := manifest.Load(col.Root)
	for _, w := range warnings {
		log.Warn(ctx, "manifest line skipped", logging.Fields{"error": w.Error()})
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return 0
	case errors.Is(err, manifest.ErrUnknownAlgorithm):
		log.Warn(ctx, "manifest ignored", logging.Fields{"error": err.Error()})
		return 0
	case err != nil:
		log.Warn(ctx, "manifest unreadable", logging.Fields{"error": err.Error()})
		return 0
	}

	n := m.Prefill(records)
	log.Debug(ctx, "manifest loaded", logging.Fields{"entries": m.Len(), "prefilled": n})
	return n
}

// sizeTables builds the candidate lookup. Explicit sources replace the
// default, which is each collection's filesizes.txt artifact. Scanned names
// are used only for collections marked Names, since a recovery dump's own
// names are not worth offering.
func (e *Engine) sizeTables(ctx context.Context, collections []models.Collection, records map[string][]*models.FileRecord) (*sizetable.Set, error) {
	set := sizetable.NewSet()

	if len(e.opts.SizeTables) > 0 {
		for _, src := range e.opts.SizeTables {
			t, warnings, err := sizetable.Resolve(ctx, sizetable.Source{Path: src})
			if err != nil {
				return nil, &models.ConfigurationError{Field: "size_tables", Message: err.Error()}
			}
			e.logWarnings(ctx, warnings)
			set.Add(t)
		}
		return set, nil
	}

	for _, col := range collections {
		artifact := filepath.Join(col.Root, scan.SizeTableFile)
		if _, err := os.Stat(artifact); err == nil {
			t, warnings, err := sizetable.Load(artifact, col.Root)
			e.logWarnings(ctx, warnings)
			if err == nil {
				set.Add(t)
				continue
			}
			e.logger.Warn(ctx, "size table unreadable", logging.Fields{
				"file": artifact, "error": err.Error(), "names": col.Names,
			})
		}
		if col.Names {
			set.Add(sizetable.FromRecords(col.Root, records[col.Root]))
		}
	}
	return set, nil
}

func (e *Engine) logWarnings(ctx context.Context, warnings []error) {
	for _, w := range warnings {
		e.logger.Warn(ctx, "size table line skipped", logging.Fields{"error": w.Error()})
	}
}

// absRoots makes every non-empty root absolute so the same directory given
// two ways is caught as a duplicate
func absRoots(collections []models.Collection) []models.Collection {
	out := make([]models.Collection, len(collections))
	for i, c := range collections {
		if c.Root != "" {
			if abs, err := filepath.Abs(c.Root); err == nil {
				c.Root = abs
			}
		}
		out[i] = c
	}
	return out
}

// checkRoot requires the collection root to be an existing directory
func checkRoot(c models.Collection) error {
	info, err := os.Stat(c.Root)
	if err != nil {
		return &models.ConfigurationError{Field: "collections", Message: "cannot access " + c.Root + ": " + err.Error()}
	}
	if !info.IsDir() {
		return &models.ConfigurationError{Field: "collections", Message: c.Root + " is not a directory"}
	}
	return nil
}

func roots(collections []models.Collection) []string {
	out := make([]string, len(collections))
	for i, c := range collections {
		out[i] = c.Root
	}
	return out
}

// ordered flattens records in rank order, scan order within a collection
func ordered(collections []models.Collection, records map[string][]*models.FileRecord) []*models.FileRecord {
	var out []*models.FileRecord
	for _, c := range collections {
		out = append(out, records[c.Root]...)
	}
	return out
}

// pendingBytes is the size of every record not prefilled from a manifest
func pendingBytes(records map[string][]*models.FileRecord) int64 {
	var total int64
	for _, recs := range records {
		for _, r := range recs {
			if r.Digest() == "" {
				total += r.Size
			}
		}
	}
	return total
}

func countHashed(records map[string][]*models.FileRecord) int {
	n := 0
	for _, recs := range records {
		for _, r := range recs {
			if r.Digest() != "" {
				n++
			}
		}
	}
	return n
}
