package reconcile

import (
	"context"

	"github.com/google/uuid"

	"github.com/sdejongh/salvage/pkg/logging"
	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/scan"
	"github.com/sdejongh/salvage/pkg/storage"
)

// DefaultMarkMinBytes is the size at or below which zero-filled files are
// not marked
const DefaultMarkMinBytes = 8

// ReasonZeroFilled explains a mark rename
const ReasonZeroFilled = "zero-filled content"

// Mark proposes renaming every zero-filled file of dir larger than minBytes
// so it carries the damaged suffix. Files already marked are left alone.
// The renames go through the reporter, so dry-run rules apply.
func (e *Engine) Mark(ctx context.Context, dir string, minBytes int64) (*models.RunReport, error) {
	report := models.NewRunReport(uuid.New().String(), e.opts.Command, e.opts.DryRun)
	err := e.mark(ctx, report, dir, minBytes)
	report.Finalize(err)
	return report, err
}

func (e *Engine) mark(ctx context.Context, report *models.RunReport, dir string, minBytes int64) error {
	collections, err := models.OrderCollections(absRoots([]models.Collection{{Root: dir, Priority: 1}}))
	if err != nil {
		return err
	}
	col := collections[0]
	if err := checkRoot(col); err != nil {
		return err
	}

	excluder, err := scan.NewExcluder(e.opts.Exclude)
	if err != nil {
		return &models.ConfigurationError{Field: "exclude", Message: err.Error()}
	}

	backends, err := storage.NewSet([]string{col.Root})
	if err != nil {
		return err
	}
	defer backends.Close()

	scanner := scan.NewScanner(scan.Options{
		DamagedSuffix: e.opts.DamagedSuffix,
		Exclude:       excluder,
		Logger:        e.logger,
	})
	res, err := scanner.Scan(ctx, col)
	if err != nil {
		return err
	}
	report.Stats.CollectionsScanned = 1
	report.Stats.FilesScanned = len(res.Records)
	report.Stats.BytesScanned = res.Bytes
	report.Stats.FilesDamaged = res.Damaged
	report.Stats.FilesZeroFilled = res.ZeroFilled
	report.Stats.ReadFailures = len(res.Failures)
	for _, f := range res.Failures {
		report.AddError(f)
	}

	suffix := scanner.DamagedSuffix()
	plan := models.NewMergePlan(report.OperationID, collections, e.opts.DryRun)
	for _, r := range res.Records {
		if r.Status != models.StatusZeroFilled || r.Damage.Has(models.DamageMarker) {
			continue
		}
		if r.Size <= minBytes {
			continue
		}
		plan.Add(models.Action{
			Kind:    models.ActionRename,
			Target:  r.Path,
			NewPath: r.Path + suffix,
			Reason:  ReasonZeroFilled,
			Size:    r.Size,
		})
	}
	report.Plan = plan
	report.Stats.Renames = len(plan.Actions)

	e.logger.Info(ctx, "marking planned", logging.Fields{
		"directory":   col.Root,
		"zero_filled": res.ZeroFilled,
		"renames":     len(plan.Actions),
	})

	return e.apply(ctx, report, backends, nil, false)
}
