// Package apply routes every mutating plan action. In dry-run mode actions
// are only recorded; otherwise they are carried out through a storage
// backend and their outcome is recorded.
package apply

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdejongh/salvage/pkg/digest"
	"github.com/sdejongh/salvage/pkg/logging"
	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/storage"
	"github.com/sdejongh/salvage/pkg/verify"
)

var (
	// ErrTargetMissing is recorded when the target vanished since planning
	ErrTargetMissing = errors.New("target no longer exists")
	// ErrReferenceMissing is recorded when the kept copy vanished since planning
	ErrReferenceMissing = errors.New("reference no longer exists")
	// ErrVerification is recorded when a delete target no longer matches its reference
	ErrVerification = errors.New("verification failed")
	// ErrReferenceChanged is recorded when a good copy no longer holds the
	// content it had when the plan was made
	ErrReferenceChanged = errors.New("reference content changed")
)

// Options configures a Reporter
type Options struct {
	DryRun bool

	// VerifyDeletes byte-compares every delete target with its reference.
	// Deletes flagged Verify are compared either way.
	VerifyDeletes bool

	// Verifier does the comparison; nil uses one reading through the backend
	Verifier *verify.Verifier

	// Hasher re-hashes replace references; nil uses one reading through the
	// backend
	Hasher *digest.Hasher

	Logger logging.Logger
}

// Result summarizes one pass over a plan
type Result struct {
	Applied        int
	Failed         int
	Skipped        int
	Planned        int
	BytesReclaimed int64
	Failures       []*models.MutationFailure
}

// Reporter applies plan actions in order. A failing action never stops the
// pass; it is recorded and the next action runs.
type Reporter struct {
	backend   storage.Backend
	dryRun    bool
	verifyAll bool
	verifier  *verify.Verifier
	hasher    *digest.Hasher
	logger    logging.Logger

	// OnAction is called after each action with its outcome filled in
	OnAction func(action models.Action)
}

// NewReporter creates a reporter mutating through backend
func NewReporter(backend storage.Backend, opts Options) *Reporter {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = verify.NewVerifier(backend)
	}
	hasher := opts.Hasher
	if hasher == nil {
		hasher = digest.NewHasher(0)
		hasher.SetOpener(backend)
	}
	return &Reporter{
		backend:   backend,
		dryRun:    opts.DryRun,
		verifyAll: opts.VerifyDeletes,
		verifier:  verifier,
		hasher:    hasher,
		logger:    logger.WithFields(logging.Fields{"component": "apply", "dry_run": opts.DryRun}),
	}
}

// DryRun reports whether the reporter only records actions
func (r *Reporter) DryRun() bool {
	return r.dryRun
}

// Apply processes every action of the plan in order and fills in outcomes.
// It returns ctx.Err() if cancelled; actions not reached stay planned.
func (r *Reporter) Apply(ctx context.Context, plan *models.MergePlan) (*Result, error) {
	result := &Result{}

	for i := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		a := &plan.Actions[i]
		r.handle(ctx, a, result)
		if r.OnAction != nil {
			r.OnAction(*a)
		}
	}

	r.logger.Info(ctx, "plan processed", logging.Fields{
		"applied": result.Applied,
		"failed":  result.Failed,
		"skipped": result.Skipped,
		"planned": result.Planned,
	})
	return result, nil
}

func (r *Reporter) handle(ctx context.Context, a *models.Action, result *Result) {
	a.Error = ""

	if !a.Mutates() {
		a.Outcome = models.OutcomeSkipped
		result.Skipped++
		return
	}

	if r.dryRun {
		a.Outcome = models.OutcomePlanned
		result.Planned++
		r.logger.Debug(ctx, "would "+string(a.Kind), logging.Fields{"target": a.Target, "new_path": a.NewPath})
		return
	}

	if err := r.mutate(ctx, a); err != nil {
		a.Outcome = models.OutcomeFailed
		a.Error = err.Error()
		result.Failed++
		result.Failures = append(result.Failures, &models.MutationFailure{Action: a.Kind, Path: a.Target, Err: err})
		r.logger.Error(ctx, string(a.Kind)+" failed", err, logging.Fields{"target": a.Target})
		return
	}

	a.Outcome = models.OutcomeApplied
	result.Applied++
	if a.Kind == models.ActionDelete {
		result.BytesReclaimed += a.Size
	}
	r.logger.Info(ctx, string(a.Kind)+" applied", logging.Fields{"target": a.Target, "new_path": a.NewPath})
}

func (r *Reporter) mutate(ctx context.Context, a *models.Action) error {
	if err := r.requireExists(ctx, a.Target, ErrTargetMissing); err != nil {
		return err
	}

	switch a.Kind {
	case models.ActionDelete:
		if err := r.requireExists(ctx, a.Reference, ErrReferenceMissing); err != nil {
			return err
		}
		if r.verifyAll || a.Verify {
			res, err := r.verifier.Compare(ctx, a.Target, a.Reference)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrVerification, err)
			}
			if !res.Same {
				return fmt.Errorf("%w: %s", ErrVerification, res.Reason)
			}
		}
		return r.backend.Remove(ctx, a.Target)

	case models.ActionRename:
		return r.backend.Rename(ctx, a.Target, a.NewPath)

	case models.ActionReplace:
		if err := r.requireExists(ctx, a.Reference, ErrReferenceMissing); err != nil {
			return err
		}
		if a.Digest != "" {
			d, err := r.hasher.HashFile(ctx, a.Reference)
			if err != nil {
				return err
			}
			if d != a.Digest {
				return fmt.Errorf("%w: %s", ErrReferenceChanged, a.Reference)
			}
		}
		src, err := r.backend.Read(ctx, a.Reference)
		if err != nil {
			return err
		}
		defer src.Close()
		return r.backend.Replace(ctx, a.Target, a.NewPath, src)
	}

	return fmt.Errorf("unsupported action %q", a.Kind)
}

func (r *Reporter) requireExists(ctx context.Context, path string, missing error) error {
	if path == "" {
		return missing
	}
	exists, err := r.backend.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", missing, path)
	}
	return nil
}
