// Package dedup decides which files are redundant copies of content already
// owned by a more trusted collection.
package dedup

import (
	"context"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sdejongh/salvage/pkg/index"
	"github.com/sdejongh/salvage/pkg/logging"
	"github.com/sdejongh/salvage/pkg/models"
)

// Skip reasons
const (
	ReasonDuplicate    = "duplicate of higher-priority copy"
	ReasonDeferred     = "deferred to matcher"
	ReasonBelowMinimum = "below minimum size"
)

// Options tunes the planner
type Options struct {
	// MinDeleteBytes keeps duplicates smaller than this many bytes
	MinDeleteBytes int64
	Logger         logging.Logger
}

// Plan walks every collection after the first in rank order and returns one
// action per record whose digest is owned by a strictly higher-ranked
// collection. Records that failed hashing and digest owners are never
// touched.
func Plan(ctx context.Context, collections []models.Collection, records map[string][]*models.FileRecord, x *index.HashIndex, opts Options) []models.Action {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	log := logger.WithFields(logging.Fields{"component": "dedup"})

	ordered := append([]models.Collection(nil), collections...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	var actions []models.Action
	for _, col := range ordered {
		batch := append([]*models.FileRecord(nil), records[col.Root]...)
		sort.Slice(batch, func(i, j int) bool { return batch[i].RelPath < batch[j].RelPath })

		for _, r := range batch {
			a, ok := decide(r, x, opts.MinDeleteBytes)
			if !ok {
				continue
			}
			if a.Kind == models.ActionDelete {
				log.Debug(ctx, "duplicate", logging.Fields{"path": a.Target, "reference": a.Reference})
			}
			actions = append(actions, a)
		}
	}

	log.Info(ctx, "dedup planned", logging.Fields{"actions": len(actions)})
	return actions
}

func decide(r *models.FileRecord, x *index.HashIndex, minBytes int64) (models.Action, bool) {
	if r.DigestErr() != nil {
		return models.Action{}, false
	}
	d := r.Digest()
	if d == "" {
		return models.Action{}, false
	}
	owner, ok := x.Owner(d)
	if !ok || owner.Path == r.Path || owner.Rank >= r.Rank() {
		return models.Action{}, false
	}

	a := models.Action{
		Kind:      models.ActionDelete,
		Target:    r.Path,
		Reference: owner.Path,
		Reason:    ReasonDuplicate,
		Digest:    d,
		Size:      r.Size,
		Verify:    r.DigestFromManifest() || (owner.Record != nil && owner.Record.DigestFromManifest()),
	}

	if r.IsDamaged() {
		if clean, ok := x.CleanCopy(d); !ok || clean.Rank >= r.Rank() {
			a.Kind = models.ActionSkip
			a.Reason = ReasonDeferred
			return a, true
		}
	}
	if r.Size < minBytes {
		a.Kind = models.ActionSkip
		a.Reason = ReasonBelowMinimum
		return a, true
	}
	return a, true
}

// Deleted returns the targets of the delete actions
func Deleted(actions []models.Action) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, a := range actions {
		if a.Kind == models.ActionDelete {
			set.Add(a.Target)
		}
	}
	return set
}
