// Package match pairs damaged files with their probable original names using
// size tables harvested from collections that kept their file names.
package match

import (
	"context"
	"path"
	"path/filepath"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/sdejongh/salvage/pkg/index"
	"github.com/sdejongh/salvage/pkg/logging"
	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/scan"
	"github.com/sdejongh/salvage/pkg/sizetable"
)

// Kind is the outcome class of a decision
type Kind string

const (
	// KindAuto has exactly one action to take
	KindAuto Kind = "auto"
	// KindAmbiguous has several equally plausible answers
	KindAmbiguous Kind = "ambiguous"
	// KindNone has no candidate at all
	KindNone Kind = "none"
)

// Reasons attached to matcher actions
const (
	ReasonSingleCandidate = "single size candidate"
	ReasonGoodCopy        = "single size candidate with good copy"
	ReasonAmbiguous       = "ambiguous match"
	ReasonConflictingCopy = "good copies disagree"
	ReasonNoCandidate     = "no size candidate"
	ReasonAlreadyNamed    = "already carries candidate name"
	ReasonTargetClaimed   = "target name already claimed"
	ReasonTargetExists    = "good copy already at target"
)

// CopyFinder locates good copies by base name and size, and the owner of a
// digest; *index.HashIndex implements it
type CopyFinder interface {
	GoodCopies(name string, size int64) []index.Entry
	Owner(d string) (index.Entry, bool)
}

// Options tunes candidate filtering
type Options struct {
	DamagedSuffix        string
	RequireSameExtension bool
	Logger               logging.Logger

	// deleted holds the paths removed earlier in the same plan
	deleted mapset.Set[string]
}

func (o Options) suffix() string {
	if o.DamagedSuffix == "" {
		return scan.DefaultDamagedSuffix
	}
	return o.DamagedSuffix
}

// Decision is the result of matching one damaged record
type Decision struct {
	Kind Kind

	// Candidates are the names that survived filtering, ranked
	Candidates []sizetable.Candidate

	// Action is the proposed action: rename or replace for auto decisions,
	// skip otherwise
	Action models.Action
}

// Names returns the candidate names in rank order
func (d Decision) Names() []string {
	names := make([]string, 0, len(d.Candidates))
	for _, c := range d.Candidates {
		names = append(names, c.Name)
	}
	return names
}

// Decide matches a damaged record against the candidates of its size. It
// reads nothing and changes nothing.
func Decide(rec *models.FileRecord, candidates []sizetable.Candidate, copies CopyFinder, opts Options) Decision {
	cands := Filter(rec, candidates, opts)
	skip := models.Action{
		Kind:   models.ActionSkip,
		Target: rec.Path,
		Size:   rec.Size,
		Digest: rec.Digest(),
	}

	switch len(cands) {
	case 0:
		skip.Reason = ReasonNoCandidate
		return Decision{Kind: KindNone, Action: skip}
	case 1:
	default:
		skip.Reason = ReasonAmbiguous
		d := Decision{Kind: KindAmbiguous, Candidates: cands}
		skip.Candidates = d.Names()
		d.Action = skip
		return d
	}

	cand := cands[0]
	newPath := filepath.Join(filepath.Dir(rec.Path), cand.Name)

	var good []index.Entry
	if copies != nil {
		for _, e := range copies.GoodCopies(cand.Name, rec.Size) {
			if e.Path != rec.Path {
				good = append(good, e)
			}
		}
	}

	digests := mapset.NewThreadUnsafeSet[string]()
	for _, e := range good {
		digests.Add(e.Record.Digest())
	}

	switch {
	case digests.Cardinality() > 1:
		skip.Reason = ReasonConflictingCopy
		for _, e := range good {
			skip.Candidates = append(skip.Candidates, e.Path)
		}
		return Decision{Kind: KindAmbiguous, Candidates: cands, Action: skip}

	case len(good) > 0 && good[0].Path == newPath:
		skip.Reason = ReasonTargetExists
		skip.NewPath = newPath
		skip.Reference = good[0].Path
		return Decision{Kind: KindNone, Candidates: cands, Action: skip}

	case len(good) > 0:
		ref := reference(good, copies, opts.deleted)
		return Decision{Kind: KindAuto, Candidates: cands, Action: models.Action{
			Kind:      models.ActionReplace,
			Target:    rec.Path,
			NewPath:   newPath,
			Reference: ref.Path,
			Reason:    ReasonGoodCopy,
			Digest:    good[0].Record.Digest(),
			Size:      rec.Size,
		}}

	case newPath == rec.Path:
		skip.Reason = ReasonAlreadyNamed
		return Decision{Kind: KindNone, Candidates: cands, Action: skip}
	}

	return Decision{Kind: KindAuto, Candidates: cands, Action: models.Action{
		Kind:    models.ActionRename,
		Target:  rec.Path,
		NewPath: newPath,
		Reason:  ReasonSingleCandidate,
		Digest:  rec.Digest(),
		Size:    rec.Size,
	}}
}

// reference picks the good copy a replace reads from: the first one that
// survives the plan, else the owner of their shared digest, which is never
// deleted
func reference(good []index.Entry, copies CopyFinder, deleted mapset.Set[string]) index.Entry {
	for _, e := range good {
		if deleted == nil || !deleted.Contains(e.Path) {
			return e
		}
	}
	if owner, ok := copies.Owner(good[0].Record.Digest()); ok {
		return owner
	}
	return good[0]
}

// Filter drops candidates that cannot name rec: names carrying the damaged
// suffix, origins that are rec itself, and (optionally) names whose
// extension differs from rec's original extension. The result is ranked by
// name; every candidate has the record's size so the size distance is 0.
func Filter(rec *models.FileRecord, candidates []sizetable.Candidate, opts Options) []sizetable.Candidate {
	suffix := opts.suffix()
	original := scan.OriginalName(path.Base(rec.RelPath), suffix)
	selfRels := []string{rec.RelPath, strings.TrimSuffix(rec.RelPath, suffix)}
	root := filepath.Clean(rec.Collection.Root)

	var out []sizetable.Candidate
	for _, c := range candidates {
		if strings.HasSuffix(c.Name, suffix) {
			continue
		}
		if opts.RequireSameExtension && !EquivalentExtensions(original, c.Name) {
			continue
		}

		var origins []sizetable.Origin
		for _, o := range c.Origins {
			if filepath.Clean(o.Root) == root && (o.RelPath == selfRels[0] || o.RelPath == selfRels[1]) {
				continue
			}
			origins = append(origins, o)
		}
		if len(origins) == 0 {
			continue
		}
		c.Origins = origins
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Result is the output of the planner
type Result struct {
	Actions   []models.Action
	Ambiguous []*models.AmbiguousMatch
	Auto      int
	None      int
}

// Plan decides every damaged record that is not in skip (the targets the
// dedup engine already deletes). Records are visited in the given order.
// Two records may not claim the same new path; the later one is skipped.
func Plan(ctx context.Context, records []*models.FileRecord, tables *sizetable.Set, copies CopyFinder, skip mapset.Set[string], opts Options) *Result {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	log := logger.WithFields(logging.Fields{"component": "match"})

	result := &Result{}
	claimed := mapset.NewThreadUnsafeSet[string]()
	opts.deleted = skip

	for _, rec := range records {
		if !rec.IsDamaged() {
			continue
		}
		if skip != nil && skip.Contains(rec.Path) {
			continue
		}

		d := Decide(rec, tables.Candidates(rec.Size), copies, opts)
		a := d.Action

		switch d.Kind {
		case KindAuto:
			if !claimed.Add(a.NewPath) {
				a = models.Action{
					Kind:    models.ActionSkip,
					Target:  rec.Path,
					NewPath: a.NewPath,
					Reason:  ReasonTargetClaimed,
					Digest:  a.Digest,
					Size:    rec.Size,
				}
				result.None++
				break
			}
			result.Auto++
			log.Debug(ctx, "matched", logging.Fields{"path": rec.Path, "new_path": a.NewPath, "kind": string(a.Kind)})
		case KindAmbiguous:
			result.Ambiguous = append(result.Ambiguous, &models.AmbiguousMatch{
				Path:       rec.Path,
				Size:       rec.Size,
				Candidates: a.Candidates,
			})
		default:
			result.None++
		}
		result.Actions = append(result.Actions, a)
	}

	log.Info(ctx, "matching planned", logging.Fields{
		"auto":      result.Auto,
		"ambiguous": len(result.Ambiguous),
		"none":      result.None,
	})
	return result
}
