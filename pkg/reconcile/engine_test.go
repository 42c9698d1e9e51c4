package reconcile

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sdejongh/salvage/pkg/digest"
	"github.com/sdejongh/salvage/pkg/manifest"
	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/output"
)

// testTree is a set of sibling collection roots under one temp directory
type testTree struct {
	t    *testing.T
	base string
}

func newTestTree(t *testing.T) *testTree {
	t.Helper()
	return &testTree{t: t, base: t.TempDir()}
}

func (tr *testTree) root(name string) string {
	return filepath.Join(tr.base, name)
}

func (tr *testTree) write(rel string, content []byte) string {
	tr.t.Helper()
	p := filepath.Join(tr.base, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		tr.t.Fatal(err)
	}
	if err := os.WriteFile(p, content, 0644); err != nil {
		tr.t.Fatal(err)
	}
	return p
}

func (tr *testTree) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(tr.base, filepath.FromSlash(rel)))
	return err == nil
}

func (tr *testTree) collections(names ...string) []models.Collection {
	cols := make([]models.Collection, len(names))
	for i, n := range names {
		os.MkdirAll(tr.root(n), 0755)
		cols[i] = models.Collection{Root: tr.root(n), Priority: i + 1}
	}
	return cols
}

func (tr *testTree) run(opts Options) (*models.RunReport, string) {
	tr.t.Helper()
	var buf bytes.Buffer
	f := output.NewHumanFormatter()
	f.Start(&buf, "test", opts.DryRun)

	report, err := NewEngine(opts, f, nil).Run(context.Background())
	if err != nil {
		tr.t.Fatalf("Run() error = %v", err)
	}
	return report, buf.String()
}

func actionsOf(plan *models.MergePlan, kind models.ActionKind) []models.Action {
	var out []models.Action
	for _, a := range plan.Actions {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func TestRunScenarioABC(t *testing.T) {
	for _, dryRun := range []bool{true, false} {
		name := "Live"
		if dryRun {
			name = "DryRun"
		}
		t.Run(name, func(t *testing.T) {
			tr := newTestTree(t)
			tr.write("A/x.jpg", []byte("same bytes"))
			tr.write("B/y.jpg", []byte("same bytes"))
			tr.write("C/z.jpg", []byte("other bytes"))

			report, out := tr.run(Options{
				Mode:        ModeReconcile,
				Collections: tr.collections("A", "B", "C"),
				DryRun:      dryRun,
			})

			deletes := actionsOf(report.Plan, models.ActionDelete)
			if len(deletes) != 1 {
				t.Fatalf("got %d deletes, want 1: %+v", len(deletes), report.Plan.Actions)
			}
			if deletes[0].Target != filepath.Join(tr.root("B"), "y.jpg") {
				t.Errorf("Target = %s", deletes[0].Target)
			}
			if deletes[0].Reference != filepath.Join(tr.root("A"), "x.jpg") {
				t.Errorf("Reference = %s", deletes[0].Reference)
			}

			if !tr.exists("A/x.jpg") || !tr.exists("C/z.jpg") {
				t.Error("A/x.jpg and C/z.jpg must be kept")
			}
			if tr.exists("B/y.jpg") == !dryRun {
				t.Errorf("B/y.jpg exists = %v with dryRun = %v", tr.exists("B/y.jpg"), dryRun)
			}

			if dryRun {
				if !strings.Contains(out, "[DRY RUN] delete") {
					t.Errorf("output = %q", out)
				}
				if report.Stats.ActionsApplied != 0 {
					t.Errorf("ActionsApplied = %d in dry run", report.Stats.ActionsApplied)
				}
			} else if report.Stats.ActionsApplied != 1 || report.Stats.BytesReclaimed != 10 {
				t.Errorf("stats = %+v", report.Stats)
			}
			if report.Status != models.StatusSuccess {
				t.Errorf("Status = %s", report.Status)
			}
			if report.Stats.FilesScanned != 3 || report.Stats.UniqueDigests != 2 {
				t.Errorf("stats = %+v", report.Stats)
			}
		})
	}
}

func TestRunEmptyFiles(t *testing.T) {
	tr := newTestTree(t)
	tr.write("A/empty.txt", nil)
	tr.write("B/other-empty.txt", nil)

	report, _ := tr.run(Options{Mode: ModeDedup, Collections: tr.collections("A", "B"), DryRun: true})

	deletes := actionsOf(report.Plan, models.ActionDelete)
	if len(deletes) != 1 || filepath.Base(deletes[0].Target) != "other-empty.txt" {
		t.Errorf("deletes = %+v", deletes)
	}
}

func TestRunMatchReplace(t *testing.T) {
	tr := newTestTree(t)
	tr.write("A/report.doc", []byte("0123456789"))
	tr.write("C/f1", make([]byte, 10))
	cols := tr.collections("A", "C")
	cols[0].Names = true

	report, _ := tr.run(Options{
		Mode:        ModeReconcile,
		Collections: cols,
		DryRun:      false,
	})

	replaces := actionsOf(report.Plan, models.ActionReplace)
	if len(replaces) != 1 {
		t.Fatalf("got %d replaces, want 1: %+v", len(replaces), report.Plan.Actions)
	}
	if replaces[0].Reference != filepath.Join(tr.root("A"), "report.doc") {
		t.Errorf("Reference = %s", replaces[0].Reference)
	}
	if tr.exists("C/f1") {
		t.Error("damaged file should be removed after replace")
	}
	data, err := os.ReadFile(filepath.Join(tr.root("C"), "report.doc"))
	if err != nil || string(data) != "0123456789" {
		t.Errorf("C/report.doc = %q, %v", data, err)
	}
	if report.Stats.FilesZeroFilled != 1 || report.Stats.Replaces != 1 {
		t.Errorf("stats = %+v", report.Stats)
	}
}

func TestRunMatchRenameFromSizeTable(t *testing.T) {
	tr := newTestTree(t)
	tr.write("tables/filesizes.txt", []byte("10 docs/report.doc\n"))
	tr.write("C/f1", make([]byte, 10))

	report, _ := tr.run(Options{
		Mode:        ModeMatch,
		Collections: tr.collections("C"),
		SizeTables:  []string{tr.root("tables")},
		DryRun:      false,
	})

	renames := actionsOf(report.Plan, models.ActionRename)
	if len(renames) != 1 {
		t.Fatalf("got %d renames, want 1: %+v", len(renames), report.Plan.Actions)
	}
	if !tr.exists("C/report.doc") || tr.exists("C/f1") {
		t.Error("C/f1 should have been renamed to C/report.doc")
	}
}

func TestRunAmbiguousMatch(t *testing.T) {
	tr := newTestTree(t)
	tr.write("A/a.doc", []byte("aaaaaaaaaa"))
	tr.write("B/b.doc", []byte("bbbbbbbbbb"))
	tr.write("C/f1", make([]byte, 10))
	cols := tr.collections("A", "B", "C")
	cols[0].Names = true
	cols[1].Names = true

	report, out := tr.run(Options{
		Mode:        ModeReconcile,
		Collections: cols,
		DryRun:      false,
	})

	if report.Stats.Renames != 0 || report.Stats.Replaces != 0 {
		t.Errorf("ambiguous match must not produce actions: %+v", report.Stats)
	}
	if report.Stats.Ambiguous != 1 {
		t.Errorf("Ambiguous = %d, want 1", report.Stats.Ambiguous)
	}
	if report.ErrorCount(models.KindAmbiguousMatch) != 1 {
		t.Errorf("errors = %+v", report.Errors)
	}
	if !strings.Contains(out, "a.doc, b.doc") {
		t.Errorf("both candidates should be listed: %q", out)
	}
	if !tr.exists("C/f1") {
		t.Error("C/f1 must be left untouched")
	}
	if report.Status != models.StatusSuccess {
		t.Errorf("Status = %s", report.Status)
	}
}

func TestRunNamelessCollectionsOfferNoCandidates(t *testing.T) {
	tr := newTestTree(t)
	tr.write("A/f0001.doc", []byte("0123456789"))
	tr.write("C/f0002.doc", make([]byte, 10))

	report, _ := tr.run(Options{
		Mode:        ModeMatch,
		Collections: tr.collections("A", "C"),
		DryRun:      false,
	})

	if report.Stats.Renames != 0 || report.Stats.Replaces != 0 || report.Stats.Ambiguous != 0 {
		t.Errorf("recovered names must not be offered: %+v", report.Plan.Actions)
	}
	if report.Stats.Unresolved != 1 {
		t.Errorf("Unresolved = %d, want 1", report.Stats.Unresolved)
	}
	if !tr.exists("C/f0002.doc") {
		t.Error("C/f0002.doc must be left untouched")
	}
}

func TestRunReplaceReadsSurvivingCopy(t *testing.T) {
	tr := newTestTree(t)
	tr.write("A/f0001.doc", []byte("0123456789"))
	tr.write("B/report.doc", []byte("0123456789"))
	tr.write("C/f0002.doc", make([]byte, 10))

	report, _ := tr.run(Options{
		Mode:        ModeReconcile,
		Collections: tr.collections("A", "B", "C"),
		SizeTables:  []string{tr.root("B")},
		DryRun:      false,
	})

	deletes := actionsOf(report.Plan, models.ActionDelete)
	if len(deletes) != 1 || deletes[0].Target != filepath.Join(tr.root("B"), "report.doc") {
		t.Fatalf("deletes = %+v", deletes)
	}
	replaces := actionsOf(report.Plan, models.ActionReplace)
	if len(replaces) != 1 {
		t.Fatalf("got %d replaces, want 1: %+v", len(replaces), report.Plan.Actions)
	}
	if replaces[0].Reference != filepath.Join(tr.root("A"), "f0001.doc") {
		t.Errorf("Reference = %s, want the kept copy in A", replaces[0].Reference)
	}
	if report.Status != models.StatusSuccess || report.Stats.ActionsFailed != 0 {
		t.Errorf("Status = %s, stats = %+v, errors = %+v", report.Status, report.Stats, report.Errors)
	}
	data, err := os.ReadFile(filepath.Join(tr.root("C"), "report.doc"))
	if err != nil || string(data) != "0123456789" {
		t.Errorf("C/report.doc = %q, %v", data, err)
	}
	if tr.exists("B/report.doc") || tr.exists("C/f0002.doc") {
		t.Error("duplicate and damaged file should both be gone")
	}
}

func TestRunDryRunMatchesLivePlan(t *testing.T) {
	tr := newTestTree(t)
	tr.write("A/x.jpg", []byte("same bytes"))
	tr.write("B/y.jpg", []byte("same bytes"))
	tr.write("B/sub/dup.jpg", []byte("same bytes"))
	tr.write("A/report.doc", []byte("0123456789abcdef"))
	tr.write("C/f1", make([]byte, 16))
	cols := tr.collections("A", "B", "C")
	cols[0].Names = true

	dry, _ := tr.run(Options{Collections: cols, DryRun: true})
	for _, a := range dry.Plan.Actions {
		if a.Mutates() && !tr.exists(strings.TrimPrefix(a.Target, tr.base+string(filepath.Separator))) {
			t.Fatalf("dry run mutated %s", a.Target)
		}
	}

	live, _ := tr.run(Options{Collections: cols, DryRun: false})
	if len(dry.Plan.Actions) != len(live.Plan.Actions) {
		t.Fatalf("dry run planned %d actions, live %d", len(dry.Plan.Actions), len(live.Plan.Actions))
	}
	for i := range dry.Plan.Actions {
		d, l := dry.Plan.Actions[i], live.Plan.Actions[i]
		if d.Kind != l.Kind || d.Target != l.Target || d.NewPath != l.NewPath || d.Reference != l.Reference {
			t.Errorf("action %d: dry %+v, live %+v", i, d, l)
		}
	}
	if live.Stats.ActionsApplied != 3 {
		t.Errorf("ActionsApplied = %d, want 3", live.Stats.ActionsApplied)
	}
}

func TestRunConfigurationErrors(t *testing.T) {
	tr := newTestTree(t)
	tr.write("A/x", []byte("x"))
	tr.write("file", []byte("x"))

	tests := []struct {
		name string
		cols []models.Collection
		opts Options
	}{
		{"NoCollections", nil, Options{}},
		{"MissingPriority", []models.Collection{{Root: tr.root("A")}}, Options{}},
		{"MissingRoot", []models.Collection{{Root: tr.root("nope"), Priority: 1}}, Options{}},
		{"NotADirectory", []models.Collection{{Root: tr.root("file"), Priority: 1}}, Options{}},
		{"SameRootTwice", []models.Collection{
			{Root: tr.root("A"), Priority: 1},
			{Root: tr.root("A") + "/.", Priority: 2},
		}, Options{}},
		{"BadExclude", []models.Collection{{Root: tr.root("A"), Priority: 1}}, Options{Exclude: []string{"[oops"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			opts.Collections = tt.cols
			opts.DryRun = true

			report, err := NewEngine(opts, nil, nil).Run(context.Background())
			var ce *models.ConfigurationError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *ConfigurationError", err)
			}
			if report.Status != models.StatusFailed || report.Status.ExitCode() != 2 {
				t.Errorf("Status = %s", report.Status)
			}
		})
	}
}

func TestRunUsesManifest(t *testing.T) {
	tr := newTestTree(t)
	tr.write("A/x.jpg", []byte("same bytes"))
	tr.write("B/y.jpg", []byte("same bytes"))

	// a manifest claiming different content keeps B/y.jpg out of the plan
	m := manifest.New(tr.root("B"))
	m.Set("y.jpg", strings.Repeat("ab", 32))
	var buf bytes.Buffer
	m.Write(&buf)
	tr.write("B/hashes.txt", buf.Bytes())

	report, _ := tr.run(Options{Mode: ModeDedup, Collections: tr.collections("A", "B"), DryRun: true, UseManifests: true})
	if report.Stats.ManifestDigests != 1 || report.Stats.FilesHashed != 1 {
		t.Errorf("stats = %+v", report.Stats)
	}
	if report.Stats.Duplicates != 0 {
		t.Errorf("Duplicates = %d, want 0", report.Stats.Duplicates)
	}

	t.Run("Disabled", func(t *testing.T) {
		report, _ := tr.run(Options{Mode: ModeDedup, Collections: tr.collections("A", "B"), DryRun: true})
		if report.Stats.Duplicates != 1 {
			t.Errorf("Duplicates = %d, want 1", report.Stats.Duplicates)
		}
	})
}

func TestRunStaleManifestKeepsUniqueContent(t *testing.T) {
	tr := newTestTree(t)
	tr.write("A/x.jpg", []byte("original content A"))
	tr.write("B/y.jpg", []byte("different unique content B"))

	// the manifest still lists the digest of A's content for y.jpg
	stale, err := digest.NewHasher(0).HashReader(context.Background(), strings.NewReader("original content A"))
	if err != nil {
		t.Fatal(err)
	}
	m := manifest.New(tr.root("B"))
	m.Set("y.jpg", stale)
	var buf bytes.Buffer
	m.Write(&buf)
	tr.write("B/hashes.txt", buf.Bytes())

	report, _ := tr.run(Options{Mode: ModeDedup, Collections: tr.collections("A", "B"), DryRun: false, UseManifests: true})

	deletes := actionsOf(report.Plan, models.ActionDelete)
	if len(deletes) != 1 || !deletes[0].Verify {
		t.Fatalf("deletes = %+v, want one verified delete", deletes)
	}
	if !tr.exists("B/y.jpg") {
		t.Fatal("B/y.jpg holds unique content and must be kept")
	}
	if report.Stats.ActionsApplied != 0 || report.Stats.ActionsFailed != 1 {
		t.Errorf("stats = %+v", report.Stats)
	}
	if report.Status != models.StatusPartial {
		t.Errorf("Status = %s", report.Status)
	}
}

func TestApplyPlan(t *testing.T) {
	tr := newTestTree(t)
	tr.write("A/x.jpg", []byte("same bytes"))
	tr.write("B/y.jpg", []byte("same bytes"))
	tr.write("B/z.jpg", []byte("same bytes"))
	cols := tr.collections("A", "B")

	dry, _ := tr.run(Options{Mode: ModeDedup, Collections: cols, DryRun: true})
	if dry.Stats.Duplicates != 2 {
		t.Fatalf("Duplicates = %d, want 2", dry.Stats.Duplicates)
	}

	// z.jpg changed after planning: re-verification must refuse to delete it
	tr.write("B/z.jpg", []byte("SAME BYTES"))

	report, err := NewEngine(Options{Command: "apply"}, nil, nil).ApplyPlan(context.Background(), dry.Plan)
	if err != nil {
		t.Fatalf("ApplyPlan() error = %v", err)
	}
	if report.Stats.ActionsApplied != 1 || report.Stats.ActionsFailed != 1 {
		t.Errorf("stats = %+v", report.Stats)
	}
	if report.Status != models.StatusPartial || report.Status.ExitCode() != 1 {
		t.Errorf("Status = %s", report.Status)
	}
	if tr.exists("B/y.jpg") || !tr.exists("B/z.jpg") {
		t.Error("only the unchanged duplicate should be deleted")
	}

	t.Run("AppliedActionsLeftOut", func(t *testing.T) {
		again, err := NewEngine(Options{}, nil, nil).ApplyPlan(context.Background(), report.Plan)
		if err != nil {
			t.Fatal(err)
		}
		if len(again.Plan.Actions) != 1 {
			t.Errorf("got %d actions, want 1", len(again.Plan.Actions))
		}
	})

	t.Run("NoCollections", func(t *testing.T) {
		_, err := NewEngine(Options{}, nil, nil).ApplyPlan(context.Background(), models.NewMergePlan("x", nil, false))
		var ce *models.ConfigurationError
		if !errors.As(err, &ce) {
			t.Errorf("error = %v, want *ConfigurationError", err)
		}
	})
}
