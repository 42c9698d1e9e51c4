package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// ============== Collection Tests ==============

func TestOrderCollections(t *testing.T) {
	t.Run("SortsByPriority", func(t *testing.T) {
		cols := []Collection{
			{Root: "/data/c", Priority: 3},
			{Root: "/data/a", Priority: 1},
			{Root: "/data/b", Priority: 2},
		}

		ordered, err := OrderCollections(cols)
		if err != nil {
			t.Fatalf("OrderCollections() error = %v", err)
		}

		want := []string{"/data/a", "/data/b", "/data/c"}
		for i, c := range ordered {
			if c.Root != want[i] {
				t.Errorf("ordered[%d].Root = %s, want %s", i, c.Root, want[i])
			}
			if c.Rank != i {
				t.Errorf("ordered[%d].Rank = %d, want %d", i, c.Rank, i)
			}
		}
	})

	t.Run("TiesBrokenByInputOrder", func(t *testing.T) {
		cols := []Collection{
			{Root: "/data/second", Priority: 1},
			{Root: "/data/first", Priority: 1},
		}

		ordered, err := OrderCollections(cols)
		if err != nil {
			t.Fatalf("OrderCollections() error = %v", err)
		}
		if ordered[0].Root != "/data/second" {
			t.Errorf("ordered[0].Root = %s, want /data/second", ordered[0].Root)
		}
	})

	tests := []struct {
		name string
		cols []Collection
	}{
		{"Empty", nil},
		{"EmptyPath", []Collection{{Root: "", Priority: 1}}},
		{"MissingPriority", []Collection{{Root: "/data/a"}}},
		{"Duplicate", []Collection{{Root: "/data/a", Priority: 1}, {Root: "/data/a/", Priority: 2}}},
		{"Nested", []Collection{{Root: "/data/a", Priority: 1}, {Root: "/data/a/sub", Priority: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OrderCollections(tt.cols)
			if err == nil {
				t.Fatal("OrderCollections() should fail")
			}
			var ce *ConfigurationError
			if !errors.As(err, &ce) {
				t.Errorf("error type = %T, want *ConfigurationError", err)
			}
		})
	}

	t.Run("SiblingPrefixIsNotNested", func(t *testing.T) {
		cols := []Collection{
			{Root: "/data/a", Priority: 1},
			{Root: "/data/ab", Priority: 2},
		}
		if _, err := OrderCollections(cols); err != nil {
			t.Errorf("OrderCollections() error = %v, want nil", err)
		}
	})
}

func TestCollectionsFromPaths(t *testing.T) {
	cols := CollectionsFromPaths([]string{"/a", "/b"})
	if len(cols) != 2 {
		t.Fatalf("len = %d, want 2", len(cols))
	}
	if cols[0].Priority != 1 || cols[1].Priority != 2 {
		t.Errorf("priorities = %d,%d, want 1,2", cols[0].Priority, cols[1].Priority)
	}
	if cols[1].Name() != "b" {
		t.Errorf("Name() = %s, want b", cols[1].Name())
	}
}

// ============== FileRecord Tests ==============

func TestFileRecordDamage(t *testing.T) {
	col := Collection{Root: filepath.FromSlash("/data/a"), Priority: 1}

	t.Run("NewRecordIsNormal", func(t *testing.T) {
		r := NewFileRecord(col, "/data/a/x.jpg", "x.jpg", 10)
		if r.IsDamaged() {
			t.Error("new record should not be damaged")
		}
	})

	t.Run("ZeroFilledWins", func(t *testing.T) {
		r := NewFileRecord(col, "/data/a/x.jpg.damaged", "x.jpg.damaged", 10)
		r.MarkDamaged(DamageMarker)
		if r.Status != StatusDamaged {
			t.Errorf("Status = %s, want damaged", r.Status)
		}
		r.MarkDamaged(DamageZeroFilled)
		if r.Status != StatusZeroFilled {
			t.Errorf("Status = %s, want zero_filled", r.Status)
		}
		if r.Damage.String() != "zero_filled,marker" {
			t.Errorf("Damage = %s, want zero_filled,marker", r.Damage.String())
		}
	})
}

func TestFileRecordDigestOnce(t *testing.T) {
	r := NewFileRecord(Collection{Root: "/a", Priority: 1}, "/a/f", "f", 3)
	calls := 0
	compute := func(path string) (string, error) {
		calls++
		return "abc", nil
	}

	for i := 0; i < 3; i++ {
		d, err := r.ResolveDigest(compute)
		if err != nil || d != "abc" {
			t.Fatalf("ResolveDigest() = %q, %v", d, err)
		}
	}
	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}

	t.Run("PresetSkipsCompute", func(t *testing.T) {
		r := NewFileRecord(Collection{Root: "/a", Priority: 1}, "/a/g", "g", 3)
		r.PresetDigest("fromManifest")
		d, _ := r.ResolveDigest(func(string) (string, error) {
			t.Error("compute should not be called")
			return "", nil
		})
		if d != "fromManifest" {
			t.Errorf("digest = %s, want fromManifest", d)
		}
	})

	t.Run("ErrorIsCached", func(t *testing.T) {
		r := NewFileRecord(Collection{Root: "/a", Priority: 1}, "/a/h", "h", 3)
		_, err := r.ResolveDigest(func(string) (string, error) {
			return "", errors.New("boom")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if r.Digest() != "" {
			t.Errorf("Digest() = %q, want empty", r.Digest())
		}
		if r.DigestErr() == nil {
			t.Error("DigestErr() should be set")
		}
	})
}

// ============== MergePlan Tests ==============

func TestMergePlan(t *testing.T) {
	plan := NewMergePlan("id-1", nil, true)
	plan.Add(
		Action{Kind: ActionDelete, Target: "/b/y.jpg"},
		Action{Kind: ActionRename, Target: "/c/f1"},
		Action{Kind: ActionSkip, Target: "/c/f2", Outcome: OutcomeSkipped},
	)

	if plan.Count(ActionDelete) != 1 {
		t.Errorf("Count(delete) = %d, want 1", plan.Count(ActionDelete))
	}
	if plan.Actions[0].Outcome != OutcomePlanned {
		t.Errorf("Outcome = %s, want planned", plan.Actions[0].Outcome)
	}
	if !plan.Targets(ActionDelete)["/b/y.jpg"] {
		t.Error("Targets(delete) should contain /b/y.jpg")
	}
	if plan.Actions[2].Mutates() {
		t.Error("skip should not mutate")
	}

	plan.Actions[0].Outcome = OutcomeApplied
	plan.Actions[1].Outcome = OutcomeFailed
	applied, failed, skipped := plan.Tally()
	if applied != 1 || failed != 1 || skipped != 1 {
		t.Errorf("Tally() = %d,%d,%d, want 1,1,1", applied, failed, skipped)
	}
}

// ============== RunReport Tests ==============

func TestRunStatusExitCode(t *testing.T) {
	tests := []struct {
		status   RunStatus
		expected int
	}{
		{StatusSuccess, 0},
		{StatusPartial, 1},
		{StatusFailed, 2},
		{RunStatus("weird"), 2},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.ExitCode(); got != tt.expected {
				t.Errorf("ExitCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestRunReportErrors(t *testing.T) {
	report := NewRunReport("op", "reconcile", true)

	report.AddError(&ReadFailure{Path: "/a/x", Err: errors.New("io")})
	report.AddError(fmt.Errorf("wrapped: %w", &AmbiguousMatch{Path: "/c/f", Size: 4, Candidates: []string{"a", "b"}}))
	report.AddError(nil)

	if len(report.Errors) != 2 {
		t.Fatalf("len(Errors) = %d, want 2", len(report.Errors))
	}
	if report.Errors[0].Kind != KindReadFailure || report.Errors[0].FilePath != "/a/x" {
		t.Errorf("Errors[0] = %+v", report.Errors[0])
	}
	if report.Errors[1].Kind != KindAmbiguousMatch || report.Errors[1].FilePath != "/c/f" {
		t.Errorf("Errors[1] = %+v", report.Errors[1])
	}

	report.Finalize(nil)
	if report.Status != StatusSuccess {
		t.Errorf("Status = %s, want success", report.Status)
	}

	report.AddError(&MutationFailure{Action: ActionDelete, Path: "/b/y", Err: errors.New("perm")})
	report.Finalize(nil)
	if report.Status != StatusPartial {
		t.Errorf("Status = %s, want partial", report.Status)
	}

	report.Finalize(&ConfigurationError{Field: "collections", Message: "bad"})
	if report.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", report.Status)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"read", &ReadFailure{Path: "p"}, KindReadFailure},
		{"ambiguous", &AmbiguousMatch{Path: "p"}, KindAmbiguousMatch},
		{"mutation", &MutationFailure{Path: "p"}, KindMutationFailure},
		{"config", &ConfigurationError{Field: "f"}, KindConfiguration},
		{"other", errors.New("x"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.kind {
				t.Errorf("ClassifyError() = %s, want %s", got, tt.kind)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	err := &ConfigurationError{Field: "collections", Message: "missing priority for /x"}
	if err.Error() != "collections: missing priority for /x" {
		t.Errorf("Error() = %s", err.Error())
	}

	inner := errors.New("denied")
	mf := &MutationFailure{Action: ActionRename, Path: "/c/f", Err: inner}
	if !errors.Is(mf, inner) {
		t.Error("MutationFailure should unwrap to its cause")
	}
}
