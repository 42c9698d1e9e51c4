package dedup

import (
	"context"
	"testing"

	"github.com/sdejongh/salvage/pkg/digest"
	"github.com/sdejongh/salvage/pkg/index"
	"github.com/sdejongh/salvage/pkg/models"
)

type plannerFixture struct {
	collections []models.Collection
	records     map[string][]*models.FileRecord
}

func newPlannerFixture(t *testing.T, roots ...string) *plannerFixture {
	t.Helper()
	cols, err := models.OrderCollections(models.CollectionsFromPaths(roots))
	if err != nil {
		t.Fatalf("OrderCollections() error = %v", err)
	}
	return &plannerFixture{collections: cols, records: make(map[string][]*models.FileRecord)}
}

// add creates a hashed record in collection i
func (f *plannerFixture) add(i int, rel, d string, size int64, damage models.DamageReason) *models.FileRecord {
	r := f.record(i, rel, size, damage)
	r.ResolveDigest(func(string) (string, error) { return d, nil })
	return r
}

// addListed creates a record whose digest comes from a hash manifest
func (f *plannerFixture) addListed(i int, rel, d string, size int64) *models.FileRecord {
	r := f.record(i, rel, size, 0)
	r.PresetDigest(d)
	return r
}

func (f *plannerFixture) record(i int, rel string, size int64, damage models.DamageReason) *models.FileRecord {
	col := f.collections[i]
	r := models.NewFileRecord(col, col.Root+"/"+rel, rel, size)
	if damage != 0 {
		r.MarkDamaged(damage)
	}
	f.records[col.Root] = append(f.records[col.Root], r)
	return r
}

func (f *plannerFixture) index() *index.HashIndex {
	x := index.New()
	for _, col := range f.collections {
		for _, r := range f.records[col.Root] {
			x.Insert(r)
		}
	}
	return x
}

func (f *plannerFixture) plan(opts Options) []models.Action {
	return Plan(context.Background(), f.collections, f.records, f.index(), opts)
}

func TestPlanScenarioABC(t *testing.T) {
	f := newPlannerFixture(t, "/A", "/B", "/C")
	f.add(0, "x.jpg", "d1", 100, 0)
	f.add(1, "y.jpg", "d1", 100, 0)
	f.add(2, "z.jpg", "d2", 100, 0)

	actions := f.plan(Options{})
	if len(actions) != 1 {
		t.Fatalf("got %d actions, want 1: %+v", len(actions), actions)
	}
	a := actions[0]
	if a.Kind != models.ActionDelete || a.Target != "/B/y.jpg" || a.Reference != "/A/x.jpg" {
		t.Errorf("action = %+v, want delete /B/y.jpg referencing /A/x.jpg", a)
	}
	if a.Digest != "d1" || a.Size != 100 {
		t.Errorf("action digest/size = %s/%d", a.Digest, a.Size)
	}
}

func TestPlanNeverWithinOneCollection(t *testing.T) {
	f := newPlannerFixture(t, "/A", "/B")
	f.add(0, "a1.txt", "d1", 10, 0)
	f.add(0, "a2.txt", "d1", 10, 0)
	f.add(1, "b1.txt", "d2", 10, 0)
	f.add(1, "b2.txt", "d2", 10, 0)

	if actions := f.plan(Options{}); len(actions) != 0 {
		t.Errorf("same-collection duplicates must be kept, got %+v", actions)
	}
}

func TestPlanOnlyLowerRanksDeleted(t *testing.T) {
	f := newPlannerFixture(t, "/A", "/B", "/C")
	f.add(1, "b.txt", "d1", 10, 0)
	f.add(2, "c.txt", "d1", 10, 0)

	actions := f.plan(Options{})
	if len(actions) != 1 || actions[0].Target != "/C/c.txt" || actions[0].Reference != "/B/b.txt" {
		t.Errorf("actions = %+v, want only /C/c.txt deleted", actions)
	}
}

func TestPlanDamagedRecords(t *testing.T) {
	tests := []struct {
		name        string
		ownerDamage models.DamageReason
		dupDamage   models.DamageReason
		wantKind    models.ActionKind
		wantReason  string
	}{
		{"CleanOwner", 0, models.DamageMarker, models.ActionDelete, ReasonDuplicate},
		{"EmptyOwner", models.DamageEmpty, models.DamageEmpty, models.ActionDelete, ReasonDuplicate},
		{"ZeroFilledOwner", models.DamageZeroFilled, models.DamageZeroFilled, models.ActionSkip, ReasonDeferred},
		{"InvalidOwner", models.DamageInvalid, models.DamageInvalid, models.ActionSkip, ReasonDeferred},
		{"DamagedOwnerNormalDup", models.DamageMarker, 0, models.ActionDelete, ReasonDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPlannerFixture(t, "/A", "/B")
			f.add(0, "owner", "d1", 64, tt.ownerDamage)
			f.add(1, "dup", "d1", 64, tt.dupDamage)

			actions := f.plan(Options{})
			if len(actions) != 1 {
				t.Fatalf("got %d actions, want 1", len(actions))
			}
			if actions[0].Kind != tt.wantKind || actions[0].Reason != tt.wantReason {
				t.Errorf("action = %s (%s), want %s (%s)", actions[0].Kind, actions[0].Reason, tt.wantKind, tt.wantReason)
			}
		})
	}
}

func TestPlanDamagedDuplicateWithCleanCopy(t *testing.T) {
	tests := []struct {
		name     string
		cleanIn  int
		wantKind models.ActionKind
	}{
		{"CleanCopyHigherRank", 0, models.ActionDelete},
		{"CleanCopySameRank", 1, models.ActionSkip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPlannerFixture(t, "/A", "/B")
			f.add(0, "a.doc.damaged", "d1", 64, models.DamageMarker)
			f.add(tt.cleanIn, "b.doc", "d1", 64, 0)
			f.add(1, "c.doc", "d1", 64, models.DamageInvalid)

			var got *models.Action
			actions := f.plan(Options{})
			for i := range actions {
				if actions[i].Target == "/B/c.doc" {
					got = &actions[i]
				}
			}
			if got == nil {
				t.Fatalf("no action for /B/c.doc: %+v", actions)
			}
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %s (%s), want %s", got.Kind, got.Reason, tt.wantKind)
			}
			if got.Reference != "/A/a.doc.damaged" {
				t.Errorf("Reference = %s, want the digest owner", got.Reference)
			}
		})
	}
}

func TestPlanManifestDigestsRequireVerification(t *testing.T) {
	tests := []struct {
		name       string
		ownerList  bool
		dupList    bool
		wantVerify bool
	}{
		{"BothHashed", false, false, false},
		{"DuplicateListed", false, true, true},
		{"OwnerListed", true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPlannerFixture(t, "/A", "/B")
			if tt.ownerList {
				f.addListed(0, "x", "d1", 10)
			} else {
				f.add(0, "x", "d1", 10, 0)
			}
			if tt.dupList {
				f.addListed(1, "y", "d1", 10)
			} else {
				f.add(1, "y", "d1", 10, 0)
			}

			actions := f.plan(Options{})
			if len(actions) != 1 || actions[0].Kind != models.ActionDelete {
				t.Fatalf("actions = %+v, want one delete", actions)
			}
			if actions[0].Verify != tt.wantVerify {
				t.Errorf("Verify = %v, want %v", actions[0].Verify, tt.wantVerify)
			}
		})
	}
}

func TestPlanEmptyFilesAcrossCollections(t *testing.T) {
	f := newPlannerFixture(t, "/A", "/B")
	f.add(0, "empty-a", digest.EmptyDigest, 0, models.DamageEmpty)
	f.add(1, "empty-b", digest.EmptyDigest, 0, models.DamageEmpty)

	actions := f.plan(Options{})
	if len(actions) != 1 || actions[0].Kind != models.ActionDelete || actions[0].Target != "/B/empty-b" {
		t.Errorf("actions = %+v, want /B/empty-b deleted", actions)
	}
}

func TestPlanMinDeleteBytes(t *testing.T) {
	f := newPlannerFixture(t, "/A", "/B")
	f.add(0, "small", "d1", 10, 0)
	f.add(1, "small", "d1", 10, 0)
	f.add(0, "big", "d2", 2048, 0)
	f.add(1, "big", "d2", 2048, 0)

	actions := f.plan(Options{MinDeleteBytes: 1024})
	if len(actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(actions))
	}
	// path order within /B: big before small
	if actions[0].Kind != models.ActionDelete || actions[0].Target != "/B/big" {
		t.Errorf("actions[0] = %+v", actions[0])
	}
	if actions[1].Kind != models.ActionSkip || actions[1].Reason != ReasonBelowMinimum {
		t.Errorf("actions[1] = %+v", actions[1])
	}
}

func TestPlanSkipsFailedRecords(t *testing.T) {
	f := newPlannerFixture(t, "/A", "/B")
	f.add(0, "x", "d1", 10, 0)

	col := f.collections[1]
	failed := models.NewFileRecord(col, "/B/x", "x", 10)
	failed.ResolveDigest(func(string) (string, error) { return "", context.DeadlineExceeded })
	f.records[col.Root] = append(f.records[col.Root], failed)

	if actions := f.plan(Options{}); len(actions) != 0 {
		t.Errorf("failed record must not be planned, got %+v", actions)
	}
}

func TestDeleted(t *testing.T) {
	set := Deleted([]models.Action{
		{Kind: models.ActionDelete, Target: "/B/a"},
		{Kind: models.ActionSkip, Target: "/B/b"},
	})
	if set.Cardinality() != 1 || !set.Contains("/B/a") {
		t.Errorf("Deleted() = %v", set.ToSlice())
	}
}
