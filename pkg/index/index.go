// Package index builds the priority-ordered content index: one owner per
// digest, the record from the most trusted collection that holds it.
package index

import (
	"context"
	"path"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sdejongh/salvage/pkg/digest"
	"github.com/sdejongh/salvage/pkg/logging"
	"github.com/sdejongh/salvage/pkg/models"
)

// Entry locates an indexed record
type Entry struct {
	Rank   int
	Path   string
	Record *models.FileRecord
}

type copyKey struct {
	name string
	size int64
}

// HashIndex maps digests to their owner. An owner is never replaced once
// inserted. Secondary lookups keep the first clean record of each digest and
// the non-damaged records by base name and size.
type HashIndex struct {
	owners *xsync.MapOf[string, Entry]
	clean  *xsync.MapOf[string, Entry]
	copies map[copyKey][]Entry
}

// New creates an empty index
func New() *HashIndex {
	return &HashIndex{
		owners: xsync.NewMapOf[string, Entry](),
		clean:  xsync.NewMapOf[string, Entry](),
		copies: make(map[copyKey][]Entry),
	}
}

// Insert adds a hashed record. It returns the owner of the record's digest
// and whether the record became that owner. Records without a digest are
// ignored.
func (x *HashIndex) Insert(r *models.FileRecord) (Entry, bool) {
	d := r.Digest()
	if d == "" {
		return Entry{}, false
	}

	e := Entry{Rank: r.Rank(), Path: r.Path, Record: r}
	owner, loaded := x.owners.LoadOrStore(d, e)
	if Clean(r) {
		x.clean.LoadOrStore(d, e)
	}

	if !r.IsDamaged() {
		key := copyKey{path.Base(r.RelPath), r.Size}
		x.copies[key] = append(x.copies[key], e)
	}
	return owner, !loaded
}

// Owner returns the owner of a digest
func (x *HashIndex) Owner(d string) (Entry, bool) {
	return x.owners.Load(d)
}

// CleanCopy returns the first clean record inserted for a digest, the most
// trusted one since records are inserted in rank order
func (x *HashIndex) CleanCopy(d string) (Entry, bool) {
	return x.clean.Load(d)
}

// Clean reports whether a record may stand in for a damaged copy of the same
// content: it is not damaged, or damaged only because it is empty
func Clean(r *models.FileRecord) bool {
	return r != nil && (!r.IsDamaged() || r.Damage == models.DamageEmpty)
}

// GoodCopies returns the non-damaged records named name with the given size,
// in insertion order (rank first, then path)
func (x *HashIndex) GoodCopies(name string, size int64) []Entry {
	entries := x.copies[copyKey{name, size}]
	if len(entries) == 0 {
		return nil
	}
	return append([]Entry(nil), entries...)
}

// Len returns the number of distinct digests
func (x *HashIndex) Len() int {
	return x.owners.Size()
}

// Build hashes every collection in rank order and inserts its records in
// path order. Hashing within a collection is parallel; insertion happens
// after the collection is fully hashed. Records that fail hashing are left
// out of the index and returned as ReadFailures.
//
// records maps a collection root to the records scanned from it.
func Build(ctx context.Context, collections []models.Collection, records map[string][]*models.FileRecord, pool *digest.Pool, logger logging.Logger) (*HashIndex, []*models.ReadFailure, error) {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	log := logger.WithFields(logging.Fields{"component": "index"})

	ordered := append([]models.Collection(nil), collections...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	x := New()
	var failures []*models.ReadFailure

	for _, col := range ordered {
		batch := append([]*models.FileRecord(nil), records[col.Root]...)
		sort.Slice(batch, func(i, j int) bool { return batch[i].RelPath < batch[j].RelPath })

		batchFailures, err := pool.HashAll(ctx, batch)
		failures = append(failures, batchFailures...)
		if err != nil {
			return nil, failures, err
		}

		owned := 0
		for _, r := range batch {
			if r.DigestErr() != nil {
				continue
			}
			if _, inserted := x.Insert(r); inserted {
				owned++
			}
		}

		log.Info(ctx, "collection indexed", logging.Fields{
			"collection": col.Root,
			"rank":       col.Rank,
			"files":      len(batch),
			"owned":      owned,
			"failures":   len(batchFailures),
		})
	}

	return x, failures, nil
}
