package models

import (
	"strings"
	"sync"
)

// FileStatus classifies a recovered file's content
type FileStatus string

const (
	// StatusNormal indicates nothing marks the file as damaged
	StatusNormal FileStatus = "normal"
	// StatusDamaged indicates the file is empty, marked, or failed validation
	StatusDamaged FileStatus = "damaged"
	// StatusZeroFilled indicates every byte of a non-empty file is zero
	StatusZeroFilled FileStatus = "zero_filled"
)

// DamageReason is a set of reasons a record was classified as damaged
type DamageReason uint8

const (
	// DamageEmpty marks a zero-length file
	DamageEmpty DamageReason = 1 << iota
	// DamageZeroFilled marks a non-empty file made only of zero bytes
	DamageZeroFilled
	// DamageMarker marks a file carrying the damaged suffix
	DamageMarker
	// DamageInvalid marks a file rejected by an external validator
	DamageInvalid
)

var damageNames = []struct {
	reason DamageReason
	name   string
}{
	{DamageEmpty, "empty"},
	{DamageZeroFilled, "zero_filled"},
	{DamageMarker, "marker"},
	{DamageInvalid, "invalid"},
}

// Has reports whether all reasons in r are present in d
func (d DamageReason) Has(r DamageReason) bool {
	return d&r == r
}

// String lists the reasons, comma separated
func (d DamageReason) String() string {
	var parts []string
	for _, dn := range damageNames {
		if d.Has(dn.reason) {
			parts = append(parts, dn.name)
		}
	}
	return strings.Join(parts, ",")
}

// FileRecord is one regular file found in a collection.
//
// The digest is computed lazily, at most once per record, and cached for the
// run. Records must be handled by pointer.
type FileRecord struct {
	// Collection is the collection the file was found in
	Collection Collection

	// Path is the absolute path of the file
	Path string

	// RelPath is the path relative to the collection root, slash separated
	RelPath string

	// Size in bytes
	Size int64

	// Status is the content classification
	Status FileStatus

	// Damage holds why the record is damaged (zero for normal records)
	Damage DamageReason

	digestOnce sync.Once
	digest     string
	digestErr  error
	fromList   bool
}

// NewFileRecord creates a normal record; the scanner classifies it afterwards
func NewFileRecord(collection Collection, path, relPath string, size int64) *FileRecord {
	return &FileRecord{
		Collection: collection,
		Path:       path,
		RelPath:    relPath,
		Size:       size,
		Status:     StatusNormal,
	}
}

// MarkDamaged adds a damage reason and updates the status accordingly
func (r *FileRecord) MarkDamaged(reason DamageReason) {
	r.Damage |= reason
	if r.Damage.Has(DamageZeroFilled) {
		r.Status = StatusZeroFilled
	} else {
		r.Status = StatusDamaged
	}
}

// IsDamaged reports whether the record is damaged (zero_filled included)
func (r *FileRecord) IsDamaged() bool {
	return r.Status != StatusNormal
}

// Rank returns the rank of the record's collection
func (r *FileRecord) Rank() int {
	return r.Collection.Rank
}

// ResolveDigest returns the digest, calling compute at most once per record.
// Later calls return the cached digest or the cached error.
func (r *FileRecord) ResolveDigest(compute func(path string) (string, error)) (string, error) {
	r.digestOnce.Do(func() {
		r.digest, r.digestErr = compute(r.Path)
	})
	return r.digest, r.digestErr
}

// PresetDigest records a digest known ahead of time (from a hash manifest).
// It has no effect once the digest has been resolved.
func (r *FileRecord) PresetDigest(digest string) {
	r.digestOnce.Do(func() {
		r.digest = digest
		r.fromList = true
	})
}

// DigestFromManifest reports whether the digest was taken from a hash
// manifest rather than computed from the file's bytes
func (r *FileRecord) DigestFromManifest() bool {
	return r.Digest() != "" && r.fromList
}

// Digest returns the resolved digest, or "" if unresolved or failed
func (r *FileRecord) Digest() string {
	if r.digestErr != nil {
		return ""
	}
	return r.digest
}

// DigestErr returns the hashing error, if any
func (r *FileRecord) DigestErr() error {
	return r.digestErr
}
