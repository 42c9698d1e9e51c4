package scan

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/sdejongh/salvage/pkg/logging"
	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/storage"
)

const (
	// SizeTableFile is the size-table artifact at a collection root
	SizeTableFile = "filesizes.txt"
	// ManifestFile is the hash manifest artifact at a collection root
	ManifestFile = "hashes.txt"
	// DefaultDamagedSuffix marks files known to be damaged
	DefaultDamagedSuffix = ".damaged"
)

// Validator is an external structural validity check (document or image
// parsers). Valid returns false for files that are damaged.
type Validator interface {
	Valid(ctx context.Context, path string) (bool, error)
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc func(ctx context.Context, path string) (bool, error)

func (f ValidatorFunc) Valid(ctx context.Context, path string) (bool, error) {
	return f(ctx, path)
}

// Options configures a Scanner
type Options struct {
	DamagedSuffix string
	Exclude       *Excluder
	Validator     Validator
	Logger        logging.Logger
}

// Result is the outcome of scanning one collection
type Result struct {
	Collection models.Collection
	Records    []*models.FileRecord
	Failures   []*models.ReadFailure
	Bytes      int64
	Damaged    int
	ZeroFilled int
	Excluded   int
}

// Scanner walks collections and classifies their files. It never modifies
// anything.
type Scanner struct {
	suffix    string
	exclude   *Excluder
	validator Validator
	logger    logging.Logger
}

// NewScanner creates a scanner
func NewScanner(opts Options) *Scanner {
	s := &Scanner{
		suffix:    opts.DamagedSuffix,
		exclude:   opts.Exclude,
		validator: opts.Validator,
		logger:    opts.Logger,
	}
	if s.suffix == "" {
		s.suffix = DefaultDamagedSuffix
	}
	if s.logger == nil {
		s.logger = logging.NewNullLogger()
	}
	return s
}

// DamagedSuffix returns the marker suffix in use
func (s *Scanner) DamagedSuffix() string {
	return s.suffix
}

// Scan walks the collection in lexical depth-first order and returns one
// record per regular file. Unreadable entries become ReadFailures and the
// walk continues.
func (s *Scanner) Scan(ctx context.Context, collection models.Collection) (*Result, error) {
	backend, err := storage.NewLocal(collection.Root)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", collection.Root, err)
	}
	return s.scanBackend(ctx, collection, backend)
}

// scanBackend scans through an existing backend rooted at the collection
func (s *Scanner) scanBackend(ctx context.Context, collection models.Collection, backend storage.Backend) (*Result, error) {
	log := s.logger.WithFields(logging.Fields{"component": "scan", "collection": collection.Root})
	result := &Result{Collection: collection}

	err := backend.Walk(ctx, "", func(info storage.FileInfo, walkErr error) error {
		if walkErr != nil {
			log.Warn(ctx, "unreadable entry", logging.Fields{"path": info.Path, "error": walkErr.Error()})
			result.Failures = append(result.Failures, &models.ReadFailure{Path: info.Path, Err: walkErr})
			return nil
		}

		if IsArtifact(info.RelativePath) {
			return nil
		}
		if s.exclude.Match(info.RelativePath) {
			result.Excluded++
			return nil
		}

		rec := models.NewFileRecord(collection, info.Path, info.RelativePath, info.Size)
		if err := s.classify(ctx, backend, rec); err != nil {
			log.Warn(ctx, "classification failed", logging.Fields{"path": info.Path, "error": err.Error()})
			result.Failures = append(result.Failures, &models.ReadFailure{Path: info.Path, Err: err})
			return nil
		}

		result.Records = append(result.Records, rec)
		result.Bytes += rec.Size
		if rec.IsDamaged() {
			result.Damaged++
		}
		if rec.Status == models.StatusZeroFilled {
			result.ZeroFilled++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", collection.Root, err)
	}

	log.Info(ctx, "collection scanned", logging.Fields{
		"files":       len(result.Records),
		"damaged":     result.Damaged,
		"zero_filled": result.ZeroFilled,
		"failures":    len(result.Failures),
	})
	return result, nil
}

func (s *Scanner) classify(ctx context.Context, backend storage.Backend, rec *models.FileRecord) error {
	if rec.Size == 0 {
		rec.MarkDamaged(models.DamageEmpty)
	}
	if strings.HasSuffix(rec.RelPath, s.suffix) {
		rec.MarkDamaged(models.DamageMarker)
	}
	if rec.Size == 0 {
		return nil
	}

	rc, err := backend.Read(ctx, rec.Path)
	if err != nil {
		return err
	}
	zero, err := IsZeroFilled(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("zero check: %w", err)
	}
	if zero {
		rec.MarkDamaged(models.DamageZeroFilled)
		return nil
	}

	if s.validator != nil && !rec.IsDamaged() {
		valid, err := s.validator.Valid(ctx, rec.Path)
		if err != nil {
			return fmt.Errorf("validator: %w", err)
		}
		if !valid {
			rec.MarkDamaged(models.DamageInvalid)
		}
	}
	return nil
}

// IsArtifact reports whether a collection-relative path is one of the
// artifacts salvage keeps at a collection root
func IsArtifact(relPath string) bool {
	if path.Dir(relPath) != "." {
		return false
	}
	switch relPath {
	case SizeTableFile, ManifestFile:
		return true
	}
	if suffix, ok := strings.CutPrefix(relPath, ManifestFile+"."); ok {
		_, err := strconv.Atoi(suffix)
		return err == nil
	}
	return false
}

// OriginalName strips the damaged suffix from a file name
func OriginalName(name, suffix string) string {
	if suffix == "" {
		suffix = DefaultDamagedSuffix
	}
	return strings.TrimSuffix(name, suffix)
}
