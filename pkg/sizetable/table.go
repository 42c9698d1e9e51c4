package sizetable

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/scan"
	"github.com/sdejongh/salvage/pkg/storage"
)

// Entry is one "<size> <relative path>" line
type Entry struct {
	Size    int64
	RelPath string // slash separated
}

// Table is the size table of one source directory
type Table struct {
	// Root is the directory the relative paths are relative to
	Root string
	// Source is where the table came from (artifact path, or root for live scans)
	Source  string
	Entries []Entry
}

// LineError reports a malformed artifact line; loading continues past it
type LineError struct {
	File string
	Line int
	Msg  string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// Load reads a size-table artifact. Paths in it are relative to root.
// Malformed lines are skipped and returned as LineErrors.
func Load(file, root string) (*Table, []error, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open size table: %w", err)
	}
	defer f.Close()

	t, warnings, err := Parse(f, file)
	if err != nil {
		return nil, warnings, err
	}
	t.Root = root
	return t, warnings, nil
}

// Parse reads table lines from r; name is used in LineErrors
func Parse(r io.Reader, name string) (*Table, []error, error) {
	t := &Table{Source: name}
	var warnings []error

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		sizeText, rel, ok := strings.Cut(line, " ")
		if !ok {
			warnings = append(warnings, &LineError{name, lineNo, "expected '<size> <relative path>'"})
			continue
		}
		size, err := strconv.ParseInt(sizeText, 10, 64)
		if err != nil || size < 0 {
			warnings = append(warnings, &LineError{name, lineNo, fmt.Sprintf("invalid size %q", sizeText)})
			continue
		}
		rel, ok = NormalizeRelPath(rel)
		if !ok {
			warnings = append(warnings, &LineError{name, lineNo, "invalid relative path"})
			continue
		}
		t.Entries = append(t.Entries, Entry{Size: size, RelPath: rel})
	}
	if err := sc.Err(); err != nil {
		return nil, warnings, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return t, warnings, nil
}

// NormalizeRelPath cleans a relative path, rejecting absolute paths and
// paths that climb out of the root
func NormalizeRelPath(rel string) (string, bool) {
	rel = strings.TrimSpace(strings.ReplaceAll(rel, "\\", "/"))
	if rel == "" || strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return "", false
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", false
		}
	}
	rel = path.Clean(rel)
	if rel == "." {
		return "", false
	}
	return rel, true
}

// FromRecords builds a table from scanned records, keeping only records
// that still carry trustworthy names (not damaged)
func FromRecords(root string, records []*models.FileRecord) *Table {
	t := &Table{Root: root, Source: root}
	for _, r := range records {
		if r.IsDamaged() {
			continue
		}
		t.Entries = append(t.Entries, Entry{Size: r.Size, RelPath: r.RelPath})
	}
	return t
}

// Generate lists every regular file below the backend root in walk order,
// skipping salvage artifacts and the output file itself (skip is relative to
// the root, empty for none). Unreadable entries are returned as warnings.
func Generate(ctx context.Context, backend storage.Backend, skip string) (*Table, []error, error) {
	t := &Table{Root: backend.Root(), Source: backend.Root()}
	var warnings []error

	err := backend.Walk(ctx, "", func(info storage.FileInfo, err error) error {
		if err != nil {
			warnings = append(warnings, &models.ReadFailure{Path: info.Path, Err: err})
			return nil
		}
		if info.RelativePath == skip || scan.IsArtifact(info.RelativePath) {
			return nil
		}
		t.Entries = append(t.Entries, Entry{Size: info.Size, RelPath: info.RelativePath})
		return nil
	})
	if err != nil {
		return nil, warnings, fmt.Errorf("failed to scan %s: %w", backend.Root(), err)
	}
	return t, warnings, nil
}

// Write renders the table in artifact format
func (t *Table) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range t.Entries {
		if _, err := fmt.Fprintf(bw, "%d %s\n", e.Size, e.RelPath); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Source names a size-table input given on the command line or in config
type Source struct {
	// Path is a filesizes.txt file or a directory
	Path string
}

// Resolve loads a source. A directory uses its filesizes.txt artifact when
// present and falls back to a live scan; a file is loaded as an artifact
// relative to its own directory.
func Resolve(ctx context.Context, src Source) (*Table, []error, error) {
	info, err := os.Stat(src.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("size table %s: %w", src.Path, err)
	}

	if !info.IsDir() {
		abs, err := filepath.Abs(src.Path)
		if err != nil {
			return nil, nil, err
		}
		return Load(abs, filepath.Dir(abs))
	}

	backend, err := storage.NewLocal(src.Path)
	if err != nil {
		return nil, nil, err
	}
	artifact := filepath.Join(backend.Root(), scan.SizeTableFile)
	if _, err := os.Stat(artifact); err == nil {
		return Load(artifact, backend.Root())
	}
	return Generate(ctx, backend, "")
}
