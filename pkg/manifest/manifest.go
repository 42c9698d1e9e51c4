// Package manifest reads and writes hashes.txt, the per-collection list of
// content digests that lets unchanged collections skip rehashing.
package manifest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sdejongh/salvage/pkg/digest"
	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/scan"
	"github.com/sdejongh/salvage/pkg/sizetable"
	"github.com/sdejongh/salvage/pkg/storage"
)

// Header is the first line of every manifest written by salvage
const Header = "# algorithm: " + digest.Algorithm

// ErrUnknownAlgorithm is returned for manifests without the blake3 header,
// typically sha256 lists produced by other tools
var ErrUnknownAlgorithm = errors.New("manifest does not declare " + digest.Algorithm)

// Manifest maps collection-relative paths to digests
type Manifest struct {
	Root    string
	Source  string
	entries map[string]string
}

// New creates an empty manifest for root
func New(root string) *Manifest {
	return &Manifest{Root: root, Source: filepath.Join(root, scan.ManifestFile), entries: make(map[string]string)}
}

// Len returns the number of entries
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Lookup returns the digest listed for rel
func (m *Manifest) Lookup(rel string) (string, bool) {
	d, ok := m.entries[rel]
	return d, ok
}

// Set records the digest of rel
func (m *Manifest) Set(rel, d string) {
	m.entries[rel] = d
}

// Merge copies every entry of other that m does not already list
func (m *Manifest) Merge(other *Manifest) {
	for rel, d := range other.entries {
		if _, ok := m.entries[rel]; !ok {
			m.entries[rel] = d
		}
	}
}

// Paths returns the listed relative paths in lexical order
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.entries))
	for rel := range m.entries {
		paths = append(paths, rel)
	}
	sort.Strings(paths)
	return paths
}

// Prefill presets the digest of every record the manifest lists and returns
// how many records were prefilled
func (m *Manifest) Prefill(records []*models.FileRecord) int {
	n := 0
	for _, r := range records {
		if d, ok := m.entries[r.RelPath]; ok {
			r.PresetDigest(d)
			n++
		}
	}
	return n
}

// Write renders the manifest with its header, entries in path order
func (m *Manifest) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, Header); err != nil {
		return err
	}
	for _, rel := range m.Paths() {
		if _, err := fmt.Fprintf(bw, "%s %s\n", m.entries[rel], rel); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Parse reads a manifest. The header must come before the first entry;
// otherwise ErrUnknownAlgorithm is returned. Malformed lines are skipped and
// returned as warnings.
func Parse(r io.Reader, name string) (*Manifest, []error, error) {
	m := &Manifest{Source: name, entries: make(map[string]string)}
	var warnings []error

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	headerSeen := false
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if isHeader(line) {
				headerSeen = true
			}
			continue
		}
		if !headerSeen {
			return nil, warnings, fmt.Errorf("%s: %w", name, ErrUnknownAlgorithm)
		}

		d, rel, ok := strings.Cut(line, " ")
		if !ok {
			warnings = append(warnings, &sizetable.LineError{File: name, Line: lineNo, Msg: "expected '<digest> <relative path>'"})
			continue
		}
		d = strings.ToLower(d)
		if !digest.Valid(d) {
			warnings = append(warnings, &sizetable.LineError{File: name, Line: lineNo, Msg: "invalid digest"})
			continue
		}
		rel, ok = sizetable.NormalizeRelPath(rel)
		if !ok {
			warnings = append(warnings, &sizetable.LineError{File: name, Line: lineNo, Msg: "invalid relative path"})
			continue
		}
		m.entries[rel] = d
	}
	if err := sc.Err(); err != nil {
		return nil, warnings, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if !headerSeen {
		return nil, warnings, fmt.Errorf("%s: %w", name, ErrUnknownAlgorithm)
	}
	return m, warnings, nil
}

func isHeader(line string) bool {
	key, value, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "#")), ":")
	return ok && strings.TrimSpace(key) == "algorithm" && strings.EqualFold(strings.TrimSpace(value), digest.Algorithm)
}

// Load reads the hashes.txt at root. A missing manifest returns an error
// matching os.ErrNotExist.
func Load(root string) (*Manifest, []error, error) {
	file := filepath.Join(root, scan.ManifestFile)
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	m, warnings, err := Parse(f, file)
	if err != nil {
		return nil, warnings, err
	}
	m.Root = root
	return m, warnings, nil
}

// Generate hashes every regular file below the backend root that existing
// does not list (existing may be nil). Artifacts and excluded paths are
// skipped. Files that cannot be hashed are returned as ReadFailures.
func Generate(ctx context.Context, backend storage.Backend, pool *digest.Pool, existing *Manifest, exclude *scan.Excluder) (*Manifest, []*models.ReadFailure, error) {
	col := models.Collection{Root: backend.Root(), Priority: 1}
	out := New(backend.Root())

	var records []*models.FileRecord
	var failures []*models.ReadFailure
	err := backend.Walk(ctx, "", func(info storage.FileInfo, err error) error {
		if err != nil {
			failures = append(failures, &models.ReadFailure{Path: info.Path, Err: err})
			return nil
		}
		if scan.IsArtifact(info.RelativePath) || exclude.Match(info.RelativePath) {
			return nil
		}
		if existing != nil {
			if _, ok := existing.Lookup(info.RelativePath); ok {
				return nil
			}
		}
		records = append(records, models.NewFileRecord(col, info.Path, info.RelativePath, info.Size))
		return nil
	})
	if err != nil {
		return nil, failures, fmt.Errorf("failed to walk %s: %w", backend.Root(), err)
	}

	hashFailures, err := pool.HashAll(ctx, records)
	failures = append(failures, hashFailures...)
	if err != nil {
		return nil, failures, err
	}

	for _, r := range records {
		if d := r.Digest(); d != "" {
			out.Set(r.RelPath, d)
		}
	}
	if existing != nil {
		out.Merge(existing)
	}
	return out, failures, nil
}

// Rotate moves an existing hashes.txt out of the way as hashes.txt.N, using
// the lowest free N. It returns the new name, or "" if there was nothing to
// rotate.
func Rotate(ctx context.Context, backend storage.Backend) (string, error) {
	exists, err := backend.Exists(ctx, scan.ManifestFile)
	if err != nil || !exists {
		return "", err
	}

	for i := 0; ; i++ {
		name := fmt.Sprintf("%s.%d", scan.ManifestFile, i)
		err := backend.Rename(ctx, scan.ManifestFile, name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, storage.ErrExists) {
			return "", fmt.Errorf("failed to rotate %s: %w", scan.ManifestFile, err)
		}
	}
}

// Save writes m as the backend's hashes.txt, atomically
func Save(ctx context.Context, backend storage.Backend, m *Manifest) error {
	var buf bytes.Buffer
	if err := m.Write(&buf); err != nil {
		return err
	}
	if err := backend.WriteFile(ctx, scan.ManifestFile, &buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", scan.ManifestFile, err)
	}
	return nil
}
