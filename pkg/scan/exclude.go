package scan

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Excluder decides which collection-relative paths are skipped.
// Patterns support:
//   - basename globs: *.tmp, Thumbs.db
//   - directory patterns: .Trash-1000/, lost+found/
//   - path globs with doublestar: **/cache/**, photos/*.xmp
type Excluder struct {
	patterns []string
}

// NewExcluder validates patterns and returns an Excluder
func NewExcluder(patterns []string) (*Excluder, error) {
	e := &Excluder{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = strings.ReplaceAll(p, "\\", "/")
		glob := strings.TrimSuffix(p, "/")
		if !doublestar.ValidatePattern(glob) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
		e.patterns = append(e.patterns, p)
	}
	return e, nil
}

// Match reports whether the slash-separated relative path is excluded
func (e *Excluder) Match(relPath string) bool {
	if e == nil {
		return false
	}
	base := path.Base(relPath)

	for _, p := range e.patterns {
		if dir, ok := strings.CutSuffix(p, "/"); ok {
			// directory pattern: any path component sequence matching dir
			if ok, _ := doublestar.Match(dir+"/**", relPath); ok {
				return true
			}
			if ok, _ := doublestar.Match("**/"+dir+"/**", relPath); ok {
				return true
			}
			continue
		}

		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
			continue
		}

		if ok, _ := doublestar.Match(p, relPath); ok {
			return true
		}
	}
	return false
}

// Patterns returns the normalized patterns
func (e *Excluder) Patterns() []string {
	if e == nil {
		return nil
	}
	return e.patterns
}
