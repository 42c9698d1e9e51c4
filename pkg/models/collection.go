package models

import (
	"path/filepath"
	"sort"
)

// Collection is one tree of recovered files produced by a single recovery run
type Collection struct {
	// Root is the absolute path of the collection root
	Root string `json:"root" yaml:"path"`

	// Priority is the trust rank supplied by the caller, lower is more trustworthy
	Priority int `json:"priority" yaml:"priority"`

	// Names offers the collection's own file names as match candidates when
	// it has no filesizes.txt
	Names bool `json:"names,omitempty" yaml:"names,omitempty"`

	// Order is the position in the input list, used to break priority ties
	Order int `json:"order" yaml:"-"`

	// Rank is the position in the final total order (0 = most trusted)
	Rank int `json:"rank" yaml:"-"`
}

// Name returns the last element of the collection root
func (c Collection) Name() string {
	return filepath.Base(c.Root)
}

// Before reports whether c ranks strictly ahead of other in the total order
func (c Collection) Before(other Collection) bool {
	if c.Priority != other.Priority {
		return c.Priority < other.Priority
	}
	return c.Order < other.Order
}

// OrderCollections validates the caller-supplied priorities and returns the
// collections sorted into their total order with Rank assigned.
//
// Order is taken from the input position, so ties in Priority are broken by
// input order.
func OrderCollections(collections []Collection) ([]Collection, error) {
	if len(collections) == 0 {
		return nil, &ConfigurationError{Field: "collections", Message: "at least one collection is required"}
	}

	ordered := make([]Collection, len(collections))
	seen := make(map[string]bool, len(collections))
	for i, c := range collections {
		if c.Root == "" {
			return nil, &ConfigurationError{Field: "collections", Message: "collection path is empty"}
		}
		if c.Priority < 1 {
			return nil, &ConfigurationError{
				Field:   "collections",
				Message: "missing priority for " + c.Root,
			}
		}
		root := filepath.Clean(c.Root)
		if seen[root] {
			return nil, &ConfigurationError{Field: "collections", Message: "collection listed twice: " + root}
		}
		seen[root] = true

		c.Root = root
		c.Order = i
		ordered[i] = c
	}

	for _, a := range ordered {
		for _, b := range ordered {
			if a.Root != b.Root && isNested(a.Root, b.Root) {
				return nil, &ConfigurationError{
					Field:   "collections",
					Message: "collection " + b.Root + " is nested inside " + a.Root,
				}
			}
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Before(ordered[j])
	})
	for i := range ordered {
		ordered[i].Rank = i
	}

	return ordered, nil
}

// CollectionsFromPaths assigns priorities from list position (first = 1)
func CollectionsFromPaths(paths []string) []Collection {
	collections := make([]Collection, 0, len(paths))
	for i, p := range paths {
		collections = append(collections, Collection{Root: p, Priority: i + 1})
	}
	return collections
}

// isNested reports whether child lies strictly inside parent
func isNested(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && rel[2] == filepath.Separator
}
