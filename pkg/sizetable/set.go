package sizetable

import (
	"path"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Origin is where a candidate name was observed
type Origin struct {
	Root    string // table root
	RelPath string // path relative to Root
	Source  string // table source
}

// Candidate is a probable original name for a file of a given size
type Candidate struct {
	Name    string // base name
	Size    int64
	Origins []Origin
}

// Set merges several tables into one size -> candidates lookup. The same
// name seen at the same size in several tables collapses into one candidate
// with every origin; different names at one size stay separate.
type Set struct {
	names   map[int64]mapset.Set[string]
	origins map[candidateKey][]Origin
	tables  int
}

type candidateKey struct {
	size int64
	name string
}

// NewSet creates an empty set
func NewSet() *Set {
	return &Set{
		names:   make(map[int64]mapset.Set[string]),
		origins: make(map[candidateKey][]Origin),
	}
}

// Add merges a table into the set
func (s *Set) Add(t *Table) {
	s.tables++
	for _, e := range t.Entries {
		name := path.Base(e.RelPath)
		names, ok := s.names[e.Size]
		if !ok {
			names = mapset.NewThreadUnsafeSet[string]()
			s.names[e.Size] = names
		}
		names.Add(name)

		key := candidateKey{e.Size, name}
		s.origins[key] = append(s.origins[key], Origin{Root: t.Root, RelPath: e.RelPath, Source: t.Source})
	}
}

// Tables returns the number of tables merged
func (s *Set) Tables() int {
	return s.tables
}

// Candidates returns the candidates for size, sorted by name
func (s *Set) Candidates(size int64) []Candidate {
	names, ok := s.names[size]
	if !ok {
		return nil
	}

	sorted := names.ToSlice()
	sort.Strings(sorted)

	out := make([]Candidate, 0, len(sorted))
	for _, name := range sorted {
		origins := s.origins[candidateKey{size, name}]
		out = append(out, Candidate{
			Name:    name,
			Size:    size,
			Origins: append([]Origin(nil), origins...),
		})
	}
	return out
}

// Sizes returns the number of distinct sizes known
func (s *Set) Sizes() int {
	return len(s.names)
}
