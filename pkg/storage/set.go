package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
)

// Set routes absolute paths to the Local backend of the collection that
// contains them. Paths outside every collection are rejected, so mutations
// never leave the collections being reconciled.
type Set struct {
	backends []*Local
}

// NewSet creates one Local backend per root
func NewSet(roots []string) (*Set, error) {
	s := &Set{}
	for _, root := range roots {
		l, err := NewLocal(root)
		if err != nil {
			return nil, fmt.Errorf("collection %s: %w", root, err)
		}
		s.backends = append(s.backends, l)
	}
	// deepest root first so the most specific backend wins
	sort.SliceStable(s.backends, func(i, j int) bool {
		return len(s.backends[i].rootPath) > len(s.backends[j].rootPath)
	})
	return s, nil
}

// For returns the backend whose root contains path
func (s *Set) For(path string) (*Local, error) {
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%s: path must be absolute", path)
	}
	for _, l := range s.backends {
		if l.Contains(path) {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrOutsideRoot)
}

// Root returns "" since a set has no single root
func (s *Set) Root() string {
	return ""
}

func (s *Set) Walk(ctx context.Context, path string, fn WalkFunc) error {
	l, err := s.For(path)
	if err != nil {
		return err
	}
	return l.Walk(ctx, path, fn)
}

func (s *Set) List(ctx context.Context, path string) ([]FileInfo, error) {
	l, err := s.For(path)
	if err != nil {
		return nil, err
	}
	return l.List(ctx, path)
}

func (s *Set) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	l, err := s.For(path)
	if err != nil {
		return nil, err
	}
	return l.Read(ctx, path)
}

func (s *Set) WriteFile(ctx context.Context, path string, r io.Reader) error {
	l, err := s.For(path)
	if err != nil {
		return err
	}
	return l.WriteFile(ctx, path, r)
}

// Rename requires both paths to be inside the same collection
func (s *Set) Rename(ctx context.Context, oldPath, newPath string) error {
	l, err := s.For(oldPath)
	if err != nil {
		return err
	}
	return l.Rename(ctx, oldPath, newPath)
}

func (s *Set) Replace(ctx context.Context, target, newPath string, source io.Reader) error {
	l, err := s.For(target)
	if err != nil {
		return err
	}
	return l.Replace(ctx, target, newPath, source)
}

func (s *Set) Remove(ctx context.Context, path string) error {
	l, err := s.For(path)
	if err != nil {
		return err
	}
	return l.Remove(ctx, path)
}

func (s *Set) Exists(ctx context.Context, path string) (bool, error) {
	l, err := s.For(path)
	if err != nil {
		return false, err
	}
	return l.Exists(ctx, path)
}

func (s *Set) Stat(ctx context.Context, path string) (*FileInfo, error) {
	l, err := s.For(path)
	if err != nil {
		return nil, err
	}
	return l.Stat(ctx, path)
}

func (s *Set) Close() error {
	return nil
}
