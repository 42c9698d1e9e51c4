package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"time"
)

// ErrOutsideRoot is returned for paths that resolve outside the backend root
var ErrOutsideRoot = errors.New("path is outside the collection root")

// ErrExists is returned when a rename or replace would overwrite a file
var ErrExists = fs.ErrExist

// FileInfo represents metadata about a regular file
type FileInfo struct {
	Path         string // absolute path
	RelativePath string // slash separated, relative to the backend root
	Size         int64
	ModTime      time.Time
	Mode         fs.FileMode
}

// WalkFunc is called for every regular file in lexical order. A non-nil err
// reports an entry that could not be read; returning nil continues the walk.
type WalkFunc func(info FileInfo, err error) error

// Backend defines the storage operations the engine needs.
// Paths may be absolute (inside the root) or relative to the root.
type Backend interface {
	// Root returns the absolute root of the backend
	Root() string

	// Walk visits every regular file below path, skipping symlinks and
	// other non-regular entries
	Walk(ctx context.Context, path string, fn WalkFunc) error

	// List returns all regular files below path, stopping at the first error
	List(ctx context.Context, path string) ([]FileInfo, error)

	// Read opens a file for reading
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// WriteFile atomically creates or replaces path with the reader's content
	WriteFile(ctx context.Context, path string, r io.Reader) error

	// Rename moves oldPath to newPath, failing with ErrExists if newPath exists
	Rename(ctx context.Context, oldPath, newPath string) error

	// Replace writes the content of source to newPath and removes target.
	// newPath must not exist unless it is target itself.
	Replace(ctx context.Context, target, newPath string, source io.Reader) error

	// Remove deletes a single file
	Remove(ctx context.Context, path string) error

	// Exists checks if a path exists (symlinks are not followed)
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns file metadata
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// Close releases any resources held by the backend
	Close() error
}
