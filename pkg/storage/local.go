package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local is a filesystem backend confined to one directory tree
type Local struct {
	rootPath string
}

// NewLocal creates a new local filesystem backend
func NewLocal(rootPath string) (*Local, error) {
	absPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to access path: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", absPath)
	}

	return &Local{rootPath: absPath}, nil
}

// Root returns the absolute root path
func (l *Local) Root() string {
	return l.rootPath
}

// Contains reports whether an absolute path lies inside the root
func (l *Local) Contains(path string) bool {
	_, err := l.resolve(path)
	return err == nil
}

// resolve turns a root-relative or absolute path into an absolute path inside the root
func (l *Local) resolve(path string) (string, error) {
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(l.rootPath, path)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(l.rootPath, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideRoot)
	}
	return full, nil
}

// Walk visits regular files in lexical order
func (l *Local) Walk(ctx context.Context, path string, fn WalkFunc) error {
	start, err := l.resolve(path)
	if err != nil {
		return err
	}

	return filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if p == start {
				return err
			}
			// unreadable entry: report it, then keep going
			if cbErr := fn(FileInfo{Path: p, RelativePath: l.relative(p)}, err); cbErr != nil {
				return cbErr
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fn(FileInfo{Path: p, RelativePath: l.relative(p)}, err)
		}

		return fn(FileInfo{
			Path:         p,
			RelativePath: l.relative(p),
			Size:         info.Size(),
			ModTime:      info.ModTime(),
			Mode:         info.Mode(),
		}, nil)
	})
}

func (l *Local) relative(p string) string {
	rel, err := filepath.Rel(l.rootPath, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}

// List returns all regular files below path
func (l *Local) List(ctx context.Context, path string) ([]FileInfo, error) {
	var files []FileInfo
	err := l.Walk(ctx, path, func(info FileInfo, err error) error {
		if err != nil {
			return err
		}
		files = append(files, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// Read opens a file for reading
func (l *Local) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(full)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// WriteFile writes to a temp file in the same directory then renames it into place
func (l *Local) WriteFile(ctx context.Context, path string, r io.Reader) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}

	tmp, err := writeTemp(filepath.Dir(full), r)
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Rename moves a file without overwriting an existing one
func (l *Local) Rename(ctx context.Context, oldPath, newPath string) error {
	from, err := l.resolve(oldPath)
	if err != nil {
		return err
	}
	to, err := l.resolve(newPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return moveNoClobber(from, to)
}

// Replace writes source to newPath and removes target
func (l *Local) Replace(ctx context.Context, target, newPath string, source io.Reader) error {
	targetFull, err := l.resolve(target)
	if err != nil {
		return err
	}
	newFull, err := l.resolve(newPath)
	if err != nil {
		return err
	}

	tmp, err := writeTemp(filepath.Dir(newFull), source)
	if err != nil {
		return err
	}

	if newFull == targetFull {
		if err := os.Rename(tmp, newFull); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("failed to replace file: %w", err)
		}
		return nil
	}

	if err := moveNoClobber(tmp, newFull); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Remove(targetFull); err != nil {
		return fmt.Errorf("failed to remove damaged file: %w", err)
	}
	return nil
}

// Remove deletes a single file
func (l *Local) Remove(ctx context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(full); err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	return nil
}

// Exists checks if a path exists
func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	full, err := l.resolve(path)
	if err != nil {
		return false, err
	}

	_, err = os.Lstat(full)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check existence: %w", err)
}

// Stat returns file metadata
func (l *Local) Stat(ctx context.Context, path string) (*FileInfo, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &FileInfo{
		Path:         full,
		RelativePath: l.relative(full),
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		Mode:         info.Mode(),
	}, nil
}

// Close releases resources (no-op for local filesystem)
func (l *Local) Close() error {
	return nil
}

func writeTemp(dir string, r io.Reader) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".salvage-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tmp.Name(), nil
}

// moveNoClobber moves from to to, failing if to exists. Hard linking makes
// the check atomic; filesystems without hard links fall back to
// check-then-rename.
func moveNoClobber(from, to string) error {
	err := os.Link(from, to)
	if err == nil {
		if err := os.Remove(from); err != nil {
			return fmt.Errorf("failed to remove old name: %w", err)
		}
		return nil
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", to, ErrExists)
	}

	if _, statErr := os.Lstat(to); statErr == nil {
		return fmt.Errorf("%s: %w", to, ErrExists)
	}
	if err := os.Rename(from, to); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}
