package digest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/ratelimit"
)

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	h := NewHasher(4096)
	ctx := context.Background()

	t.Run("IdenticalBytesIdenticalDigest", func(t *testing.T) {
		a := writeFile(t, dir, "A/x.jpg", "same content")
		b := writeFile(t, dir, "B/deep/nested/dir/y.jpg", "same content")

		da, err := h.HashFile(ctx, a)
		if err != nil {
			t.Fatalf("HashFile() error = %v", err)
		}
		db, err := h.HashFile(ctx, b)
		if err != nil {
			t.Fatalf("HashFile() error = %v", err)
		}
		if da != db {
			t.Errorf("digests differ: %s vs %s", da, db)
		}
		if !Valid(da) {
			t.Errorf("digest %q is not %d hex bytes", da, Size)
		}
	})

	t.Run("DifferentBytesDifferentDigest", func(t *testing.T) {
		a := writeFile(t, dir, "c1", "content 1")
		b := writeFile(t, dir, "c2", "content 2")
		da, _ := h.HashFile(ctx, a)
		db, _ := h.HashFile(ctx, b)
		if da == db {
			t.Error("different content should give different digests")
		}
	})

	t.Run("EmptyFile", func(t *testing.T) {
		p := writeFile(t, dir, "empty", "")
		d, err := h.HashFile(ctx, p)
		if err != nil {
			t.Fatalf("HashFile() error = %v", err)
		}
		if d != EmptyDigest {
			t.Errorf("empty digest = %s, want %s", d, EmptyDigest)
		}
	})

	t.Run("LargerThanBuffer", func(t *testing.T) {
		content := strings.Repeat("0123456789", 10000)
		p := writeFile(t, dir, "large", content)
		d, _ := h.HashFile(ctx, p)
		dr, _ := NewHasher(65536).HashReader(ctx, strings.NewReader(content))
		if d != dr {
			t.Error("chunk size should not change the digest")
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := h.HashFile(ctx, filepath.Join(dir, "missing")); err == nil {
			t.Error("HashFile() should fail for a missing file")
		}
	})
}

func TestHashReaderProgress(t *testing.T) {
	h := NewHasher(4096)
	var total int64
	h.SetProgress(func(n int64) { atomic.AddInt64(&total, n) })

	content := bytes.Repeat([]byte{1}, 200*1024)
	if _, err := h.HashReader(context.Background(), bytes.NewReader(content)); err != nil {
		t.Fatalf("HashReader() error = %v", err)
	}
	if total != int64(len(content)) {
		t.Errorf("progress reported %d bytes, want %d", total, len(content))
	}
}

func TestHashWithLimiter(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "f", "limited")

	plain, _ := NewHasher(4096).HashFile(context.Background(), p)

	h := NewHasher(4096)
	h.SetLimiter(ratelimit.NewLimiter(10 * 1024 * 1024))
	limited, err := h.HashFile(context.Background(), p)
	if err != nil {
		t.Fatalf("HashFile() error = %v", err)
	}
	if limited != plain {
		t.Error("throttling should not change the digest")
	}
}

// flakyOpener fails the first n opens of every path
type flakyOpener struct {
	failures int32
	calls    int32
}

func (f *flakyOpener) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	if atomic.AddInt32(&f.calls, 1) <= f.failures {
		return nil, errors.New("i/o error")
	}
	return os.Open(path)
}

func newRecords(t *testing.T, dir string, files map[string]string) []*models.FileRecord {
	t.Helper()
	col := models.Collection{Root: dir, Priority: 1}
	var recs []*models.FileRecord
	for rel, content := range files {
		p := writeFile(t, dir, rel, content)
		recs = append(recs, models.NewFileRecord(col, p, rel, int64(len(content))))
	}
	return recs
}

func TestPoolHashAll(t *testing.T) {
	ctx := context.Background()

	t.Run("HashesEveryRecord", func(t *testing.T) {
		dir := t.TempDir()
		recs := newRecords(t, dir, map[string]string{"a": "1", "b": "2", "c": "3", "d": "1"})

		var done int32
		pool := NewPool(NewHasher(4096), 2, 0)
		pool.OnRecord = func(*models.FileRecord, error) { atomic.AddInt32(&done, 1) }

		failures, err := pool.HashAll(ctx, recs)
		if err != nil || len(failures) != 0 {
			t.Fatalf("HashAll() = %v, %v", failures, err)
		}
		if done != 4 {
			t.Errorf("OnRecord called %d times, want 4", done)
		}
		for _, r := range recs {
			if r.Digest() == "" {
				t.Errorf("%s has no digest", r.RelPath)
			}
		}
	})

	t.Run("PresetDigestNotRead", func(t *testing.T) {
		dir := t.TempDir()
		recs := newRecords(t, dir, map[string]string{"a": "1"})
		recs[0].PresetDigest("manifest")
		os.Remove(recs[0].Path)

		failures, err := NewPool(NewHasher(4096), 1, 0).HashAll(ctx, recs)
		if err != nil || len(failures) != 0 {
			t.Fatalf("HashAll() = %v, %v", failures, err)
		}
		if recs[0].Digest() != "manifest" {
			t.Errorf("Digest() = %s, want manifest", recs[0].Digest())
		}
	})

	t.Run("RetriesTransientFailure", func(t *testing.T) {
		dir := t.TempDir()
		recs := newRecords(t, dir, map[string]string{"a": "1"})

		h := NewHasher(4096)
		h.SetOpener(&flakyOpener{failures: 2})
		pool := NewPool(h, 1, 2)
		pool.setBackoff(time.Millisecond)

		failures, err := pool.HashAll(ctx, recs)
		if err != nil || len(failures) != 0 {
			t.Fatalf("HashAll() = %v, %v", failures, err)
		}
	})

	t.Run("ExhaustedRetriesReportReadFailure", func(t *testing.T) {
		dir := t.TempDir()
		recs := newRecords(t, dir, map[string]string{"a": "1"})
		os.Remove(recs[0].Path)

		pool := NewPool(NewHasher(4096), 1, 1)
		pool.setBackoff(time.Millisecond)

		failures, err := pool.HashAll(ctx, recs)
		if err != nil {
			t.Fatalf("HashAll() error = %v", err)
		}
		if len(failures) != 1 || failures[0].Path != recs[0].Path {
			t.Fatalf("failures = %v, want one for %s", failures, recs[0].Path)
		}
		if recs[0].Digest() != "" {
			t.Error("failed record should have no digest")
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		dir := t.TempDir()
		recs := newRecords(t, dir, map[string]string{"a": "1", "b": "2"})
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		if _, err := NewPool(NewHasher(4096), 1, 0).HashAll(cancelled, recs); !errors.Is(err, context.Canceled) {
			t.Errorf("HashAll() error = %v, want context.Canceled", err)
		}
	})
}

func TestNewPoolDefaults(t *testing.T) {
	pool := NewPool(NewHasher(0), 0, -1)
	if pool.Workers() < 1 {
		t.Errorf("Workers() = %d, want >= 1", pool.Workers())
	}
	if pool.hasher.bufferSize != DefaultBufferSize {
		t.Errorf("bufferSize = %d, want %d", pool.hasher.bufferSize, DefaultBufferSize)
	}
}
