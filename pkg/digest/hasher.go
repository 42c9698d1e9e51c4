package digest

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"github.com/sdejongh/salvage/pkg/ratelimit"
)

const (
	// Size is the digest length in bytes
	Size = 32

	// Algorithm names the digest in hash manifests
	Algorithm = "blake3-256"

	// DefaultBufferSize is the read chunk size
	DefaultBufferSize = 64 * 1024
)

// EmptyDigest is the digest of the empty stream
var EmptyDigest = func() string {
	sum := blake3.Sum256(nil)
	return hex.EncodeToString(sum[:])
}()

// Progress reporting thresholds
const (
	progressReportInterval = 50 * time.Millisecond
	progressReportBytes    = 64 * 1024
)

// Opener opens a file for reading; storage.Backend satisfies it
type Opener interface {
	Read(ctx context.Context, path string) (io.ReadCloser, error)
}

type osOpener struct{}

func (osOpener) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Hasher streams files into BLAKE3-256 digests using pooled buffers and hashers.
// It is safe for concurrent use.
type Hasher struct {
	bufferSize int
	bufferPool sync.Pool
	hasherPool sync.Pool
	opener     Opener
	limiter    *ratelimit.Limiter
	progress   func(bytes int64)
}

// NewHasher creates a hasher reading in chunks of bufferSize bytes
func NewHasher(bufferSize int) *Hasher {
	if bufferSize < 4096 {
		bufferSize = DefaultBufferSize
	}
	h := &Hasher{
		bufferSize: bufferSize,
		opener:     osOpener{},
	}
	h.bufferPool.New = func() any {
		buf := make([]byte, bufferSize)
		return &buf
	}
	h.hasherPool.New = func() any {
		return blake3.New(Size, nil)
	}
	return h
}

// SetOpener routes file reads through o (a storage backend)
func (h *Hasher) SetOpener(o Opener) {
	if o == nil {
		o = osOpener{}
	}
	h.opener = o
}

// SetLimiter throttles reads; a nil limiter disables throttling
func (h *Hasher) SetLimiter(l *ratelimit.Limiter) {
	h.limiter = l
}

// SetProgress registers a callback receiving the number of bytes read since
// the previous call. It may be called from several goroutines at once.
func (h *Hasher) SetProgress(fn func(bytes int64)) {
	h.progress = fn
}

// HashFile returns the hex digest of the file at path
func (h *Hasher) HashFile(ctx context.Context, path string) (string, error) {
	rc, err := h.opener.Read(ctx, path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer rc.Close()

	return h.HashReader(ctx, ratelimit.NewReader(ctx, rc, h.limiter))
}

// HashReader returns the hex digest of everything r yields
func (h *Hasher) HashReader(ctx context.Context, r io.Reader) (string, error) {
	bufPtr := h.bufferPool.Get().(*[]byte)
	defer h.bufferPool.Put(bufPtr)
	buffer := *bufPtr

	hasher := h.hasherPool.Get().(hash.Hash)
	defer func() {
		hasher.Reset()
		h.hasherPool.Put(hasher)
	}()

	var unreported int64
	lastReport := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := r.Read(buffer)
		if n > 0 {
			hasher.Write(buffer[:n])

			if h.progress != nil {
				unreported += int64(n)
				if unreported >= progressReportBytes || time.Since(lastReport) >= progressReportInterval {
					h.progress(unreported)
					unreported = 0
					lastReport = time.Now()
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read: %w", err)
		}
	}

	if h.progress != nil && unreported > 0 {
		h.progress(unreported)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// Valid reports whether s looks like a digest produced by this package
func Valid(s string) bool {
	if len(s) != Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
