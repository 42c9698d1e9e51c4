// Package verify re-checks that two files hold the same bytes before one of
// them is deleted.
package verify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sdejongh/salvage/pkg/ratelimit"
	"github.com/sdejongh/salvage/pkg/storage"
)

const (
	// FullCompareLimit is the largest size compared byte for byte
	FullCompareLimit = 512 * 1024

	headBytes   = 256 * 1024
	middleBytes = 128 * 1024
	tailBytes   = 128 * 1024

	defaultBufferSize = 64 * 1024
)

// Result is the outcome of a comparison
type Result struct {
	Same    bool
	Sampled bool
	Reason  string
}

// Verifier compares files through a storage backend
type Verifier struct {
	backend    storage.Backend
	bufferPool sync.Pool
	limiter    *ratelimit.Limiter
}

// NewVerifier creates a verifier reading through backend
func NewVerifier(backend storage.Backend) *Verifier {
	v := &Verifier{backend: backend}
	v.bufferPool.New = func() any {
		buf := make([]byte, defaultBufferSize)
		return &buf
	}
	return v
}

// SetLimiter throttles reads; nil disables throttling
func (v *Verifier) SetLimiter(l *ratelimit.Limiter) {
	v.limiter = l
}

// Compare checks that target and reference hold the same bytes. Files up to
// FullCompareLimit are compared completely; larger files are compared at
// their head, middle and tail.
func (v *Verifier) Compare(ctx context.Context, target, reference string) (*Result, error) {
	for _, p := range []string{target, reference} {
		exists, err := v.backend.Exists(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s: %w", p, err)
		}
		if !exists {
			return &Result{Reason: p + " does not exist"}, nil
		}
	}

	targetInfo, err := v.backend.Stat(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to stat target: %w", err)
	}
	refInfo, err := v.backend.Stat(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to stat reference: %w", err)
	}
	if targetInfo.Size != refInfo.Size {
		return &Result{Reason: fmt.Sprintf("size mismatch: target=%d, reference=%d", targetInfo.Size, refInfo.Size)}, nil
	}

	tr, err := v.backend.Read(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to open target: %w", err)
	}
	defer tr.Close()
	rr, err := v.backend.Read(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference: %w", err)
	}
	defer rr.Close()

	size := targetInfo.Size
	ta, okT := tr.(io.ReaderAt)
	ra, okR := rr.(io.ReaderAt)
	if size <= FullCompareLimit || !okT || !okR {
		return v.compareStreams(ctx, ratelimit.NewReader(ctx, tr, v.limiter), ratelimit.NewReader(ctx, rr, v.limiter))
	}
	return v.compareSampled(ctx, ta, ra, size)
}

func (v *Verifier) compareStreams(ctx context.Context, a, b io.Reader) (*Result, error) {
	bufA := v.bufferPool.Get().(*[]byte)
	defer v.bufferPool.Put(bufA)
	bufB := v.bufferPool.Get().(*[]byte)
	defer v.bufferPool.Put(bufB)

	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		na, errA := io.ReadFull(a, *bufA)
		nb, errB := io.ReadFull(b, *bufB)
		if errA != nil && errA != io.EOF && errA != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read target: %w", errA)
		}
		if errB != nil && errB != io.EOF && errB != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("failed to read reference: %w", errB)
		}

		if na != nb || !bytes.Equal((*bufA)[:na], (*bufB)[:nb]) {
			return &Result{Reason: fmt.Sprintf("content differs at byte offset %d", offset+firstDiff((*bufA)[:na], (*bufB)[:nb]))}, nil
		}
		offset += int64(na)

		if errA != nil {
			break
		}
	}
	return &Result{Same: true, Reason: fmt.Sprintf("content matches (%d bytes)", offset)}, nil
}

func (v *Verifier) compareSampled(ctx context.Context, a, b io.ReaderAt, size int64) (*Result, error) {
	segments := []struct {
		name   string
		offset int64
		length int64
	}{
		{"head", 0, headBytes},
		{"middle", size/2 - middleBytes/2, middleBytes},
		{"tail", size - tailBytes, tailBytes},
	}

	for _, s := range segments {
		res, err := v.compareStreams(ctx,
			ratelimit.NewReader(ctx, io.NewSectionReader(a, s.offset, s.length), v.limiter),
			ratelimit.NewReader(ctx, io.NewSectionReader(b, s.offset, s.length), v.limiter),
		)
		if err != nil {
			return nil, err
		}
		if !res.Same {
			return &Result{Sampled: true, Reason: fmt.Sprintf("%s sample differs", s.name)}, nil
		}
	}
	return &Result{Same: true, Sampled: true, Reason: fmt.Sprintf("sampled content matches (%d bytes)", size)}, nil
}

func firstDiff(a, b []byte) int64 {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return int64(i)
		}
	}
	return int64(n)
}
