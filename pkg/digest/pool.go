package digest

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/sdejongh/salvage/pkg/models"
)

// defaultBackoff is the delay before the first retry; later retries wait
// proportionally longer
const defaultBackoff = 100 * time.Millisecond

// Pool hashes batches of records concurrently with a bounded number of workers
type Pool struct {
	hasher    *Hasher
	workers   int
	retries   int
	backoff   time.Duration
	semaphore chan struct{}

	// OnRecord is called after each record is resolved (err is nil on success)
	OnRecord func(record *models.FileRecord, err error)
}

// NewPool creates a pool; workers < 1 means one per CPU
func NewPool(hasher *Hasher, workers, retries int) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	if retries < 0 {
		retries = 0
	}
	return &Pool{
		hasher:    hasher,
		workers:   workers,
		retries:   retries,
		backoff:   defaultBackoff,
		semaphore: make(chan struct{}, workers),
	}
}

// Workers returns the number of concurrent hashing goroutines
func (p *Pool) Workers() int {
	return p.workers
}

func (p *Pool) setBackoff(d time.Duration) {
	p.backoff = d
}

// HashAll resolves the digest of every record. Records whose digest is
// already known (from a manifest) are not read again. Completion order is
// unspecified.
//
// Each failed record is returned as a ReadFailure, in input order. If ctx is
// cancelled, pending records are left unresolved and ctx.Err() is returned.
func (p *Pool) HashAll(ctx context.Context, records []*models.FileRecord) ([]*models.ReadFailure, error) {
	failures := make([]*models.ReadFailure, len(records))
	var wg sync.WaitGroup

dispatch:
	for i, rec := range records {
		select {
		case <-ctx.Done():
			break dispatch
		case p.semaphore <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, rec *models.FileRecord) {
			defer wg.Done()
			defer func() { <-p.semaphore }()

			_, err := rec.ResolveDigest(func(path string) (string, error) {
				return p.hashWithRetry(ctx, path)
			})
			if err != nil {
				failures[i] = &models.ReadFailure{Path: rec.Path, Err: err}
			}
			if p.OnRecord != nil {
				p.OnRecord(rec, err)
			}
		}(i, rec)
	}

	wg.Wait()

	var out []*models.ReadFailure
	for _, f := range failures {
		if f != nil {
			out = append(out, f)
		}
	}
	return out, ctx.Err()
}

func (p *Pool) hashWithRetry(ctx context.Context, path string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * p.backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		d, err := p.hasher.HashFile(ctx, path)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}
