package buffer

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/buffer"
)

var _ buffer.RateLimiter = (*TokenBucket)(nil)

// TokenBucket is a buffer.RateLimiter backed by golang.org/x/time/rate.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket creates a limiter refilling recordsPerSecond permits per second
// with at most burst permits available at once.
func NewTokenBucket(recordsPerSecond float64, burst int) (*TokenBucket, error) {
	if recordsPerSecond <= 0 {
		return nil, &errors.ConfigError{Field: "records_per_second", Value: recordsPerSecond, Reason: "must be greater than 0"}
	}
	if burst <= 0 {
		return nil, &errors.ConfigError{Field: "burst", Value: burst, Reason: "must be greater than 0"}
	}
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(recordsPerSecond), burst)}, nil
}

// Acquire blocks until n permits are available or ctx is done.
// Requests larger than the burst are served in burst-sized chunks.
func (t *TokenBucket) Acquire(ctx context.Context, n int) error {
	burst := t.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := t.limiter.WaitN(ctx, chunk); err != nil {
			return fmt.Errorf("wait for %d permits: %w", chunk, err)
		}
		n -= chunk
	}
	return nil
}
