// Package buffer implements a capacity-bounded record buffer with backpressure.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/buffer"
	"github.com/jittakal/kafsource/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ buffer.RecordBuffer = (*BoundedRecordBuffer)(nil)

// BoundedRecordBuffer is a FIFO of records shared by many writers and a draining consumer.
// Writers wait while the buffer is full and fail with *errors.CapacityTimeoutError
// once the wait exceeds the configured timeout.
type BoundedRecordBuffer struct {
	capacity     int
	batchSize    int
	emptyWait    time.Duration
	pollInterval time.Duration
	waitTimeout  time.Duration
	limiter      buffer.RateLimiter
	clock        clockwork.Clock
	observer     buffer.Observer
	logger       *zap.Logger

	mu      sync.Mutex
	records []record.Record
	// spaceFreed is closed and replaced by every drain that removes records.
	spaceFreed chan struct{}
}

// New creates a buffer from cfg. It returns a *errors.ConfigError if cfg is invalid.
func New(cfg Config) (*BoundedRecordBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &BoundedRecordBuffer{
		capacity:     cfg.MaximumCapacity,
		batchSize:    cfg.BatchSize,
		emptyWait:    cfg.EmptyWaitDuration,
		pollInterval: cfg.CapacityPollInterval,
		waitTimeout:  cfg.CapacityWaitTimeout,
		limiter:      cfg.WriteRateLimiter,
		clock:        cfg.Clock,
		observer:     cfg.Observer,
		logger:       cfg.Logger,
		spaceFreed:   make(chan struct{}),
	}, nil
}

// Add admits a single record. See AddAll.
func (b *BoundedRecordBuffer) Add(ctx context.Context, rec record.Record) error {
	return b.admit(ctx, []record.Record{rec})
}

// AddAll admits every record in recs, in order, or none of them.
//
// The write rate limiter is consulted first. The batch then waits until it fits
// entirely. A batch larger than the capacity fails immediately with
// errors.ErrBatchExceedsCapacity.
func (b *BoundedRecordBuffer) AddAll(ctx context.Context, recs []record.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return b.admit(ctx, recs)
}

func (b *BoundedRecordBuffer) admit(ctx context.Context, recs []record.Record) error {
	n := len(recs)
	if n > b.capacity {
		b.observer.ObserveRejected(n, RejectBatchTooLarge)
		return fmt.Errorf("%w: batch of %d records, capacity %d", errors.ErrBatchExceedsCapacity, n, b.capacity)
	}

	if b.limiter != nil {
		if err := b.limiter.Acquire(ctx, n); err != nil {
			b.observer.ObserveRejected(n, RejectRateLimit)
			return fmt.Errorf("acquire %d write permits: %w", n, err)
		}
	}

	start := b.clock.Now()

	b.mu.Lock()
	for b.capacity-len(b.records) < n {
		freed := b.spaceFreed
		b.mu.Unlock()

		if err := b.awaitSpace(ctx, freed, start, n); err != nil {
			return err
		}

		b.mu.Lock()
	}
	b.records = append(b.records, recs...)
	size := len(b.records)
	b.mu.Unlock()

	b.observer.ObserveAdmitted(n, b.clock.Since(start))
	b.observer.SetBuffered(size)
	return nil
}

// awaitSpace blocks until a drain frees space, the poll interval elapses or ctx is done.
// It fails once the total wait since start reaches the capacity wait timeout.
func (b *BoundedRecordBuffer) awaitSpace(ctx context.Context, freed <-chan struct{}, start time.Time, n int) error {
	waited := b.clock.Since(start)
	if waited >= b.waitTimeout {
		b.observer.ObserveRejected(n, RejectCapacityTimeout)
		b.logger.Warn("Buffer capacity wait timed out",
			zap.Int("capacity", b.capacity),
			zap.Int("requested", n),
			zap.Duration("waited", waited))
		return &errors.CapacityTimeoutError{Capacity: b.capacity, Requested: n, Waited: waited}
	}

	timer := b.clock.NewTimer(min(b.pollInterval, b.waitTimeout-waited))
	defer timer.Stop()

	select {
	case <-freed:
	case <-timer.Chan():
	case <-ctx.Done():
		b.observer.ObserveRejected(n, RejectCanceled)
		return ctx.Err()
	}
	return nil
}

// Drain moves up to one batch of records, oldest first, onto the end of out.
//
// When records are available they are returned immediately with true, even if
// fewer than a full batch. When the buffer is empty Drain waits once for the
// empty wait duration (or until ctx is done) and returns out unchanged with false.
func (b *BoundedRecordBuffer) Drain(ctx context.Context, out []record.Record) ([]record.Record, bool) {
	b.mu.Lock()
	n := min(len(b.records), b.batchSize)
	if n == 0 {
		b.mu.Unlock()
		b.observer.ObserveEmptyPoll()
		b.waitEmpty(ctx)
		return out, false
	}

	if out == nil {
		out = make([]record.Record, 0, n)
	}
	out = append(out, b.records[:n]...)

	// Zero the vacated slots so the buffer keeps no reference to drained records.
	clear(b.records[:n])
	b.records = b.records[n:]
	if len(b.records) == 0 {
		b.records = nil
	}

	close(b.spaceFreed)
	b.spaceFreed = make(chan struct{})
	size := len(b.records)
	b.mu.Unlock()

	b.observer.ObserveDrained(n)
	b.observer.SetBuffered(size)
	return out, true
}

// DrainBatch is Drain into a fresh slice.
func (b *BoundedRecordBuffer) DrainBatch(ctx context.Context) ([]record.Record, bool) {
	return b.Drain(ctx, nil)
}

func (b *BoundedRecordBuffer) waitEmpty(ctx context.Context) {
	if b.emptyWait <= 0 {
		return
	}

	timer := b.clock.NewTimer(b.emptyWait)
	defer timer.Stop()

	select {
	case <-timer.Chan():
	case <-ctx.Done():
	}
}

// Len returns the number of records currently held.
func (b *BoundedRecordBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Capacity returns the maximum number of records held at once.
func (b *BoundedRecordBuffer) Capacity() int {
	return b.capacity
}

// BatchSize returns the maximum number of records returned per drain.
func (b *BoundedRecordBuffer) BatchSize() int {
	return b.batchSize
}

// FillRatio returns Len divided by Capacity.
func (b *BoundedRecordBuffer) FillRatio() float64 {
	return float64(b.Len()) / float64(b.capacity)
}
