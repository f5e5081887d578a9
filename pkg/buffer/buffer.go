// Package buffer defines interfaces for record buffering between sources and sinks.
//
// Buffers decouple concurrent producers from a consumer that periodically
// drains batches, and apply backpressure when producers outpace the consumer.
package buffer

import (
	"context"
	"time"

	"github.com/jittakal/kafsource/pkg/record"
)

// Writer admits records into a buffer. All implementations must be goroutine-safe.
type Writer interface {
	// Add admits a single record, waiting for capacity if the buffer is full.
	Add(ctx context.Context, rec record.Record) error

	// AddAll admits all records or none of them, preserving their order.
	AddAll(ctx context.Context, recs []record.Record) error
}

// Reader drains batches of records in FIFO order.
type Reader interface {
	// Drain appends up to one batch of records to out.
	// It returns false when no records were available.
	Drain(ctx context.Context, out []record.Record) ([]record.Record, bool)

	// DrainBatch returns up to one batch of records in a fresh slice.
	DrainBatch(ctx context.Context) ([]record.Record, bool)
}

// RecordBuffer is a bounded FIFO of records shared by producers and a consumer.
type RecordBuffer interface {
	Writer
	Reader

	// Len returns the number of records currently held.
	Len() int

	// Capacity returns the maximum number of records the buffer holds.
	Capacity() int

	// BatchSize returns the maximum number of records returned per drain.
	BatchSize() int
}

// RateLimiter is a token bucket guarding the write path.
// Implementations must be goroutine-safe.
type RateLimiter interface {
	// Acquire blocks until n permits are available or ctx is done.
	Acquire(ctx context.Context, n int) error
}

// Observer receives buffer events, typically to export metrics.
type Observer interface {
	// ObserveAdmitted is called after n records were admitted following a wait.
	ObserveAdmitted(n int, wait time.Duration)

	// ObserveRejected is called when n records were not admitted.
	ObserveRejected(n int, reason string)

	// ObserveDrained is called after n records were drained.
	ObserveDrained(n int)

	// ObserveEmptyPoll is called when a drain found no records.
	ObserveEmptyPoll()

	// SetBuffered reports the number of records held after a change.
	SetBuffered(n int)
}
