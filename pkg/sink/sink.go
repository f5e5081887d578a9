// Package sink defines the destination side of the source task.
package sink

import (
	"context"

	"github.com/jittakal/kafsource/pkg/record"
)

// Sink receives drained record batches.
type Sink interface {
	// Put delivers a batch. A nil error means every record in the batch was accepted.
	// Implementations must not retain the slice after returning.
	Put(ctx context.Context, records []record.Record) error

	// Name identifies the sink in logs and metrics.
	Name() string

	// Close flushes and releases resources.
	Close() error
}

// DLQPublisher publishes records a sink rejected to a dead letter queue.
type DLQPublisher interface {
	// Publish sends a record to the DLQ with the failure reason.
	Publish(ctx context.Context, rec record.Record, reason string) error

	// Close closes the publisher and releases resources.
	Close() error
}
