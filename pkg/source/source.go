// Package source defines the producer side of the record buffer.
//
// Sources read records from upstream systems and admit them into a buffer.
package source

import (
	"context"

	"github.com/jittakal/kafsource/pkg/record"
)

// Listener reads records from an upstream system until ctx is done.
type Listener interface {
	// Run blocks, admitting records into the buffer, until ctx is done or a fatal error occurs.
	Run(ctx context.Context) error

	// Close closes the listener and releases resources.
	Close() error
}

// OffsetCommitter acknowledges records once a sink has accepted them.
// Records from other origins must be ignored.
type OffsetCommitter interface {
	Commit(ctx context.Context, records []record.Record) error
}
