// Package storage defines interfaces for record archive storage.
//
// This package provides abstractions for writing record files to various
// storage backends (S3, GCS, Azure Blob, local filesystem).
package storage

import (
	"context"
	"time"

	"github.com/jittakal/kafsource/pkg/record"
)

// Writer writes record files to storage.
type Writer interface {
	// Write encodes records into a new file under dir.
	// Returns the number of bytes written.
	Write(ctx context.Context, records []record.Record, dir string) (int64, error)

	// Close closes the writer and releases resources.
	Close() error
}

// Router determines storage directories for records based on partitioning strategy.
type Router interface {
	// Route returns the storage directory for a partition at the given event time.
	Route(partitionID record.PartitionID, eventTime time.Time) string
}

// RotationPolicy determines when the current file is full and a new one must be started.
type RotationPolicy interface {
	// ShouldRotate returns true if a file with the given stats must not grow further.
	ShouldRotate(stats record.FileStats) bool
}
