// Package record defines the record type carried between sources, the buffer and sinks.
package record

import (
	"fmt"
	"time"
)

// Origin values identify which source produced a record.
const (
	OriginKafka = "kafka"
	OriginHTTP  = "http"
)

// UnassignedPartition is reported by PartitionID for records without a routing partition.
const UnassignedPartition int32 = -1

// Header is a single record header. Order is preserved.
type Header struct {
	Key   string
	Value []byte
}

// SourceMetadata describes where a record was read from.
// Offset is only meaningful for kafka-origin records.
type SourceMetadata struct {
	Origin    string
	Topic     string
	Partition int32
	Offset    int64
}

// Record is an immutable key/value record routed to a destination topic.
// Once handed to a buffer, neither the producer nor the buffer may modify it.
type Record struct {
	ID        string
	Topic     string
	Partition *int32
	Key       []byte
	Value     []byte
	Headers   []Header
	Timestamp time.Time
	Source    SourceMetadata
}

// PartitionID uniquely identifies a topic partition.
type PartitionID struct {
	Topic     string
	Partition int32
}

// String returns a string representation of the partition ID in the format "topic-partition".
func (p PartitionID) String() string {
	return fmt.Sprintf("%s-%d", p.Topic, p.Partition)
}

// PartitionID returns the destination partition of the record.
func (r *Record) PartitionID() PartitionID {
	if r.Partition == nil {
		return PartitionID{Topic: r.Topic, Partition: UnassignedPartition}
	}
	return PartitionID{Topic: r.Topic, Partition: *r.Partition}
}

// Header returns the value of the first header with the given key.
func (r *Record) Header(key string) ([]byte, bool) {
	for _, h := range r.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

// EventTime returns the record timestamp, or the zero time when unset.
func (r *Record) EventTime() time.Time {
	return r.Timestamp
}

// Size estimates the in-memory payload size of the record in bytes.
func (r *Record) Size() int {
	size := len(r.ID) + len(r.Topic) + len(r.Key) + len(r.Value)
	for _, h := range r.Headers {
		size += len(h.Key) + len(h.Value)
	}
	return size
}

// FileStats contains statistics about an encoded file.
type FileStats struct {
	RecordCount    int
	SizeBytes      int64
	FirstWriteTime time.Time
	LastWriteTime  time.Time
}

// FileFormat represents the storage file format.
type FileFormat string

const (
	FormatParquet FileFormat = "parquet"
	FormatAvro    FileFormat = "avro"
)

// Int32 returns a pointer to v, for building records with a routing partition.
func Int32(v int32) *int32 {
	return &v
}
