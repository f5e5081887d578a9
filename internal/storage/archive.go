package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
	"github.com/jittakal/kafsource/pkg/sink"
	pkgstorage "github.com/jittakal/kafsource/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ sink.Sink = (*ArchiveSink)(nil)

// ArchiveSink delivers batches as files: one or more per destination partition.
type ArchiveSink struct {
	writer pkgstorage.Writer
	router pkgstorage.Router
	policy pkgstorage.RotationPolicy
	logger *zap.Logger
	now    func() time.Time
}

// NewArchiveSink creates a sink writing through writer at the directories chosen by router.
// policy may be nil, in which case each partition group becomes a single file.
func NewArchiveSink(writer pkgstorage.Writer, router pkgstorage.Router, policy pkgstorage.RotationPolicy, logger *zap.Logger) *ArchiveSink {
	return &ArchiveSink{
		writer: writer,
		router: router,
		policy: policy,
		logger: logger.Named("archive"),
		now:    time.Now,
	}
}

// Name returns "archive".
func (s *ArchiveSink) Name() string {
	return "archive"
}

// Put writes the batch. Any file failing to write fails the whole batch.
func (s *ArchiveSink) Put(ctx context.Context, records []record.Record) error {
	for _, group := range groupByPartition(records) {
		for _, chunk := range s.split(group.records) {
			eventTime := chunk[0].EventTime()
			if eventTime.IsZero() {
				eventTime = s.now()
			}

			dir := s.router.Route(group.id, eventTime)
			if _, err := s.writer.Write(ctx, chunk, dir); err != nil {
				return &errors.DeliveryError{Sink: s.Name(), Records: len(records), Err: err}
			}
		}
	}

	s.logger.Debug("Archived batch", zap.Int("records", len(records)))
	return nil
}

// Close closes the underlying writer.
func (s *ArchiveSink) Close() error {
	return s.writer.Close()
}

type partitionGroup struct {
	id      record.PartitionID
	records []record.Record
}

// groupByPartition groups records by destination partition, keeping first-seen
// group order and record order within each group.
func groupByPartition(records []record.Record) []partitionGroup {
	index := make(map[record.PartitionID]int)
	var groups []partitionGroup
	for _, rec := range records {
		pid := rec.PartitionID()
		i, ok := index[pid]
		if !ok {
			i = len(groups)
			index[pid] = i
			groups = append(groups, partitionGroup{id: pid})
		}
		groups[i].records = append(groups[i].records, rec)
	}
	return groups
}

// split cuts a partition group into file-sized chunks according to the rotation policy.
func (s *ArchiveSink) split(records []record.Record) [][]record.Record {
	if s.policy == nil {
		return [][]record.Record{records}
	}

	var chunks [][]record.Record
	start := 0
	var stats record.FileStats
	for i := range records {
		rec := &records[i]
		stats.RecordCount++
		stats.SizeBytes += int64(rec.Size())
		if ts := rec.EventTime(); !ts.IsZero() {
			if stats.FirstWriteTime.IsZero() || ts.Before(stats.FirstWriteTime) {
				stats.FirstWriteTime = ts
			}
			if ts.After(stats.LastWriteTime) {
				stats.LastWriteTime = ts
			}
		}

		if s.policy.ShouldRotate(stats) {
			chunks = append(chunks, records[start:i+1])
			start = i + 1
			stats = record.FileStats{}
		}
	}
	if start < len(records) {
		chunks = append(chunks, records[start:])
	}
	return chunks
}
