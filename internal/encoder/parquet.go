// Package encoder implements file format encoders.
package encoder

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/jittakal/kafsource/pkg/encoder"
	"github.com/jittakal/kafsource/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*ParquetEncoder)(nil)

// RecordParquet is the Parquet schema for archived records.
// Timestamps use TIMESTAMP_MICROS for Athena compatibility.
type RecordParquet struct {
	ID        string `parquet:"id"`
	Topic     string `parquet:"topic,dict"`
	Partition *int32 `parquet:"partition,optional"`
	Key       []byte `parquet:"key"`
	Value     []byte `parquet:"value"`
	Headers   string `parquet:"headers"`

	EventTime time.Time `parquet:"event_time,timestamp(microsecond)"`

	// Source metadata
	SourceOrigin    string `parquet:"source_origin,dict"`
	SourceTopic     string `parquet:"source_topic,dict"`
	SourcePartition int32  `parquet:"source_partition"`
	SourceOffset    int64  `parquet:"source_offset"`

	ArchivedAt time.Time `parquet:"archived_at,timestamp(microsecond)"`
}

// ParquetEncoder implements encoder.Encoder for Apache Parquet columnar format.
// Supports multiple compression codecs: SNAPPY (default), GZIP, LZ4, ZSTD.
type ParquetEncoder struct {
	compressionName string
}

// NewParquetEncoder creates a new Parquet encoder with specified compression.
func NewParquetEncoder(compression string) *ParquetEncoder {
	return &ParquetEncoder{
		compressionName: compression,
	}
}

// compressionCodec converts string compression name to parquet WriterOption.
func compressionCodec(compression string) parquet.WriterOption {
	switch compression {
	case "snappy", "SNAPPY":
		return parquet.Compression(&parquet.Snappy)
	case "gzip", "GZIP":
		return parquet.Compression(&parquet.Gzip)
	case "lz4", "LZ4":
		return parquet.Compression(&parquet.Lz4Raw)
	case "zstd", "ZSTD":
		return parquet.Compression(&parquet.Zstd)
	case "uncompressed", "UNCOMPRESSED", "none", "NONE":
		return parquet.Compression(&parquet.Uncompressed)
	default:
		return parquet.Compression(&parquet.Snappy)
	}
}

// Encode writes records to a Parquet file.
func (e *ParquetEncoder) Encode(filePath string, records []record.Record) (*record.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	archivedAt := time.Now().UTC()
	rows := make([]RecordParquet, len(records))
	for i := range records {
		row, err := toParquetRow(&records[i], archivedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to convert record %d: %w", i, err)
		}
		rows[i] = row
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	writer := parquet.NewGenericWriter[RecordParquet](
		file,
		parquet.SchemaOf(new(RecordParquet)),
		compressionCodec(e.compressionName),
		parquet.CreatedBy("kafsource", "1.0", "0"),
	)

	if _, err := writer.Write(rows); err != nil {
		writer.Close()
		file.Close()
		return nil, fmt.Errorf("failed to write records: %w", err)
	}

	if err := writer.Close(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}

	// Close file before getting stats to ensure all data is flushed
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return fileStats(filePath, records)
}

func toParquetRow(rec *record.Record, archivedAt time.Time) (RecordParquet, error) {
	headers, err := headersToJSON(rec.Headers)
	if err != nil {
		return RecordParquet{}, err
	}

	return RecordParquet{
		ID:              rec.ID,
		Topic:           rec.Topic,
		Partition:       rec.Partition,
		Key:             rec.Key,
		Value:           rec.Value,
		Headers:         headers,
		EventTime:       rec.EventTime(),
		SourceOrigin:    rec.Source.Origin,
		SourceTopic:     rec.Source.Topic,
		SourcePartition: rec.Source.Partition,
		SourceOffset:    rec.Source.Offset,
		ArchivedAt:      archivedAt,
	}, nil
}

// fileStats stats an encoded file and reports the event time range of its records.
func fileStats(filePath string, records []record.Record) (*record.FileStats, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	first, last := records[0].EventTime(), records[0].EventTime()
	for i := range records[1:] {
		ts := records[i+1].EventTime()
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}

	return &record.FileStats{
		RecordCount:    len(records),
		SizeBytes:      fileInfo.Size(),
		FirstWriteTime: first,
		LastWriteTime:  last,
	}, nil
}

// Format returns the file format.
func (e *ParquetEncoder) Format() record.FileFormat {
	return record.FormatParquet
}

// FileExtension returns the file extension.
func (e *ParquetEncoder) FileExtension() string {
	return ".parquet"
}
