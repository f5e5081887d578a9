package encoder

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/linkedin/goavro/v2"

	"github.com/jittakal/kafsource/pkg/encoder"
	"github.com/jittakal/kafsource/pkg/record"
)

// Ensure implementation satisfies interface at compile time.
var _ encoder.Encoder = (*AvroEncoder)(nil)

// AvroEncoder implements encoder.Encoder for the Avro OCF (Object Container File) format,
// with optional gzip compression of the whole file.
type AvroEncoder struct {
	codec       *goavro.Codec
	compression string
}

// NewAvroEncoder creates a new Avro encoder with specified compression.
func NewAvroEncoder(compression string) (*AvroEncoder, error) {
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}

	return &AvroEncoder{
		codec:       codec,
		compression: compression,
	}, nil
}

const avroSchema = `{
	"type": "record",
	"name": "ArchivedRecord",
	"namespace": "io.kafsource",
	"fields": [
		{"name": "id", "type": "string"},
		{"name": "topic", "type": "string"},
		{"name": "partition", "type": ["null", "int"], "default": null},
		{"name": "key", "type": "bytes"},
		{"name": "value", "type": "bytes"},
		{"name": "headers", "type": "string"},
		{"name": "event_time", "type": "string"},
		{"name": "source_origin", "type": "string"},
		{"name": "source_topic", "type": "string"},
		{"name": "source_partition", "type": "int"},
		{"name": "source_offset", "type": "long"},
		{"name": "archived_at", "type": "string"}
	]
}`

func (e *AvroEncoder) gzipped() bool {
	return e.compression == "gzip" || e.compression == "GZIP"
}

// Encode writes records to an Avro file.
func (e *AvroEncoder) Encode(filePath string, records []record.Record) (*record.FileStats, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if err := e.encodeTo(file, records); err != nil {
		return nil, err
	}

	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return fileStats(filePath, records)
}

// EncodeToBytes encodes records to an in-memory OCF file.
func (e *AvroEncoder) EncodeToBytes(records []record.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to encode")
	}

	var buf bytes.Buffer
	if err := e.encodeTo(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *AvroEncoder) encodeTo(w io.Writer, records []record.Record) error {
	var gzipWriter *gzip.Writer
	if e.gzipped() {
		gzipWriter = gzip.NewWriter(w)
		w = gzipWriter
	}

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     w,
		Codec: e.codec,
	})
	if err != nil {
		return fmt.Errorf("failed to create OCF writer: %w", err)
	}

	archivedAt := time.Now().UTC()
	for i := range records {
		datum, err := toAvroMap(&records[i], archivedAt)
		if err != nil {
			return fmt.Errorf("failed to convert record %d: %w", i, err)
		}

		if err := ocfWriter.Append([]interface{}{datum}); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if gzipWriter != nil {
		if err := gzipWriter.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
	}
	return nil
}

func toAvroMap(rec *record.Record, archivedAt time.Time) (map[string]interface{}, error) {
	headers, err := headersToJSON(rec.Headers)
	if err != nil {
		return nil, err
	}

	key := rec.Key
	if key == nil {
		key = []byte{}
	}
	value := rec.Value
	if value == nil {
		value = []byte{}
	}

	datum := map[string]interface{}{
		"id":               rec.ID,
		"topic":            rec.Topic,
		"key":              key,
		"value":            value,
		"headers":          headers,
		"event_time":       rec.EventTime().Format(time.RFC3339Nano),
		"source_origin":    rec.Source.Origin,
		"source_topic":     rec.Source.Topic,
		"source_partition": rec.Source.Partition,
		"source_offset":    rec.Source.Offset,
		"archived_at":      archivedAt.Format(time.RFC3339Nano),
	}

	if rec.Partition != nil {
		datum["partition"] = goavro.Union("int", *rec.Partition)
	} else {
		datum["partition"] = nil
	}

	return datum, nil
}

// Format returns the file format.
func (e *AvroEncoder) Format() record.FileFormat {
	return record.FormatAvro
}

// FileExtension returns the file extension.
func (e *AvroEncoder) FileExtension() string {
	if e.gzipped() {
		return ".avro.gz"
	}
	return ".avro"
}
