// Package encoder implements encoder factory for creating file format encoders.
package encoder

import (
	"fmt"

	"github.com/jittakal/kafsource/pkg/encoder"
	"github.com/jittakal/kafsource/pkg/record"
)

// Factory creates encoders based on format and configuration.
type Factory struct {
	format      record.FileFormat
	compression string
}

// NewFactory creates a new encoder factory.
func NewFactory(format record.FileFormat, compression string) *Factory {
	return &Factory{
		format:      format,
		compression: compression,
	}
}

// CreateEncoder creates an encoder based on the configured format.
func (f *Factory) CreateEncoder() (encoder.Encoder, error) {
	switch f.format {
	case record.FormatParquet:
		return NewParquetEncoder(f.compression), nil
	case record.FormatAvro:
		return NewAvroEncoder(f.compression)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", f.format)
	}
}

// SupportedFormats returns a list of supported file formats.
func SupportedFormats() []record.FileFormat {
	return []record.FileFormat{
		record.FormatParquet,
		record.FormatAvro,
	}
}

// SupportedCompressions returns supported compression codecs for a given format.
func SupportedCompressions(format record.FileFormat) []string {
	switch format {
	case record.FormatParquet:
		return []string{"uncompressed", "snappy", "gzip", "lz4", "zstd"}
	case record.FormatAvro:
		return []string{"uncompressed", "gzip"}
	default:
		return []string{}
	}
}

// DefaultCompression returns the default compression for a format.
func DefaultCompression(format record.FileFormat) string {
	switch format {
	case record.FormatParquet:
		return "snappy"
	case record.FormatAvro:
		return "gzip"
	default:
		return "uncompressed"
	}
}
