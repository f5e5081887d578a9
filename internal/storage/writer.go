// Package storage implements archive storage writers and the archive sink.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jittakal/kafsource/internal/encoder"
	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
)

// MetricsCollector defines metrics operations for storage.
type MetricsCollector interface {
	IncFilesWritten(topic string, format string, status string)
	ObserveFileSize(topic string, format string, size float64)
	ObserveStorageWriteDuration(backend string, duration float64)
	IncStorageErrors(backend string, operation string)
}

type nopMetrics struct{}

func (nopMetrics) IncFilesWritten(string, string, string)      {}
func (nopMetrics) ObserveFileSize(string, string, float64)     {}
func (nopMetrics) ObserveStorageWriteDuration(string, float64) {}
func (nopMetrics) IncStorageErrors(string, string)             {}

func metricsOrNop(m MetricsCollector) MetricsCollector {
	if m == nil {
		return nopMetrics{}
	}
	return m
}

// fileName returns records_YYYYMMDD_HHMMSS_<id><ext>.
func fileName(now time.Time, ext string) string {
	return fmt.Sprintf("records_%s_%s%s", now.UTC().Format("20060102_150405"), uuid.NewString()[:8], ext)
}

// objectKey strips "scheme://bucket/" from a routed path, returning the object key prefix.
// Paths without the scheme are returned unchanged.
func objectKey(path, scheme string) string {
	prefix := scheme + "://"
	if !strings.HasPrefix(path, prefix) {
		return strings.TrimPrefix(path, "/")
	}
	parts := strings.SplitN(strings.TrimPrefix(path, prefix), "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// encodedFile is a batch encoded into a local temporary file awaiting upload.
type encodedFile struct {
	path  string
	ext   string
	stats *record.FileStats
}

func (f *encodedFile) remove() {
	os.Remove(f.path)
}

// encodeTemp encodes records into a temporary file for backends that upload from disk.
func encodeTemp(factory *encoder.Factory, records []record.Record, backend string) (*encodedFile, error) {
	enc, err := factory.CreateEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	tempFile := filepath.Join(os.TempDir(), fmt.Sprintf("%s-upload-%s%s", backend, uuid.NewString(), enc.FileExtension()))
	stats, err := enc.Encode(tempFile, records)
	if err != nil {
		os.Remove(tempFile)
		return nil, &errors.StorageError{Operation: "encode", Path: tempFile, Err: err}
	}

	return &encodedFile{path: tempFile, ext: enc.FileExtension(), stats: stats}, nil
}

// contentType returns the object content type for a file format.
func contentType(format record.FileFormat) string {
	if format == record.FormatAvro {
		return "application/avro"
	}
	return "application/octet-stream"
}
