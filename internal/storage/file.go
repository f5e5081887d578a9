package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/encoder"
	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
	"github.com/jittakal/kafsource/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*FileWriter)(nil)

// FileConfig contains local filesystem configuration.
type FileConfig struct {
	BasePath string
}

// FileWriter implements storage.Writer for local filesystem storage.
// Files are encoded directly into a directory tree under the base path.
type FileWriter struct {
	basePath       string
	format         record.FileFormat
	encoderFactory *encoder.Factory
	logger         *zap.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewFileWriter creates a new filesystem storage writer.
func NewFileWriter(
	config FileConfig,
	format record.FileFormat,
	compression string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*FileWriter, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("Filesystem writer created",
		zap.String("base_path", config.BasePath),
		zap.String("format", string(format)),
		zap.String("compression", compression))

	return &FileWriter{
		basePath:       config.BasePath,
		format:         format,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metricsOrNop(metrics),
	}, nil
}

// Write encodes records into a new file under dir, relative to the base path.
func (w *FileWriter) Write(ctx context.Context, records []record.Record, dir string) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	fileEncoder, err := w.encoderFactory.CreateEncoder()
	if err != nil {
		w.metrics.IncStorageErrors("file", "encoder_create")
		return 0, fmt.Errorf("failed to create encoder: %w", err)
	}

	fullDir := filepath.Join(w.basePath, strings.TrimPrefix(dir, "file://"))
	fullPath := filepath.Join(fullDir, fileName(startTime, fileEncoder.FileExtension()))

	if err := os.MkdirAll(fullDir, 0755); err != nil {
		w.metrics.IncStorageErrors("file", "mkdir")
		return 0, &errors.StorageError{Operation: "create", Path: fullDir, Err: err}
	}

	stats, err := fileEncoder.Encode(fullPath, records)
	if err != nil {
		w.metrics.IncStorageErrors("file", "encode")
		return 0, &errors.StorageError{Operation: "write", Path: fullPath, Err: err}
	}

	duration := time.Since(startTime)
	w.logger.Info("Wrote records to file",
		zap.String("path", fullPath),
		zap.Int("record_count", stats.RecordCount),
		zap.Int64("file_size", stats.SizeBytes),
		zap.Duration("duration", duration))

	topic := records[0].Topic
	w.metrics.IncFilesWritten(topic, string(w.format), "success")
	w.metrics.ObserveFileSize(topic, string(w.format), float64(stats.SizeBytes))
	w.metrics.ObserveStorageWriteDuration("file", duration.Seconds())

	return stats.SizeBytes, nil
}

// Close closes the writer.
func (w *FileWriter) Close() error {
	w.logger.Info("Closing filesystem writer")
	return nil
}
