package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/jittakal/kafsource/internal/encoder"
	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
	pkgstorage "github.com/jittakal/kafsource/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ pkgstorage.Writer = (*GCSWriter)(nil)

// GCSConfig contains Google Cloud Storage configuration.
type GCSConfig struct {
	Bucket               string
	ProjectID            string
	CredentialsFile      string
	CredentialsJSON      string
	Endpoint             string
	UseDefaultCredential bool
}

// clientOptions selects the GCS authentication method.
// Default credentials win, then inline JSON, then a credentials file.
func (c GCSConfig) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if c.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.Endpoint))
	}

	switch {
	case c.UseDefaultCredential:
	case c.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(c.CredentialsJSON)))
	case c.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	return opts
}

// GCSWriter implements storage.Writer for Google Cloud Storage.
type GCSWriter struct {
	client         *storage.Client
	bucket         string
	format         record.FileFormat
	encoderFactory *encoder.Factory
	logger         *zap.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewGCSWriter creates a new Google Cloud Storage writer.
func NewGCSWriter(
	ctx context.Context,
	cfg GCSConfig,
	format record.FileFormat,
	compression string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*GCSWriter, error) {
	client, err := storage.NewClient(ctx, cfg.clientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("GCS writer created",
		zap.String("bucket", cfg.Bucket),
		zap.String("project_id", cfg.ProjectID),
		zap.String("format", string(format)))

	return &GCSWriter{
		client:         client,
		bucket:         cfg.Bucket,
		format:         format,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metricsOrNop(metrics),
	}, nil
}

// Write encodes records to a temporary file and uploads it under dir.
func (w *GCSWriter) Write(ctx context.Context, records []record.Record, dir string) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	encoded, err := encodeTemp(w.encoderFactory, records, "gcs")
	if err != nil {
		w.metrics.IncStorageErrors("gcs", "encode")
		return 0, err
	}
	defer encoded.remove()

	file, err := os.Open(encoded.path)
	if err != nil {
		w.metrics.IncStorageErrors("gcs", "file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	objectPath := objectKey(dir, "gs") + fileName(startTime, encoded.ext)
	gcsWriter := w.client.Bucket(w.bucket).Object(objectPath).NewWriter(ctx)
	gcsWriter.ContentType = contentType(w.format)

	if _, err := io.Copy(gcsWriter, file); err != nil {
		w.metrics.IncStorageErrors("gcs", "upload")
		gcsWriter.Close()
		return 0, &errors.StorageError{Operation: "upload", Path: objectPath, Err: err}
	}

	// Close finalizes the upload.
	if err := gcsWriter.Close(); err != nil {
		w.metrics.IncStorageErrors("gcs", "close")
		return 0, &errors.StorageError{Operation: "upload", Path: objectPath, Err: err}
	}

	duration := time.Since(startTime)
	w.logger.Info("Wrote records to GCS",
		zap.String("bucket", w.bucket),
		zap.String("object", objectPath),
		zap.Int("record_count", encoded.stats.RecordCount),
		zap.Int64("file_size", encoded.stats.SizeBytes),
		zap.Duration("duration", duration))

	topic := records[0].Topic
	w.metrics.IncFilesWritten(topic, string(w.format), "success")
	w.metrics.ObserveFileSize(topic, string(w.format), float64(encoded.stats.SizeBytes))
	w.metrics.ObserveStorageWriteDuration("gcs", duration.Seconds())

	return encoded.stats.SizeBytes, nil
}

// Close closes the GCS client.
func (w *GCSWriter) Close() error {
	w.logger.Info("Closing GCS writer")
	return w.client.Close()
}
