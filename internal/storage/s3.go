package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/encoder"
	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
	"github.com/jittakal/kafsource/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*S3Writer)(nil)

// S3Config contains AWS S3 configuration.
type S3Config struct {
	Bucket       string
	Region       string
	Endpoint     string
	UsePathStyle bool
	SSEEnabled   bool
	SSEKMSKeyID  string
}

// S3Writer implements storage.Writer for AWS S3 with multipart uploads
// and optional server-side encryption.
type S3Writer struct {
	uploader       *manager.Uploader
	bucket         string
	format         record.FileFormat
	sseEnabled     bool
	sseKMSKeyID    string
	encoderFactory *encoder.Factory
	logger         *zap.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewS3Writer creates a new S3 storage writer.
func NewS3Writer(
	ctx context.Context,
	cfg S3Config,
	format record.FileFormat,
	compression string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*S3Writer, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	uploader := manager.NewUploader(s3Client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
	})

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("S3 writer created",
		zap.String("bucket", cfg.Bucket),
		zap.String("region", cfg.Region),
		zap.String("format", string(format)),
		zap.Bool("sse_enabled", cfg.SSEEnabled))

	return &S3Writer{
		uploader:       uploader,
		bucket:         cfg.Bucket,
		format:         format,
		sseEnabled:     cfg.SSEEnabled,
		sseKMSKeyID:    cfg.SSEKMSKeyID,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metricsOrNop(metrics),
	}, nil
}

// Write encodes records to a temporary file and uploads it under dir.
func (w *S3Writer) Write(ctx context.Context, records []record.Record, dir string) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	encoded, err := encodeTemp(w.encoderFactory, records, "s3")
	if err != nil {
		w.metrics.IncStorageErrors("s3", "encode")
		return 0, err
	}
	defer encoded.remove()

	file, err := os.Open(encoded.path)
	if err != nil {
		w.metrics.IncStorageErrors("s3", "file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	key := objectKey(dir, "s3") + fileName(startTime, encoded.ext)
	input := w.putObjectInput(key)
	input.Body = file

	result, err := w.uploader.Upload(ctx, input)
	if err != nil {
		w.metrics.IncStorageErrors("s3", "upload")
		return 0, &errors.StorageError{Operation: "upload", Path: key, Err: err}
	}

	duration := time.Since(startTime)
	w.logger.Info("Wrote records to S3",
		zap.String("bucket", w.bucket),
		zap.String("key", key),
		zap.String("location", result.Location),
		zap.Int("record_count", encoded.stats.RecordCount),
		zap.Int64("file_size", encoded.stats.SizeBytes),
		zap.Duration("duration", duration))

	topic := records[0].Topic
	w.metrics.IncFilesWritten(topic, string(w.format), "success")
	w.metrics.ObserveFileSize(topic, string(w.format), float64(encoded.stats.SizeBytes))
	w.metrics.ObserveStorageWriteDuration("s3", duration.Seconds())

	return encoded.stats.SizeBytes, nil
}

// putObjectInput builds the upload request for key, without a body.
func (w *S3Writer) putObjectInput(key string) *s3.PutObjectInput {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType(w.format)),
	}

	if w.sseEnabled {
		if w.sseKMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(w.sseKMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}
	return input
}

// Close closes the S3 writer.
func (w *S3Writer) Close() error {
	w.logger.Info("Closing S3 writer")
	return nil
}
