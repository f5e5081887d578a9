package storage

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/encoder"
	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
	"github.com/jittakal/kafsource/pkg/storage"
)

// Ensure implementation satisfies interface at compile time.
var _ storage.Writer = (*AzureWriter)(nil)

// AzureConfig contains Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName   string
	AccountKey    string
	ContainerName string
	Endpoint      string
}

// connectionString builds a shared-key connection string, pointing at Endpoint when set (e.g. Azurite).
func (c AzureConfig) connectionString() string {
	if c.Endpoint != "" {
		return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;BlobEndpoint=%s",
			c.AccountName, c.AccountKey, c.Endpoint)
	}
	return fmt.Sprintf("DefaultEndpointsProtocol=https;AccountName=%s;AccountKey=%s;EndpointSuffix=core.windows.net",
		c.AccountName, c.AccountKey)
}

// AzureWriter implements storage.Writer for Azure Blob Storage.
type AzureWriter struct {
	client         *azblob.Client
	containerName  string
	format         record.FileFormat
	encoderFactory *encoder.Factory
	logger         *zap.Logger
	metrics        MetricsCollector
	mu             sync.Mutex
}

// NewAzureWriter creates a new Azure Blob storage writer.
func NewAzureWriter(
	cfg AzureConfig,
	format record.FileFormat,
	compression string,
	logger *zap.Logger,
	metrics MetricsCollector,
) (*AzureWriter, error) {
	client, err := azblob.NewClientFromConnectionString(cfg.connectionString(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	encoderFactory := encoder.NewFactory(format, compression)
	if _, err := encoderFactory.CreateEncoder(); err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	logger.Info("Azure writer created",
		zap.String("container", cfg.ContainerName),
		zap.String("account", cfg.AccountName),
		zap.String("format", string(format)))

	return &AzureWriter{
		client:         client,
		containerName:  cfg.ContainerName,
		format:         format,
		encoderFactory: encoderFactory,
		logger:         logger,
		metrics:        metricsOrNop(metrics),
	}, nil
}

// Write encodes records to a temporary file and uploads it as a block blob under dir.
func (w *AzureWriter) Write(ctx context.Context, records []record.Record, dir string) (int64, error) {
	if len(records) == 0 {
		return 0, fmt.Errorf("no records to write")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	startTime := time.Now()

	encoded, err := encodeTemp(w.encoderFactory, records, "azure")
	if err != nil {
		w.metrics.IncStorageErrors("azure", "encode")
		return 0, err
	}
	defer encoded.remove()

	file, err := os.Open(encoded.path)
	if err != nil {
		w.metrics.IncStorageErrors("azure", "file_open")
		return 0, fmt.Errorf("failed to open encoded file: %w", err)
	}
	defer file.Close()

	blobPath := objectKey(dir, "wasbs") + fileName(startTime, encoded.ext)
	ct := contentType(w.format)
	_, err = w.client.UploadFile(ctx, w.containerName, blobPath, file, &azblob.UploadFileOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &ct},
	})
	if err != nil {
		w.metrics.IncStorageErrors("azure", "upload")
		return 0, &errors.StorageError{Operation: "upload", Path: blobPath, Err: err}
	}

	duration := time.Since(startTime)
	w.logger.Info("Wrote records to Azure Blob",
		zap.String("container", w.containerName),
		zap.String("blob", blobPath),
		zap.Int("record_count", encoded.stats.RecordCount),
		zap.Int64("file_size", encoded.stats.SizeBytes),
		zap.Duration("duration", duration))

	topic := records[0].Topic
	w.metrics.IncFilesWritten(topic, string(w.format), "success")
	w.metrics.ObserveFileSize(topic, string(w.format), float64(encoded.stats.SizeBytes))
	w.metrics.ObserveStorageWriteDuration("azure", duration.Seconds())

	return encoded.stats.SizeBytes, nil
}

// Close closes the Azure writer.
func (w *AzureWriter) Close() error {
	w.logger.Info("Azure writer closed")
	return nil
}
