package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/config/dto"
	"github.com/jittakal/kafsource/internal/encoder"
	"github.com/jittakal/kafsource/internal/kafka"
	"github.com/jittakal/kafsource/internal/observability"
	"github.com/jittakal/kafsource/internal/storage"
	"github.com/jittakal/kafsource/pkg/record"
	"github.com/jittakal/kafsource/pkg/sink"
	pkgstorage "github.com/jittakal/kafsource/pkg/storage"
)

// newSink creates the sink selected by sink.type.
func newSink(ctx context.Context, cfg *dto.ApplicationConfig, metrics *observability.Metrics, logger *zap.Logger) (sink.Sink, error) {
	switch cfg.Sink.Type {
	case "kafka":
		publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
			BootstrapServers: cfg.Kafka.BootstrapServers,
			Security:         securityConfig(cfg),
			RequiredAcks:     cfg.Kafka.Producer.RequiredAcks,
			Compression:      cfg.Kafka.Producer.Compression,
			Idempotent:       cfg.Kafka.Producer.Idempotent,
			MaxRetries:       cfg.Kafka.Producer.MaxRetries,
			Partitioner:      cfg.Kafka.Producer.Partitioner,
		}, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		return publisher, nil

	case "archive":
		writer, err := newStorageWriter(ctx, cfg, metrics, logger)
		if err != nil {
			return nil, err
		}
		router := storage.NewRouter(
			storageProtocol(cfg.Storage.Backend),
			storageBucket(cfg),
			cfg.Storage.BasePath,
			cfg.Storage.Version,
		)
		policy := storage.NewCompositePolicy(storage.PolicyConfig{
			MaxFileSizeMB:      cfg.Storage.Rotation.MaxFileSizeMB,
			MaxRecordsPerFile:  cfg.Storage.Rotation.MaxRecordsPerFile,
			MaxDurationSeconds: cfg.Storage.Rotation.MaxDurationSeconds,
		})
		return storage.NewArchiveSink(writer, router, policy, logger), nil

	default:
		return nil, fmt.Errorf("unsupported sink type: %s (supported: kafka, archive)", cfg.Sink.Type)
	}
}

func newStorageWriter(ctx context.Context, cfg *dto.ApplicationConfig, metrics *observability.Metrics, logger *zap.Logger) (pkgstorage.Writer, error) {
	format := record.FileFormat(cfg.Storage.Format)
	compression := cfg.Storage.Compression
	if compression == "" {
		compression = encoder.DefaultCompression(format)
	}

	switch cfg.Storage.Backend {
	case "file":
		writer, err := storage.NewFileWriter(storage.FileConfig{
			BasePath: cfg.Storage.File.BasePath,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create filesystem writer: %w", err)
		}
		return writer, nil
	case "s3":
		writer, err := storage.NewS3Writer(ctx, storage.S3Config{
			Bucket:       cfg.Storage.S3.Bucket,
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.UsePathStyle,
			SSEEnabled:   cfg.Storage.S3.SSEEnabled,
			SSEKMSKeyID:  cfg.Storage.S3.SSEKMSKeyID,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 writer: %w", err)
		}
		return writer, nil
	case "azure":
		writer, err := storage.NewAzureWriter(storage.AzureConfig{
			AccountName:   cfg.Storage.Azure.AccountName,
			AccountKey:    cfg.Storage.Azure.AccountKey,
			ContainerName: cfg.Storage.Azure.Container,
			Endpoint:      cfg.Storage.Azure.Endpoint,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Blob writer: %w", err)
		}
		return writer, nil
	case "gcs":
		writer, err := storage.NewGCSWriter(ctx, storage.GCSConfig{
			Bucket:               cfg.Storage.GCS.Bucket,
			ProjectID:            cfg.Storage.GCS.ProjectID,
			CredentialsFile:      cfg.Storage.GCS.CredentialsFile,
			CredentialsJSON:      cfg.Storage.GCS.CredentialsJSON,
			Endpoint:             cfg.Storage.GCS.Endpoint,
			UseDefaultCredential: cfg.Storage.GCS.UseDefaultCredential,
		}, format, compression, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS writer: %w", err)
		}
		return writer, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s (supported: file, s3, azure, gcs)", cfg.Storage.Backend)
	}
}

func storageProtocol(backend string) string {
	switch backend {
	case "s3":
		return "s3"
	case "azure":
		return "wasbs"
	case "gcs":
		return "gs"
	default:
		return "file"
	}
}

func storageBucket(cfg *dto.ApplicationConfig) string {
	switch cfg.Storage.Backend {
	case "s3":
		return cfg.Storage.S3.Bucket
	case "azure":
		return cfg.Storage.Azure.Container
	case "gcs":
		return cfg.Storage.GCS.Bucket
	default:
		// The file writer resolves directories under its own base path.
		return ""
	}
}
