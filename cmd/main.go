package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jittakal/kafsource/internal/buffer"
	"github.com/jittakal/kafsource/internal/config"
	"github.com/jittakal/kafsource/internal/config/dto"
	apperrors "github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/internal/ingest"
	"github.com/jittakal/kafsource/internal/kafka"
	"github.com/jittakal/kafsource/internal/observability"
	"github.com/jittakal/kafsource/internal/server"
	"github.com/jittakal/kafsource/internal/task"
	"github.com/jittakal/kafsource/internal/validator"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Priority: CLI flag > CONFIG_PATH env var > default path
	cfgPath := "config/application.yaml"
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	}

	cfg, err := config.NewLoader().Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	instanceID := cfg.Application.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger = logger.With(zap.String("instance_id", instanceID))
	logger.Info("Starting kafsource",
		zap.String("version", cfg.Application.Version),
		zap.String("environment", cfg.Application.Environment),
		zap.String("sink", cfg.Sink.Type),
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, func() error {
			if err := fn(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
		logger.Debug("Registered cleanup", zap.String("component", name))
	}
	defer func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("Cleanup failed", zap.Error(err))
			}
		}
	}()

	buf, err := newBuffer(cfg, metrics, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	snk, err := newSink(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	addCleanup("sink", snk.Close)

	dlq, err := kafka.NewDLQPublisher(
		cfg.Kafka.BootstrapServers,
		securityConfig(cfg),
		kafka.DLQConfig{
			Enabled:     cfg.Kafka.DLQ.Enabled,
			TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
			MaxRetries:  cfg.Kafka.DLQ.MaxRetries,
		},
		logger,
		metrics,
		instanceID,
	)
	if err != nil {
		return fmt.Errorf("failed to create DLQ publisher: %w", err)
	}
	addCleanup("dlq-publisher", dlq.Close)

	taskOpts := []task.Option{task.WithDLQ(dlq), task.WithMetrics(metrics)}

	var listener *kafka.Listener
	if cfg.Source.Kafka.Enabled {
		listener, err = newListener(cfg, buf, metrics, logger)
		if err != nil {
			return err
		}
		addCleanup("kafka-listener", listener.Close)
		taskOpts = append(taskOpts, task.WithCommitters(listener))
	}

	sourceTask, err := task.New(task.Config{
		PollInterval:    cfg.Task.PollInterval,
		ShutdownTimeout: cfg.Task.ShutdownTimeout,
		Retry: task.RetryConfig{
			InitialInterval:     cfg.Retry.InitialInterval,
			MaxInterval:         cfg.Retry.MaxInterval,
			Multiplier:          cfg.Retry.Multiplier,
			RandomizationFactor: cfg.Retry.RandomizationFactor,
			MaxElapsedTime:      cfg.Retry.MaxElapsedTime,
		},
	}, buf, snk, logger, taskOpts...)
	if err != nil {
		return fmt.Errorf("failed to create source task: %w", err)
	}

	checker := server.NewBufferHealthChecker(buf, cfg.Observability.Health.MaxBufferFillRatio)
	httpServer := newHTTPServer(cfg, buf, checker, registry, metrics, logger)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP servers: %w", err)
	}

	// Producers stop first; the task then drains what they admitted.
	taskCtx, stopTask := context.WithCancel(context.Background())
	defer stopTask()
	listenerDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(listenerDone)
		if listener == nil {
			return nil
		}
		checker.SetComponent("listener", true)
		defer checker.SetComponent("listener", false)

		if err := listener.Run(gctx); err != nil && !errors.Is(err, apperrors.ErrListenerClosed) {
			return fmt.Errorf("kafka listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		checker.SetComponent("task", true)
		defer checker.SetComponent("task", false)
		return sourceTask.Run(taskCtx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Initiating graceful shutdown")
		<-listenerDone

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.GracePeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}

		stopTask()
		return nil
	})

	logger.Info("Application started successfully")

	if err := g.Wait(); err != nil {
		logger.Error("Application stopped with error", zap.Error(err))
		return err
	}

	logger.Info("Application stopped successfully")
	return nil
}

func newBuffer(cfg *dto.ApplicationConfig, metrics *observability.Metrics, logger *zap.Logger) (*buffer.BoundedRecordBuffer, error) {
	bufferConfig := config.BufferConfig(cfg.Buffer)
	bufferConfig.Observer = metrics
	bufferConfig.Logger = logger

	if limit := cfg.Buffer.WriteRateLimit; limit.Enabled {
		limiter, err := buffer.NewTokenBucket(limit.RecordsPerSecond, limit.Burst)
		if err != nil {
			return nil, fmt.Errorf("failed to create write rate limiter: %w", err)
		}
		bufferConfig.WriteRateLimiter = limiter
	}

	buf, err := buffer.New(bufferConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create record buffer: %w", err)
	}
	metrics.SetBufferCapacity(buf.Capacity())
	return buf, nil
}

func newListener(cfg *dto.ApplicationConfig, buf *buffer.BoundedRecordBuffer, metrics *observability.Metrics, logger *zap.Logger) (*kafka.Listener, error) {
	src := cfg.Source.Kafka
	listener, err := kafka.NewListener(kafka.ListenerConfig{
		BootstrapServers:    cfg.Kafka.BootstrapServers,
		GroupID:             src.GroupID,
		Topics:              src.Topics,
		TopicPrefix:         src.TopicPrefix,
		AutoOffsetReset:     src.AutoOffsetReset,
		MaxPollIntervalMS:   src.MaxPollIntervalMS,
		SessionTimeoutMS:    src.SessionTimeoutMS,
		HeartbeatIntervalMS: src.HeartbeatIntervalMS,
		PauseInitialBackoff: src.PauseInitialBackoff,
		PauseMaxBackoff:     src.PauseMaxBackoff,
		Security:            securityConfig(cfg),
	}, buf, logger, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka listener: %w", err)
	}
	return listener, nil
}

func newHTTPServer(
	cfg *dto.ApplicationConfig,
	buf *buffer.BoundedRecordBuffer,
	checker server.HealthChecker,
	registry *prometheus.Registry,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *server.Server {
	serverConfig := server.Config{
		HealthPort:    cfg.Observability.Health.Port,
		LivenessPath:  cfg.Observability.Health.LivenessPath,
		ReadinessPath: cfg.Observability.Health.ReadinessPath,
		MetricsPort:   cfg.Observability.Metrics.Port,
		MetricsPath:   cfg.Observability.Metrics.Path,
		IngestPort:    cfg.Ingest.Port,
	}

	if !cfg.Observability.Metrics.Enabled {
		registry = nil
	}

	var ingestMux *http.ServeMux
	if cfg.Ingest.Enabled {
		ingestMux = http.NewServeMux()
		ingest.NewHandler(ingest.Config{
			DefaultTopic:      cfg.Ingest.DefaultTopic,
			MaxBatchRecords:   cfg.Ingest.MaxBatchRecords,
			MaxBodyBytes:      cfg.Ingest.MaxBodyBytes,
			RetryAfterSeconds: cfg.Ingest.RetryAfterSeconds,
		}, buf, validator.NewRecordValidator(cfg.Ingest.MaxValueBytes), logger, metrics).Routes(ingestMux)
	}

	if ingestMux == nil {
		return server.NewServer(serverConfig, checker, registry, nil, logger)
	}
	return server.NewServer(serverConfig, checker, registry, ingestMux, logger)
}

func securityConfig(cfg *dto.ApplicationConfig) kafka.SecurityConfig {
	return kafka.SecurityConfig{
		SecurityProtocol:      cfg.Kafka.SecurityProtocol,
		SASLMechanism:         cfg.Kafka.SASLMechanism,
		SASLUsername:          cfg.Kafka.SASLUsername,
		SASLPassword:          cfg.Kafka.SASLPassword,
		AWSRegion:             cfg.Kafka.AWSRegion,
		TLSInsecureSkipVerify: cfg.Kafka.TLSInsecureSkipVerify,
	}
}
