// Package config loads and validates application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/jittakal/kafsource/internal/buffer"
	"github.com/jittakal/kafsource/internal/config/dto"
)

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// Load loads configuration from file and environment variables
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Expand environment variables in config values
	// Only expand if the value contains ${...} pattern
	for _, key := range l.v.AllKeys() {
		switch value := l.v.Get(key).(type) {
		case string:
			if strings.Contains(value, "${") {
				l.v.Set(key, os.ExpandEnv(value))
			}
		case []any:
			expanded := make([]any, len(value))
			changed := false
			for i, item := range value {
				expanded[i] = item
				if str, ok := item.(string); ok && strings.Contains(str, "${") {
					expanded[i] = os.ExpandEnv(str)
					changed = true
				}
			}
			if changed {
				l.v.Set(key, expanded)
			}
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Application defaults
	l.v.SetDefault("application.name", "kafsource")
	l.v.SetDefault("application.version", "1.0.0")
	l.v.SetDefault("application.environment", "development")

	// Buffer defaults mirror the buffer builder
	l.v.SetDefault("buffer.maximum_capacity", buffer.DefaultMaximumCapacity)
	l.v.SetDefault("buffer.batch_size", buffer.DefaultBatchSize)
	l.v.SetDefault("buffer.empty_wait_duration", buffer.DefaultEmptyWaitDuration)
	l.v.SetDefault("buffer.capacity_poll_interval", buffer.DefaultCapacityPollInterval)
	l.v.SetDefault("buffer.capacity_wait_timeout", buffer.DefaultCapacityWaitTimeout)
	l.v.SetDefault("buffer.write_rate_limit.enabled", false)
	l.v.SetDefault("buffer.write_rate_limit.records_per_second", 10000.0)
	l.v.SetDefault("buffer.write_rate_limit.burst", 1000)

	// Task defaults
	l.v.SetDefault("task.poll_interval", "1s")
	l.v.SetDefault("task.shutdown_timeout", "30s")

	// Ingest defaults
	l.v.SetDefault("ingest.enabled", false)
	l.v.SetDefault("ingest.port", 8081)
	l.v.SetDefault("ingest.default_topic", "events")
	l.v.SetDefault("ingest.max_batch_records", 1000)
	l.v.SetDefault("ingest.max_body_bytes", 10*1024*1024)
	l.v.SetDefault("ingest.max_value_bytes", 1048588)
	l.v.SetDefault("ingest.retry_after_seconds", 1)

	// Kafka source defaults
	l.v.SetDefault("source.kafka.enabled", true)
	l.v.SetDefault("source.kafka.auto_offset_reset", "earliest")
	l.v.SetDefault("source.kafka.max_poll_interval_ms", 300000)
	l.v.SetDefault("source.kafka.session_timeout_ms", 30000)
	l.v.SetDefault("source.kafka.heartbeat_interval_ms", 10000)
	l.v.SetDefault("source.kafka.pause_initial_backoff", "100ms")
	l.v.SetDefault("source.kafka.pause_max_backoff", "10s")

	// Kafka connection defaults
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.aws_region", "us-east-1")
	l.v.SetDefault("kafka.producer.required_acks", "all")
	l.v.SetDefault("kafka.producer.compression", "snappy")
	l.v.SetDefault("kafka.producer.idempotent", true)
	l.v.SetDefault("kafka.producer.max_retries", 5)
	l.v.SetDefault("kafka.producer.partitioner", "hash")
	l.v.SetDefault("kafka.dlq.enabled", true)
	l.v.SetDefault("kafka.dlq.topic_suffix", "-dlq")
	l.v.SetDefault("kafka.dlq.max_retries", 3)

	// Sink defaults
	l.v.SetDefault("sink.type", "kafka")

	// Storage defaults
	l.v.SetDefault("storage.backend", "file")
	l.v.SetDefault("storage.format", "parquet")
	l.v.SetDefault("storage.compression", "snappy")
	l.v.SetDefault("storage.base_path", "records")
	l.v.SetDefault("storage.version", "v1")
	l.v.SetDefault("storage.rotation.max_file_size_mb", 128)
	l.v.SetDefault("storage.rotation.max_records_per_file", 100000)
	l.v.SetDefault("storage.rotation.max_duration_seconds", 0)
	l.v.SetDefault("storage.s3.use_path_style", false)
	l.v.SetDefault("storage.s3.sse_enabled", true)

	// Retry defaults
	l.v.SetDefault("retry.initial_interval", "100ms")
	l.v.SetDefault("retry.max_interval", "30s")
	l.v.SetDefault("retry.multiplier", 2.0)
	l.v.SetDefault("retry.randomization_factor", 0.5)
	l.v.SetDefault("retry.max_elapsed_time", "2m")

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stdout")
	l.v.SetDefault("observability.metrics.enabled", true)
	l.v.SetDefault("observability.metrics.port", 9090)
	l.v.SetDefault("observability.metrics.path", "/metrics")
	l.v.SetDefault("observability.health.port", 8080)
	l.v.SetDefault("observability.health.liveness_path", "/health/live")
	l.v.SetDefault("observability.health.readiness_path", "/health/ready")
	l.v.SetDefault("observability.health.max_buffer_fill_ratio", 0.95)

	// Shutdown defaults
	l.v.SetDefault("shutdown.grace_period", "30s")
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	// Buffer validation reports *errors.ConfigError
	if err := BufferConfig(config.Buffer).Validate(); err != nil {
		return err
	}
	if err := config.Buffer.WriteRateLimit.Validate(); err != nil {
		return err
	}

	if config.Task.PollInterval <= 0 {
		return fmt.Errorf("task.poll_interval must be greater than 0")
	}

	if config.Source.Kafka.Enabled {
		if len(config.Kafka.BootstrapServers) == 0 {
			return errors.New("kafka.bootstrap_servers is required")
		}
		if err := config.Source.Kafka.Validate(); err != nil {
			return err
		}
	}

	if config.Ingest.Enabled {
		if config.Ingest.MaxBatchRecords < 1 {
			return fmt.Errorf("ingest.max_batch_records must be at least 1")
		}
		if err := validatePort("ingest", config.Ingest.Port); err != nil {
			return err
		}
	}

	switch config.Sink.Type {
	case "kafka":
		if len(config.Kafka.BootstrapServers) == 0 {
			return errors.New("kafka.bootstrap_servers is required for kafka sink")
		}
		switch config.Kafka.Producer.Partitioner {
		case "hash", "manual":
		default:
			return fmt.Errorf("unsupported kafka partitioner: %s", config.Kafka.Producer.Partitioner)
		}
	case "archive":
		if err := validateStorage(&config.Storage); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported sink type: %s", config.Sink.Type)
	}

	if config.Kafka.DLQ.Enabled && config.Kafka.DLQ.TopicSuffix == "" {
		return errors.New("kafka.dlq.topic_suffix is required when DLQ is enabled")
	}

	ratio := config.Observability.Health.MaxBufferFillRatio
	if ratio <= 0 || ratio > 1 {
		return fmt.Errorf("invalid max buffer fill ratio: %v", ratio)
	}

	if err := validatePort("metrics", config.Observability.Metrics.Port); err != nil {
		return err
	}
	return validatePort("health", config.Observability.Health.Port)
}

func validateStorage(storage *dto.StorageConfig) error {
	switch storage.Backend {
	case "s3":
		if err := storage.S3.Validate(); err != nil {
			return err
		}
	case "azure":
		if err := storage.Azure.Validate(); err != nil {
			return err
		}
	case "gcs":
		if err := storage.GCS.Validate(); err != nil {
			return err
		}
	case "file":
		if err := storage.File.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", storage.Backend)
	}

	if storage.Format != "parquet" && storage.Format != "avro" {
		return fmt.Errorf("unsupported storage format: %s", storage.Format)
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("invalid %s port: %d", name, port)
	}
	return nil
}

// BufferConfig maps the buffer section onto buffer.Config.
// The rate limiter, clock, observer and logger are left for the caller to wire.
func BufferConfig(c dto.BufferConfig) buffer.Config {
	cfg := buffer.DefaultConfig()
	cfg.MaximumCapacity = c.MaximumCapacity
	cfg.BatchSize = c.BatchSize
	cfg.EmptyWaitDuration = c.EmptyWaitDuration
	cfg.CapacityPollInterval = c.CapacityPollInterval
	cfg.CapacityWaitTimeout = c.CapacityWaitTimeout
	return cfg
}
