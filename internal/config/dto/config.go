package dto

import (
	"fmt"
	"time"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Application   ApplicationInfo     `mapstructure:"application"`
	Buffer        BufferConfig        `mapstructure:"buffer"`
	Task          TaskConfig          `mapstructure:"task"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Source        SourceConfig        `mapstructure:"source"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Sink          SinkConfig          `mapstructure:"sink"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Shutdown      ShutdownConfig      `mapstructure:"shutdown"`
}

// ApplicationInfo contains application metadata
type ApplicationInfo struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	InstanceID  string `mapstructure:"instance_id"`
}

// BufferConfig contains record buffer settings
type BufferConfig struct {
	MaximumCapacity      int                  `mapstructure:"maximum_capacity"`
	BatchSize            int                  `mapstructure:"batch_size"`
	EmptyWaitDuration    time.Duration        `mapstructure:"empty_wait_duration"`
	CapacityPollInterval time.Duration        `mapstructure:"capacity_poll_interval"`
	CapacityWaitTimeout  time.Duration        `mapstructure:"capacity_wait_timeout"`
	WriteRateLimit       WriteRateLimitConfig `mapstructure:"write_rate_limit"`
}

// WriteRateLimitConfig contains the buffer write rate limiter settings
type WriteRateLimitConfig struct {
	Enabled          bool    `mapstructure:"enabled"`
	RecordsPerSecond float64 `mapstructure:"records_per_second"`
	Burst            int     `mapstructure:"burst"`
}

// TaskConfig contains source task settings
type TaskConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// IngestConfig contains HTTP ingestion settings
type IngestConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	Port              int    `mapstructure:"port"`
	DefaultTopic      string `mapstructure:"default_topic"`
	MaxBatchRecords   int    `mapstructure:"max_batch_records"`
	MaxBodyBytes      int64  `mapstructure:"max_body_bytes"`
	MaxValueBytes     int    `mapstructure:"max_value_bytes"`
	RetryAfterSeconds int    `mapstructure:"retry_after_seconds"`
}

// SourceConfig contains record source settings
type SourceConfig struct {
	Kafka KafkaSourceConfig `mapstructure:"kafka"`
}

// KafkaSourceConfig contains Kafka listener configuration
type KafkaSourceConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	GroupID             string        `mapstructure:"group_id"`
	Topics              []string      `mapstructure:"topics"`
	TopicPrefix         string        `mapstructure:"topic_prefix"`
	AutoOffsetReset     string        `mapstructure:"auto_offset_reset"`
	MaxPollIntervalMS   int           `mapstructure:"max_poll_interval_ms"`
	SessionTimeoutMS    int           `mapstructure:"session_timeout_ms"`
	HeartbeatIntervalMS int           `mapstructure:"heartbeat_interval_ms"`
	PauseInitialBackoff time.Duration `mapstructure:"pause_initial_backoff"`
	PauseMaxBackoff     time.Duration `mapstructure:"pause_max_backoff"`
}

// KafkaConfig contains Kafka connection, producer and DLQ configuration
type KafkaConfig struct {
	BootstrapServers      []string       `mapstructure:"bootstrap_servers"`
	SecurityProtocol      string         `mapstructure:"security_protocol"`
	SASLMechanism         string         `mapstructure:"sasl_mechanism"`
	SASLUsername          string         `mapstructure:"sasl_username"`
	SASLPassword          string         `mapstructure:"sasl_password"`
	AWSRegion             string         `mapstructure:"aws_region"`
	TLSInsecureSkipVerify bool           `mapstructure:"tls_insecure_skip_verify"`
	Producer              ProducerConfig `mapstructure:"producer"`
	DLQ                   DLQConfig      `mapstructure:"dlq"`
}

// ProducerConfig contains Kafka producer configuration
type ProducerConfig struct {
	RequiredAcks string `mapstructure:"required_acks"`
	Compression  string `mapstructure:"compression"`
	Idempotent   bool   `mapstructure:"idempotent"`
	MaxRetries   int    `mapstructure:"max_retries"`
	Partitioner  string `mapstructure:"partitioner"`
}

// DLQConfig contains dead letter queue configuration
type DLQConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	TopicSuffix string `mapstructure:"topic_suffix"`
	MaxRetries  int    `mapstructure:"max_retries"`
}

// SinkConfig selects where drained batches are delivered
type SinkConfig struct {
	Type string `mapstructure:"type"`
}

// StorageConfig contains archive storage configuration
type StorageConfig struct {
	Backend     string         `mapstructure:"backend"`
	Format      string         `mapstructure:"format"`
	Compression string         `mapstructure:"compression"`
	BasePath    string         `mapstructure:"base_path"`
	Version     string         `mapstructure:"version"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	S3          S3Config       `mapstructure:"s3"`
	Azure       AzureConfig    `mapstructure:"azure"`
	GCS         GCSConfig      `mapstructure:"gcs"`
	File        FileConfig     `mapstructure:"file"`
}

// RotationConfig splits archived batches into files
type RotationConfig struct {
	MaxFileSizeMB      int64 `mapstructure:"max_file_size_mb"`
	MaxRecordsPerFile  int   `mapstructure:"max_records_per_file"`
	MaxDurationSeconds int   `mapstructure:"max_duration_seconds"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Container   string `mapstructure:"container"`
	Endpoint    string `mapstructure:"endpoint"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	Bucket               string `mapstructure:"bucket"`
	ProjectID            string `mapstructure:"project_id"`
	CredentialsFile      string `mapstructure:"credentials_file"`
	CredentialsJSON      string `mapstructure:"credentials_json"`
	Endpoint             string `mapstructure:"endpoint"`
	UseDefaultCredential bool   `mapstructure:"use_default_credential"`
}

// FileConfig contains local filesystem configuration
type FileConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// RetryConfig contains delivery retry settings
type RetryConfig struct {
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
	MaxElapsedTime      time.Duration `mapstructure:"max_elapsed_time"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig contains health check settings
type HealthConfig struct {
	Port               int     `mapstructure:"port"`
	LivenessPath       string  `mapstructure:"liveness_path"`
	ReadinessPath      string  `mapstructure:"readiness_path"`
	MaxBufferFillRatio float64 `mapstructure:"max_buffer_fill_ratio"`
}

// ShutdownConfig contains shutdown settings
type ShutdownConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if c.Application.Name == "" {
		return fmt.Errorf("application name is required")
	}
	if !c.Source.Kafka.Enabled && !c.Ingest.Enabled {
		return fmt.Errorf("at least one source must be enabled: source.kafka or ingest")
	}
	if c.Sink.Type == "" {
		return fmt.Errorf("sink type is required")
	}
	return nil
}

// Validate validates the Kafka listener configuration.
func (c *KafkaSourceConfig) Validate() error {
	if c.GroupID == "" {
		return fmt.Errorf("kafka source group ID is required")
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("kafka source topics are required")
	}
	return nil
}

// Validate validates the rate limiter configuration.
func (c *WriteRateLimitConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.RecordsPerSecond <= 0 {
		return fmt.Errorf("write rate limit records per second must be greater than 0")
	}
	if c.Burst < 1 {
		return fmt.Errorf("write rate limit burst must be at least 1")
	}
	return nil
}

// Validate validates S3 configuration.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	return nil
}

// Validate validates Azure configuration.
func (c *AzureConfig) Validate() error {
	if c.AccountName == "" {
		return fmt.Errorf("azure account name is required")
	}
	if c.Container == "" {
		return fmt.Errorf("azure container is required")
	}
	return nil
}

// Validate validates GCS configuration.
func (c *GCSConfig) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("gcs bucket is required")
	}
	return nil
}

// Validate validates file configuration.
func (c *FileConfig) Validate() error {
	if c.BasePath == "" {
		return fmt.Errorf("file base path is required")
	}
	return nil
}
