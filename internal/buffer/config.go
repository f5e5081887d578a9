package buffer

import (
	"math"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/buffer"
)

// Default configuration values.
const (
	DefaultMaximumCapacity      = math.MaxInt
	DefaultBatchSize            = 1024
	DefaultEmptyWaitDuration    = time.Duration(0)
	DefaultCapacityPollInterval = 100 * time.Millisecond
	DefaultCapacityWaitTimeout  = 60 * time.Second
)

// Config holds the construction parameters of a BoundedRecordBuffer.
type Config struct {
	// MaximumCapacity is the maximum number of records held at once.
	MaximumCapacity int
	// BatchSize is the maximum number of records returned per drain.
	BatchSize int
	// EmptyWaitDuration is how long a drain waits when nothing is buffered.
	EmptyWaitDuration time.Duration
	// CapacityPollInterval bounds the time between capacity re-checks while a writer waits.
	CapacityPollInterval time.Duration
	// CapacityWaitTimeout is how long a writer waits for capacity before failing.
	CapacityWaitTimeout time.Duration

	// WriteRateLimiter is optional.
	WriteRateLimiter buffer.RateLimiter
	// Clock defaults to the wall clock.
	Clock clockwork.Clock
	// Observer defaults to a no-op observer.
	Observer buffer.Observer
	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// DefaultConfig returns a configuration with every field set to its default.
func DefaultConfig() Config {
	return Config{
		MaximumCapacity:      DefaultMaximumCapacity,
		BatchSize:            DefaultBatchSize,
		EmptyWaitDuration:    DefaultEmptyWaitDuration,
		CapacityPollInterval: DefaultCapacityPollInterval,
		CapacityWaitTimeout:  DefaultCapacityWaitTimeout,
	}
}

// Validate checks the numeric parameters and returns a *errors.ConfigError
// for the first invalid one.
func (c Config) Validate() error {
	if c.MaximumCapacity <= 0 {
		return &errors.ConfigError{Field: "maximum_capacity", Value: c.MaximumCapacity, Reason: "must be greater than 0"}
	}
	if c.BatchSize <= 0 {
		return &errors.ConfigError{Field: "batch_size", Value: c.BatchSize, Reason: "must be greater than 0"}
	}
	if c.EmptyWaitDuration < 0 {
		return &errors.ConfigError{Field: "empty_wait_duration", Value: c.EmptyWaitDuration, Reason: "must not be negative"}
	}
	if c.CapacityPollInterval <= 0 {
		return &errors.ConfigError{Field: "capacity_poll_interval", Value: c.CapacityPollInterval, Reason: "must be greater than 0"}
	}
	if c.CapacityWaitTimeout <= 0 {
		return &errors.ConfigError{Field: "capacity_wait_timeout", Value: c.CapacityWaitTimeout, Reason: "must be greater than 0"}
	}
	return nil
}

// Builder assembles a BoundedRecordBuffer starting from DefaultConfig.
type Builder struct {
	cfg Config
}

// NewBuilder returns a builder initialised with default values.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

func (b *Builder) MaximumCapacity(n int) *Builder {
	b.cfg.MaximumCapacity = n
	return b
}

func (b *Builder) BatchSize(n int) *Builder {
	b.cfg.BatchSize = n
	return b
}

func (b *Builder) EmptyWaitDuration(d time.Duration) *Builder {
	b.cfg.EmptyWaitDuration = d
	return b
}

func (b *Builder) CapacityPollInterval(d time.Duration) *Builder {
	b.cfg.CapacityPollInterval = d
	return b
}

func (b *Builder) CapacityWaitTimeout(d time.Duration) *Builder {
	b.cfg.CapacityWaitTimeout = d
	return b
}

func (b *Builder) WriteRateLimiter(l buffer.RateLimiter) *Builder {
	b.cfg.WriteRateLimiter = l
	return b
}

func (b *Builder) Clock(c clockwork.Clock) *Builder {
	b.cfg.Clock = c
	return b
}

func (b *Builder) Observer(o buffer.Observer) *Builder {
	b.cfg.Observer = o
	return b
}

func (b *Builder) Logger(l *zap.Logger) *Builder {
	b.cfg.Logger = l
	return b
}

// Config returns a copy of the configuration assembled so far.
func (b *Builder) Config() Config {
	return b.cfg
}

// Build validates the configuration and creates the buffer.
func (b *Builder) Build() (*BoundedRecordBuffer, error) {
	return New(b.cfg)
}
