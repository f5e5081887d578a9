// Package task drains the record buffer into a sink.
//
// A Task polls the buffer on a fixed interval, delivers every drained batch
// with retries, hands undeliverable batches to a dead letter queue and then
// acknowledges the batch to the sources it came from. On shutdown it drains
// whatever is still buffered within a bounded time.
package task

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/buffer"
	"github.com/jittakal/kafsource/pkg/record"
	"github.com/jittakal/kafsource/pkg/sink"
	"github.com/jittakal/kafsource/pkg/source"
)

// ReasonDeliveryFailed is the DLQ reason for records the sink rejected.
const ReasonDeliveryFailed = "delivery_failed"

// Config contains task settings.
type Config struct {
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	Retry           RetryConfig
}

// RetryConfig controls exponential backoff between delivery attempts.
// A zero MaxElapsedTime retries until the context is done.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	MaxElapsedTime      time.Duration
}

// Metrics defines metrics operations for the task.
type Metrics interface {
	IncBatches(sink string, status string)
	AddRecordsDelivered(sink string, n int)
	ObserveDeliveryDuration(sink string, seconds float64)
	IncDeliveryRetries(sink string)
}

// Option configures a Task.
type Option func(*Task)

// WithDLQ sets the publisher receiving records of batches that could not be delivered.
func WithDLQ(dlq sink.DLQPublisher) Option {
	return func(t *Task) { t.dlq = dlq }
}

// WithCommitters registers sources to acknowledge after every batch.
func WithCommitters(committers ...source.OffsetCommitter) Option {
	return func(t *Task) { t.committers = append(t.committers, committers...) }
}

// WithClock replaces the wall clock driving the poll interval.
func WithClock(clock clockwork.Clock) Option {
	return func(t *Task) { t.clock = clock }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics Metrics) Option {
	return func(t *Task) { t.metrics = metrics }
}

// Task moves records from a buffer to a sink.
type Task struct {
	buffer     buffer.RecordBuffer
	sink       sink.Sink
	dlq        sink.DLQPublisher
	committers []source.OffsetCommitter
	config     Config
	clock      clockwork.Clock
	logger     *zap.Logger
	metrics    Metrics

	// pending holds a drained batch whose delivery was interrupted by shutdown.
	pending []record.Record
}

// New creates a task draining buf into snk.
func New(config Config, buf buffer.RecordBuffer, snk sink.Sink, logger *zap.Logger, opts ...Option) (*Task, error) {
	if config.PollInterval <= 0 {
		return nil, &errors.ConfigError{Field: "task.poll_interval", Value: config.PollInterval, Reason: "must be greater than 0"}
	}
	if config.ShutdownTimeout <= 0 {
		return nil, &errors.ConfigError{Field: "task.shutdown_timeout", Value: config.ShutdownTimeout, Reason: "must be greater than 0"}
	}

	t := &Task{
		buffer:  buf,
		sink:    snk,
		config:  config,
		clock:   clockwork.NewRealClock(),
		logger:  logger.Named("task"),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run polls the buffer until ctx is done, then drains the remaining records
// within the shutdown timeout. It returns an error only when that final drain
// could not complete.
func (t *Task) Run(ctx context.Context) error {
	t.logger.Info("Source task started",
		zap.String("sink", t.sink.Name()),
		zap.Duration("poll_interval", t.config.PollInterval),
		zap.Int("batch_size", t.buffer.BatchSize()),
	)

	ticker := t.clock.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return t.shutdown()
		case <-ticker.Chan():
			t.poll(ctx)
		}
	}
}

// poll drains batches while they come back full, so a backlog is worked off
// without waiting for the next tick.
func (t *Task) poll(ctx context.Context) {
	for ctx.Err() == nil {
		batch, ok := t.buffer.DrainBatch(ctx)
		if !ok {
			return
		}

		if err := t.process(ctx, batch); err != nil {
			t.pending = batch
			return
		}

		if len(batch) < t.buffer.BatchSize() {
			return
		}
	}
}

// shutdown delivers the interrupted batch and everything still buffered.
func (t *Task) shutdown() error {
	t.logger.Info("Draining buffer before shutdown",
		zap.Int("buffered", t.buffer.Len()+len(t.pending)),
		zap.Duration("timeout", t.config.ShutdownTimeout),
	)

	ctx, cancel := context.WithTimeout(context.Background(), t.config.ShutdownTimeout)
	defer cancel()

	if t.pending != nil {
		batch := t.pending
		t.pending = nil
		if err := t.process(ctx, batch); err != nil {
			return t.abandon(len(batch), err)
		}
	}

	delivered := 0
	for {
		batch, ok := t.buffer.DrainBatch(ctx)
		if !ok {
			break
		}
		if err := t.process(ctx, batch); err != nil {
			return t.abandon(len(batch), err)
		}
		delivered += len(batch)
	}

	if err := ctx.Err(); err != nil && t.buffer.Len() > 0 {
		return t.abandon(0, err)
	}

	t.logger.Info("Source task stopped", zap.Int("drained", delivered))
	return nil
}

func (t *Task) abandon(inFlight int, err error) error {
	left := inFlight + t.buffer.Len()
	t.logger.Error("Shutdown drain incomplete",
		zap.Int("records_left", left),
		zap.Error(err),
	)
	return fmt.Errorf("shutdown drain incomplete, %d records left: %w", left, err)
}

// process delivers a batch and acknowledges it. It returns an error only when
// ctx ended before the batch was either delivered or dead-lettered.
func (t *Task) process(ctx context.Context, batch []record.Record) error {
	if err := t.deliver(ctx, batch); err != nil {
		if ctx.Err() != nil {
			return err
		}
		t.deadLetter(ctx, batch, err)
	}

	t.commit(ctx, batch)
	return nil
}

func (t *Task) deliver(ctx context.Context, batch []record.Record) error {
	name := t.sink.Name()
	start := t.clock.Now()

	operation := func() error {
		err := t.sink.Put(ctx, batch)
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		t.metrics.IncDeliveryRetries(name)
		t.logger.Warn("Delivery failed, retrying",
			zap.String("sink", name),
			zap.Int("records", len(batch)),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(t.newBackOff(), ctx), notify)
	t.metrics.ObserveDeliveryDuration(name, t.clock.Since(start).Seconds())
	if err != nil {
		t.metrics.IncBatches(name, "failure")
		t.logger.Error("Delivery failed",
			zap.String("sink", name),
			zap.Int("records", len(batch)),
			zap.Error(err),
		)
		return err
	}

	t.metrics.IncBatches(name, "success")
	t.metrics.AddRecordsDelivered(name, len(batch))
	t.logger.Debug("Delivered batch", zap.String("sink", name), zap.Int("records", len(batch)))
	return nil
}

func (t *Task) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r := t.config.Retry; r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
		b.MaxInterval = r.MaxInterval
		b.Multiplier = r.Multiplier
		b.RandomizationFactor = r.RandomizationFactor
		b.MaxElapsedTime = r.MaxElapsedTime
	}
	b.Reset()
	return b
}

func (t *Task) deadLetter(ctx context.Context, batch []record.Record, cause error) {
	if t.dlq == nil {
		t.logger.Error("Dropping undeliverable batch, no DLQ configured",
			zap.Int("records", len(batch)),
			zap.Error(cause),
		)
		return
	}

	failed := 0
	for i := range batch {
		if err := t.dlq.Publish(ctx, batch[i], ReasonDeliveryFailed); err != nil {
			failed++
			t.logger.Error("Failed to publish record to DLQ",
				zap.String("record_id", batch[i].ID),
				zap.String("topic", batch[i].Topic),
				zap.Error(err),
			)
		}
	}

	t.logger.Warn("Sent undeliverable batch to DLQ",
		zap.Int("records", len(batch)),
		zap.Int("dlq_failures", failed),
	)
}

func (t *Task) commit(ctx context.Context, batch []record.Record) {
	for _, c := range t.committers {
		if err := c.Commit(ctx, batch); err != nil {
			t.logger.Error("Failed to commit batch", zap.Int("records", len(batch)), zap.Error(err))
		}
	}
}

type nopMetrics struct{}

func (nopMetrics) IncBatches(string, string)               {}
func (nopMetrics) AddRecordsDelivered(string, int)         {}
func (nopMetrics) ObserveDeliveryDuration(string, float64) {}
func (nopMetrics) IncDeliveryRetries(string)               {}
