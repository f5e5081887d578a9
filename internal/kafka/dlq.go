package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
	"github.com/jittakal/kafsource/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ sink.DLQPublisher = (*DLQPublisher)(nil)

// DLQRecord is the envelope published to the dead letter queue.
type DLQRecord struct {
	RecordID         string      `json:"record_id"`
	Topic            string      `json:"topic"`
	Partition        *int32      `json:"partition,omitempty"`
	Key              []byte      `json:"key,omitempty"`
	Value            []byte      `json:"value"`
	Headers          []DLQHeader `json:"headers,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
	SourceOrigin     string      `json:"source_origin"`
	SourceTopic      string      `json:"source_topic,omitempty"`
	SourcePartition  int32       `json:"source_partition"`
	SourceOffset     int64       `json:"source_offset"`
	FailureReason    string      `json:"failure_reason"`
	FailureTimestamp time.Time   `json:"failure_timestamp"`
	ProcessorID      string      `json:"processor_id"`
}

// DLQHeader is a record header in the DLQ envelope.
type DLQHeader struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// DLQConfig contains DLQ configuration.
type DLQConfig struct {
	Enabled     bool
	TopicSuffix string
	MaxRetries  int
}

// DLQMetrics defines metrics operations for the DLQ publisher.
type DLQMetrics interface {
	IncDLQRecords(reason string, status string)
}

// DLQPublisher publishes undeliverable records to "<topic><suffix>".
type DLQPublisher struct {
	producer    sarama.SyncProducer
	config      DLQConfig
	logger      *zap.Logger
	metrics     DLQMetrics
	processorID string
	now         func() time.Time
	mu          sync.RWMutex
	closed      bool
}

// NewDLQPublisher creates a new DLQ publisher. A disabled DLQ opens no connection.
func NewDLQPublisher(
	bootstrapServers []string,
	security SecurityConfig,
	dlqConfig DLQConfig,
	logger *zap.Logger,
	metrics DLQMetrics,
	processorID string,
) (*DLQPublisher, error) {
	if !dlqConfig.Enabled {
		logger.Info("DLQ is disabled")
		return newDLQPublisher(nil, dlqConfig, logger, metrics, processorID), nil
	}

	saramaConfig, err := newSaramaConfig(security)
	if err != nil {
		return nil, err
	}
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	if dlqConfig.MaxRetries > 0 {
		saramaConfig.Producer.Retry.Max = dlqConfig.MaxRetries
	}
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(bootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("DLQ publisher created",
		zap.Strings("bootstrap_servers", bootstrapServers),
		zap.String("topic_suffix", dlqConfig.TopicSuffix),
	)

	return newDLQPublisher(producer, dlqConfig, logger, metrics, processorID), nil
}

func newDLQPublisher(
	producer sarama.SyncProducer,
	config DLQConfig,
	logger *zap.Logger,
	metrics DLQMetrics,
	processorID string,
) *DLQPublisher {
	if metrics == nil {
		metrics = nopDLQMetrics{}
	}
	return &DLQPublisher{
		producer:    producer,
		config:      config,
		logger:      logger.Named("dlq"),
		metrics:     metrics,
		processorID: processorID,
		now:         time.Now,
	}
}

// Publish publishes a failed record to the DLQ. It is a no-op when the DLQ is disabled.
func (p *DLQPublisher) Publish(ctx context.Context, rec record.Record, reason string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return errors.ErrSinkClosed
	}

	if !p.config.Enabled {
		p.logger.Debug("DLQ disabled, skipping publish", zap.String("record_id", rec.ID))
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	dlqTopic := rec.Topic + p.config.TopicSuffix

	data, err := json.Marshal(p.envelope(&rec, reason))
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: dlqTopic,
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("failure_reason"), Value: []byte(reason)},
			{Key: []byte("original_topic"), Value: []byte(rec.Topic)},
			{Key: []byte("processor_id"), Value: []byte(p.processorID)},
		},
		Timestamp: p.now(),
	}
	if rec.Key != nil {
		msg.Key = sarama.ByteEncoder(rec.Key)
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.metrics.IncDLQRecords(reason, "failure")
		p.logger.Error("Failed to publish to DLQ",
			zap.String("dlq_topic", dlqTopic),
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}

	p.metrics.IncDLQRecords(reason, "success")
	p.logger.Info("Published record to DLQ",
		zap.String("dlq_topic", dlqTopic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.String("record_id", rec.ID),
		zap.String("reason", reason),
	)
	return nil
}

func (p *DLQPublisher) envelope(rec *record.Record, reason string) DLQRecord {
	var headers []DLQHeader
	for _, h := range rec.Headers {
		headers = append(headers, DLQHeader{Key: h.Key, Value: h.Value})
	}

	return DLQRecord{
		RecordID:         rec.ID,
		Topic:            rec.Topic,
		Partition:        rec.Partition,
		Key:              rec.Key,
		Value:            rec.Value,
		Headers:          headers,
		Timestamp:        rec.Timestamp,
		SourceOrigin:     rec.Source.Origin,
		SourceTopic:      rec.Source.Topic,
		SourcePartition:  rec.Source.Partition,
		SourceOffset:     rec.Source.Offset,
		FailureReason:    reason,
		FailureTimestamp: p.now().UTC(),
		ProcessorID:      p.processorID,
	}
}

// Close closes the DLQ publisher.
func (p *DLQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.logger.Info("Closing DLQ publisher")
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			p.logger.Error("Error closing producer", zap.Error(err))
			return err
		}
	}
	return nil
}

type nopDLQMetrics struct{}

func (nopDLQMetrics) IncDLQRecords(string, string) {}
