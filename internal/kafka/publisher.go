package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
	"github.com/jittakal/kafsource/pkg/sink"
)

// Ensure implementation satisfies interface at compile time.
var _ sink.Sink = (*Publisher)(nil)

// PublisherConfig contains Kafka producer configuration.
type PublisherConfig struct {
	BootstrapServers []string
	Security         SecurityConfig
	RequiredAcks     string
	Compression      string
	Idempotent       bool
	MaxRetries       int
	// Partitioner is "hash" (by key) or "manual" (Record.Partition, else 0).
	Partitioner string
}

// PublisherMetrics defines metrics operations for the Kafka publisher.
type PublisherMetrics interface {
	IncMessagesPublished(topic string, status string)
}

// Publisher is a sink producing every record of a batch to its destination topic.
type Publisher struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
	metrics  PublisherMetrics
	mu       sync.RWMutex
	closed   bool
}

// NewPublisher creates a Kafka publisher sink.
func NewPublisher(config PublisherConfig, logger *zap.Logger, metrics PublisherMetrics) (*Publisher, error) {
	saramaConfig, err := newProducerConfig(config)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(config.BootstrapServers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync producer: %w", err)
	}

	logger.Info("Kafka publisher created",
		zap.Strings("bootstrap_servers", config.BootstrapServers),
		zap.String("required_acks", config.RequiredAcks),
		zap.String("compression", config.Compression),
		zap.String("partitioner", config.Partitioner),
	)

	return newPublisher(producer, logger, metrics), nil
}

func newPublisher(producer sarama.SyncProducer, logger *zap.Logger, metrics PublisherMetrics) *Publisher {
	if metrics == nil {
		metrics = nopPublisherMetrics{}
	}
	return &Publisher{
		producer: producer,
		logger:   logger.Named("publisher"),
		metrics:  metrics,
	}
}

// newProducerConfig builds a sync producer configuration.
func newProducerConfig(config PublisherConfig) (*sarama.Config, error) {
	saramaConfig, err := newSaramaConfig(config.Security)
	if err != nil {
		return nil, err
	}

	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	if config.MaxRetries > 0 {
		saramaConfig.Producer.Retry.Max = config.MaxRetries
	}

	switch strings.ToLower(config.RequiredAcks) {
	case "", "all", "-1":
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	case "leader", "1":
		saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	case "none", "0":
		saramaConfig.Producer.RequiredAcks = sarama.NoResponse
	default:
		return nil, fmt.Errorf("unsupported required acks: %s", config.RequiredAcks)
	}

	switch strings.ToLower(config.Compression) {
	case "", "none":
		saramaConfig.Producer.Compression = sarama.CompressionNone
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		return nil, fmt.Errorf("unsupported compression: %s", config.Compression)
	}

	switch config.Partitioner {
	case "", "hash":
		saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	case "manual":
		saramaConfig.Producer.Partitioner = sarama.NewManualPartitioner
	default:
		return nil, fmt.Errorf("unsupported partitioner: %s", config.Partitioner)
	}

	if config.Idempotent {
		if saramaConfig.Producer.RequiredAcks != sarama.WaitForAll {
			return nil, fmt.Errorf("idempotent producer requires required acks \"all\"")
		}
		saramaConfig.Producer.Idempotent = true
		saramaConfig.Net.MaxOpenRequests = 1
	}

	return saramaConfig, nil
}

// Name returns "kafka".
func (p *Publisher) Name() string {
	return "kafka"
}

// Put sends the whole batch and waits for every acknowledgement.
// Any failed message fails the batch; already written messages may be sent again on retry.
func (p *Publisher) Put(ctx context.Context, records []record.Record) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return &errors.DeliveryError{Sink: p.Name(), Records: len(records), Err: errors.ErrSinkClosed}
	}
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return &errors.DeliveryError{Sink: p.Name(), Records: len(records), Err: err}
	}

	messages := make([]*sarama.ProducerMessage, len(records))
	for i := range records {
		messages[i] = producerMessage(&records[i])
	}

	if err := p.producer.SendMessages(messages); err != nil {
		failed := len(messages)
		var producerErrs sarama.ProducerErrors
		if stderrors.As(err, &producerErrs) {
			failed = len(producerErrs)
			for _, pe := range producerErrs {
				p.metrics.IncMessagesPublished(pe.Msg.Topic, "failure")
			}
		} else {
			for _, msg := range messages {
				p.metrics.IncMessagesPublished(msg.Topic, "failure")
			}
		}

		p.logger.Error("Failed to publish batch",
			zap.Int("records", len(records)),
			zap.Int("failed", failed),
			zap.Error(err),
		)
		return &errors.DeliveryError{Sink: p.Name(), Records: len(records), Err: err}
	}

	for _, msg := range messages {
		p.metrics.IncMessagesPublished(msg.Topic, "success")
	}
	p.logger.Debug("Published batch", zap.Int("records", len(records)))
	return nil
}

// Close closes the producer.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.logger.Info("Closing Kafka publisher")
	return p.producer.Close()
}

// producerMessage converts a record into a producer message.
func producerMessage(rec *record.Record) *sarama.ProducerMessage {
	msg := &sarama.ProducerMessage{
		Topic:     rec.Topic,
		Value:     sarama.ByteEncoder(rec.Value),
		Timestamp: rec.Timestamp,
	}
	if rec.Key != nil {
		msg.Key = sarama.ByteEncoder(rec.Key)
	}
	if rec.Partition != nil {
		msg.Partition = *rec.Partition
	}
	if len(rec.Headers) > 0 {
		msg.Headers = make([]sarama.RecordHeader, len(rec.Headers))
		for i, h := range rec.Headers {
			msg.Headers[i] = sarama.RecordHeader{Key: []byte(h.Key), Value: h.Value}
		}
	}
	return msg
}

type nopPublisherMetrics struct{}

func (nopPublisherMetrics) IncMessagesPublished(string, string) {}
