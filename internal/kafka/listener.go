package kafka

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/buffer"
	"github.com/jittakal/kafsource/pkg/record"
	"github.com/jittakal/kafsource/pkg/source"
)

// Ensure implementation satisfies interfaces at compile time.
var (
	_ source.Listener             = (*Listener)(nil)
	_ source.OffsetCommitter      = (*Listener)(nil)
	_ sarama.ConsumerGroupHandler = (*Listener)(nil)
)

// ListenerConfig contains Kafka listener configuration.
type ListenerConfig struct {
	BootstrapServers    []string
	GroupID             string
	Topics              []string
	TopicPrefix         string
	AutoOffsetReset     string
	MaxPollIntervalMS   int
	SessionTimeoutMS    int
	HeartbeatIntervalMS int
	PauseInitialBackoff time.Duration
	PauseMaxBackoff     time.Duration
	Security            SecurityConfig
}

// ListenerMetrics defines metrics operations for the Kafka listener.
type ListenerMetrics interface {
	IncMessagesConsumed(topic string, partition int32)
	IncRebalances(groupID string)
	SetPartitionsAssigned(topic string, count float64)
	IncListenerPauses(groupID string)
	IncOffsetCommits(topic string, partition int32, status string)
}

// Listener consumes a set of topics with a consumer group and admits every
// message into a record buffer. Offsets are only marked once the records were
// delivered, through Commit.
type Listener struct {
	group   sarama.ConsumerGroup
	config  ListenerConfig
	buffer  buffer.Writer
	logger  *zap.Logger
	metrics ListenerMetrics

	mu      sync.Mutex
	session sarama.ConsumerGroupSession
	paused  int
	closed  bool
}

// NewListener creates a consumer group listener feeding buf.
func NewListener(
	config ListenerConfig,
	buf buffer.Writer,
	logger *zap.Logger,
	metrics ListenerMetrics,
) (*Listener, error) {
	saramaConfig, err := newSaramaConfig(config.Security)
	if err != nil {
		return nil, err
	}

	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = offsetInitial(config.AutoOffsetReset)
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Return.Errors = true

	if config.SessionTimeoutMS > 0 {
		saramaConfig.Consumer.Group.Session.Timeout = time.Duration(config.SessionTimeoutMS) * time.Millisecond
	}
	if config.HeartbeatIntervalMS > 0 {
		saramaConfig.Consumer.Group.Heartbeat.Interval = time.Duration(config.HeartbeatIntervalMS) * time.Millisecond
	}

	// Admission may block on a full buffer for up to the capacity wait timeout.
	if config.MaxPollIntervalMS > 0 {
		saramaConfig.Consumer.MaxProcessingTime = time.Duration(config.MaxPollIntervalMS) * time.Millisecond
	} else {
		saramaConfig.Consumer.MaxProcessingTime = 5 * time.Minute
	}

	group, err := sarama.NewConsumerGroup(config.BootstrapServers, config.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("Kafka listener created",
		zap.String("group_id", config.GroupID),
		zap.Strings("topics", config.Topics),
		zap.Strings("bootstrap_servers", config.BootstrapServers),
		zap.Int("session_timeout_ms", config.SessionTimeoutMS),
		zap.Int("max_poll_interval_ms", config.MaxPollIntervalMS),
	)

	return newListener(group, config, buf, logger, metrics), nil
}

func newListener(
	group sarama.ConsumerGroup,
	config ListenerConfig,
	buf buffer.Writer,
	logger *zap.Logger,
	metrics ListenerMetrics,
) *Listener {
	if config.PauseInitialBackoff <= 0 {
		config.PauseInitialBackoff = 100 * time.Millisecond
	}
	if config.PauseMaxBackoff <= 0 {
		config.PauseMaxBackoff = 10 * time.Second
	}
	if metrics == nil {
		metrics = nopListenerMetrics{}
	}

	return &Listener{
		group:   group,
		config:  config,
		buffer:  buf,
		logger:  logger.Named("listener"),
		metrics: metrics,
	}
}

// Run consumes until ctx is cancelled or the listener is closed.
// Each loop iteration is one consumer group session; rebalances start a new one.
func (l *Listener) Run(ctx context.Context) error {
	go l.logErrors()

	for {
		if err := l.group.Consume(ctx, l.config.Topics, l); err != nil {
			if stderrors.Is(err, sarama.ErrClosedConsumerGroup) {
				return errors.ErrListenerClosed
			}
			return fmt.Errorf("consumer group error: %w", err)
		}

		if ctx.Err() != nil {
			l.logger.Info("Listener context cancelled")
			return nil
		}
	}
}

func (l *Listener) logErrors() {
	for err := range l.group.Errors() {
		l.logger.Error("Consumer group error", zap.Error(err))
	}
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (l *Listener) Setup(session sarama.ConsumerGroupSession) error {
	l.mu.Lock()
	l.session = session
	l.mu.Unlock()

	l.logger.Info("Consumer group session setup",
		zap.String("member_id", session.MemberID()),
		zap.Int32("generation_id", session.GenerationID()),
		zap.Any("claims", session.Claims()),
	)

	l.metrics.IncRebalances(l.config.GroupID)
	for topic, partitions := range session.Claims() {
		l.metrics.SetPartitionsAssigned(topic, float64(len(partitions)))
	}
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (l *Listener) Cleanup(session sarama.ConsumerGroupSession) error {
	l.mu.Lock()
	if l.session == session {
		l.session = nil
	}
	l.mu.Unlock()

	l.logger.Info("Consumer group session cleanup", zap.String("member_id", session.MemberID()))
	return nil
}

// ConsumeClaim admits messages from a partition into the buffer, in order.
func (l *Listener) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	l.logger.Info("Started consuming partition",
		zap.String("topic", claim.Topic()),
		zap.Int32("partition", claim.Partition()),
		zap.Int64("initial_offset", claim.InitialOffset()),
	)

	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			if err := l.admit(session.Context(), l.toRecord(message)); err != nil {
				if session.Context().Err() != nil {
					return nil
				}
				l.logger.Error("Failed to admit record",
					zap.String("topic", message.Topic),
					zap.Int32("partition", message.Partition),
					zap.Int64("offset", message.Offset),
					zap.Error(err),
				)
				return err
			}
			l.metrics.IncMessagesConsumed(message.Topic, message.Partition)

		case <-session.Context().Done():
			l.logger.Info("Session context done, stopping partition consumption",
				zap.String("topic", claim.Topic()),
				zap.Int32("partition", claim.Partition()),
			)
			return nil
		}
	}
}

// admit adds rec to the buffer. When the buffer stays full past its capacity
// wait timeout, fetching is paused and admission retried with backoff.
func (l *Listener) admit(ctx context.Context, rec record.Record) error {
	err := l.buffer.Add(ctx, rec)
	var timeoutErr *errors.CapacityTimeoutError
	if err == nil || !stderrors.As(err, &timeoutErr) {
		return err
	}

	l.pause(timeoutErr)
	defer l.resume()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.config.PauseInitialBackoff
	b.MaxInterval = l.config.PauseMaxBackoff
	b.MaxElapsedTime = 0

	return backoff.Retry(func() error {
		err := l.buffer.Add(ctx, rec)
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func (l *Listener) pause(cause *errors.CapacityTimeoutError) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.paused++
	if l.paused > 1 {
		return
	}

	l.group.PauseAll()
	l.metrics.IncListenerPauses(l.config.GroupID)
	l.logger.Warn("Buffer full, pausing fetch",
		zap.Int("capacity", cause.Capacity),
		zap.Duration("waited", cause.Waited),
	)
}

func (l *Listener) resume() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.paused--
	if l.paused > 0 {
		return
	}

	l.group.ResumeAll()
	l.logger.Info("Buffer accepting records, resuming fetch")
}

// Commit marks offset+1 for the last kafka-origin record of every partition
// still claimed by the current session, then commits synchronously.
// Records from partitions no longer claimed are skipped: they will be redelivered.
func (l *Listener) Commit(ctx context.Context, records []record.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.ErrListenerClosed
	}

	next := make(map[record.PartitionID]int64)
	for i := range records {
		src := records[i].Source
		if src.Origin != record.OriginKafka {
			continue
		}
		pid := record.PartitionID{Topic: src.Topic, Partition: src.Partition}
		if offset, ok := next[pid]; !ok || src.Offset+1 > offset {
			next[pid] = src.Offset + 1
		}
	}
	if len(next) == 0 {
		return nil
	}

	session := l.session
	var claimed map[string][]int32
	if session != nil {
		claimed = session.Claims()
	}

	marked := 0
	for pid, offset := range next {
		if session == nil || !contains(claimed[pid.Topic], pid.Partition) {
			l.metrics.IncOffsetCommits(pid.Topic, pid.Partition, "skipped")
			l.logger.Debug("Partition no longer claimed, skipping commit",
				zap.String("partition", pid.String()),
				zap.Int64("offset", offset),
			)
			continue
		}
		session.MarkOffset(pid.Topic, pid.Partition, offset, "")
		l.metrics.IncOffsetCommits(pid.Topic, pid.Partition, "success")
		marked++
	}

	if marked > 0 {
		session.Commit()
	}
	return nil
}

// Close closes the consumer group, ending Run.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.logger.Info("Closing Kafka listener")
	if err := l.group.Close(); err != nil {
		l.logger.Error("Error closing consumer group", zap.Error(err))
		return err
	}
	return nil
}

// toRecord converts a consumed message into a record for the destination topic.
func (l *Listener) toRecord(message *sarama.ConsumerMessage) record.Record {
	headers := make([]record.Header, 0, len(message.Headers))
	for _, h := range message.Headers {
		if h == nil {
			continue
		}
		headers = append(headers, record.Header{Key: string(h.Key), Value: h.Value})
	}

	return record.Record{
		ID:        fmt.Sprintf("%s-%d-%d", message.Topic, message.Partition, message.Offset),
		Topic:     l.config.TopicPrefix + message.Topic,
		Key:       message.Key,
		Value:     message.Value,
		Headers:   headers,
		Timestamp: message.Timestamp,
		Source: record.SourceMetadata{
			Origin:    record.OriginKafka,
			Topic:     message.Topic,
			Partition: message.Partition,
			Offset:    message.Offset,
		},
	}
}

func contains(partitions []int32, partition int32) bool {
	for _, p := range partitions {
		if p == partition {
			return true
		}
	}
	return false
}

type nopListenerMetrics struct{}

func (nopListenerMetrics) IncMessagesConsumed(string, int32)      {}
func (nopListenerMetrics) IncRebalances(string)                   {}
func (nopListenerMetrics) SetPartitionsAssigned(string, float64)  {}
func (nopListenerMetrics) IncListenerPauses(string)               {}
func (nopListenerMetrics) IncOffsetCommits(string, int32, string) {}
