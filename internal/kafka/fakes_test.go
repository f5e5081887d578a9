package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
)

type fakeConsumerGroup struct {
	mu      sync.Mutex
	pauses  int
	resumes int
	closed  bool
	errs    chan error
	consume func(ctx context.Context, handler sarama.ConsumerGroupHandler) error
}

func newFakeConsumerGroup() *fakeConsumerGroup {
	return &fakeConsumerGroup{errs: make(chan error)}
}

func (g *fakeConsumerGroup) Consume(ctx context.Context, _ []string, handler sarama.ConsumerGroupHandler) error {
	if g.consume != nil {
		return g.consume(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (g *fakeConsumerGroup) Errors() <-chan error { return g.errs }

func (g *fakeConsumerGroup) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.errs)
	}
	return nil
}

func (g *fakeConsumerGroup) Pause(map[string][]int32)  {}
func (g *fakeConsumerGroup) Resume(map[string][]int32) {}

func (g *fakeConsumerGroup) PauseAll() {
	g.mu.Lock()
	g.pauses++
	g.mu.Unlock()
}

func (g *fakeConsumerGroup) ResumeAll() {
	g.mu.Lock()
	g.resumes++
	g.mu.Unlock()
}

func (g *fakeConsumerGroup) counts() (pauses, resumes int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pauses, g.resumes
}

type fakeSession struct {
	ctx     context.Context
	claims  map[string][]int32
	mu      sync.Mutex
	marked  map[string]int64
	commits int
}

func newFakeSession(ctx context.Context, claims map[string][]int32) *fakeSession {
	return &fakeSession{ctx: ctx, claims: claims, marked: make(map[string]int64)}
}

func (s *fakeSession) Claims() map[string][]int32 { return s.claims }
func (s *fakeSession) MemberID() string           { return "member-1" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) Context() context.Context   { return s.ctx }

func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked[fmt.Sprintf("%s-%d", topic, partition)] = offset
}

func (s *fakeSession) ResetOffset(string, int32, int64, string) {}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.MarkOffset(msg.Topic, msg.Partition, msg.Offset+1, metadata)
}

func (s *fakeSession) Commit() {
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
}

type fakeClaim struct {
	topic     string
	partition int32
	messages  chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return c.topic }
func (c *fakeClaim) Partition() int32                         { return c.partition }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

type fakeMetrics struct {
	mu        sync.Mutex
	consumed  int
	pauses    int
	commits   map[string]int
	published map[string]int
	dlq       map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{commits: map[string]int{}, published: map[string]int{}, dlq: map[string]int{}}
}

func (m *fakeMetrics) IncMessagesConsumed(string, int32) {
	m.mu.Lock()
	m.consumed++
	m.mu.Unlock()
}

func (m *fakeMetrics) IncRebalances(string)                  {}
func (m *fakeMetrics) SetPartitionsAssigned(string, float64) {}

func (m *fakeMetrics) IncListenerPauses(string) {
	m.mu.Lock()
	m.pauses++
	m.mu.Unlock()
}

func (m *fakeMetrics) IncOffsetCommits(_ string, _ int32, status string) {
	m.mu.Lock()
	m.commits[status]++
	m.mu.Unlock()
}

func (m *fakeMetrics) IncMessagesPublished(_ string, status string) {
	m.mu.Lock()
	m.published[status]++
	m.mu.Unlock()
}

func (m *fakeMetrics) IncDLQRecords(reason string, status string) {
	m.mu.Lock()
	m.dlq[reason+"/"+status]++
	m.mu.Unlock()
}
