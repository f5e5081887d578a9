package task

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/buffer"
	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]record.Record
	calls   int
	put     func(ctx context.Context, calls int) error
}

func (s *fakeSink) Name() string { return "fake" }
func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) Put(ctx context.Context, records []record.Record) error {
	s.mu.Lock()
	s.calls++
	calls := s.calls
	s.mu.Unlock()

	if s.put != nil {
		if err := s.put(ctx, calls); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.batches = append(s.batches, append([]record.Record(nil), records...))
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) delivered() []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []record.Record
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *fakeSink) batchSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sizes := make([]int, len(s.batches))
	for i, b := range s.batches {
		sizes[i] = len(b)
	}
	return sizes
}

type fakeDLQ struct {
	mu      sync.Mutex
	records []record.Record
	reasons []string
}

func (d *fakeDLQ) Publish(_ context.Context, rec record.Record, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, rec)
	d.reasons = append(d.reasons, reason)
	return nil
}

func (d *fakeDLQ) Close() error { return nil }

type fakeCommitter struct {
	mu      sync.Mutex
	records []record.Record
}

func (c *fakeCommitter) Commit(_ context.Context, records []record.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
	return nil
}

func (c *fakeCommitter) committed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

type fakeMetrics struct {
	mu        sync.Mutex
	batches   map[string]int
	delivered int
	retries   int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{batches: map[string]int{}}
}

func (m *fakeMetrics) IncBatches(_ string, status string) {
	m.mu.Lock()
	m.batches[status]++
	m.mu.Unlock()
}

func (m *fakeMetrics) AddRecordsDelivered(_ string, n int) {
	m.mu.Lock()
	m.delivered += n
	m.mu.Unlock()
}

func (m *fakeMetrics) ObserveDeliveryDuration(string, float64) {}

func (m *fakeMetrics) IncDeliveryRetries(string) {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

func testConfig() Config {
	return Config{
		PollInterval:    5 * time.Millisecond,
		ShutdownTimeout: time.Second,
		Retry: RetryConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Multiplier:      2,
			MaxElapsedTime:  time.Second,
		},
	}
}

func newTestBuffer(t *testing.T, batchSize int) *buffer.BoundedRecordBuffer {
	t.Helper()
	buf, err := buffer.NewBuilder().
		MaximumCapacity(100).
		BatchSize(batchSize).
		EmptyWaitDuration(time.Millisecond).
		Build()
	require.NoError(t, err)
	return buf
}

func fill(t *testing.T, buf *buffer.BoundedRecordBuffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, buf.Add(context.Background(), record.Record{ID: fmt.Sprintf("r-%d", i), Topic: "orders"}))
	}
}

func ids(records []record.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestNew_InvalidConfig(t *testing.T) {
	buf := newTestBuffer(t, 2)

	_, err := New(Config{ShutdownTimeout: time.Second}, buf, &fakeSink{}, zap.NewNop())
	var configErr *errors.ConfigError
	require.True(t, stderrors.As(err, &configErr))
	assert.Equal(t, "task.poll_interval", configErr.Field)

	_, err = New(Config{PollInterval: time.Second}, buf, &fakeSink{}, zap.NewNop())
	require.True(t, stderrors.As(err, &configErr))
	assert.Equal(t, "task.shutdown_timeout", configErr.Field)
}

func TestTask_PollCatchesUp(t *testing.T) {
	buf := newTestBuffer(t, 2)
	fill(t, buf, 5)

	snk := &fakeSink{}
	committer := &fakeCommitter{}
	metrics := newFakeMetrics()
	task, err := New(testConfig(), buf, snk, zap.NewNop(), WithCommitters(committer), WithMetrics(metrics))
	require.NoError(t, err)

	task.poll(context.Background())

	assert.Equal(t, []int{2, 2, 1}, snk.batchSizes())
	assert.Equal(t, []string{"r-0", "r-1", "r-2", "r-3", "r-4"}, ids(snk.delivered()))
	assert.Equal(t, 5, committer.committed())
	assert.Equal(t, 3, metrics.batches["success"])
	assert.Equal(t, 5, metrics.delivered)
	assert.Zero(t, buf.Len())
}

func TestTask_RunDeliversAndStops(t *testing.T) {
	buf := newTestBuffer(t, 10)
	snk := &fakeSink{}
	committer := &fakeCommitter{}
	task, err := New(testConfig(), buf, snk, zap.NewNop(), WithCommitters(committer))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	fill(t, buf, 3)
	require.Eventually(t, func() bool { return committer.committed() == 3 }, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Len(t, snk.delivered(), 3)
}

func TestTask_RetriesTransientFailures(t *testing.T) {
	buf := newTestBuffer(t, 10)
	fill(t, buf, 2)

	snk := &fakeSink{put: func(_ context.Context, calls int) error {
		if calls <= 2 {
			return &errors.DeliveryError{Sink: "fake", Records: 2, Err: errors.ErrConnectionLost}
		}
		return nil
	}}
	dlq := &fakeDLQ{}
	metrics := newFakeMetrics()
	task, err := New(testConfig(), buf, snk, zap.NewNop(), WithDLQ(dlq), WithMetrics(metrics))
	require.NoError(t, err)

	task.poll(context.Background())

	assert.Len(t, snk.delivered(), 2)
	assert.Equal(t, 2, metrics.retries)
	assert.Equal(t, 1, metrics.batches["success"])
	assert.Empty(t, dlq.records)
}

func TestTask_PermanentFailureGoesToDLQ(t *testing.T) {
	buf := newTestBuffer(t, 10)
	fill(t, buf, 3)

	snk := &fakeSink{put: func(context.Context, int) error {
		return &errors.DeliveryError{Sink: "fake", Records: 3, Err: errors.ErrSinkClosed}
	}}
	dlq := &fakeDLQ{}
	committer := &fakeCommitter{}
	metrics := newFakeMetrics()
	task, err := New(testConfig(), buf, snk, zap.NewNop(), WithDLQ(dlq), WithCommitters(committer), WithMetrics(metrics))
	require.NoError(t, err)

	task.poll(context.Background())

	assert.Equal(t, 1, snk.calls, "non-retryable errors must not be retried")
	assert.Equal(t, []string{"r-0", "r-1", "r-2"}, ids(dlq.records))
	assert.Equal(t, []string{ReasonDeliveryFailed, ReasonDeliveryFailed, ReasonDeliveryFailed}, dlq.reasons)
	assert.Equal(t, 3, committer.committed())
	assert.Equal(t, 1, metrics.batches["failure"])
	assert.Zero(t, metrics.retries)
}

func TestTask_RetriesStopAfterMaxElapsedTime(t *testing.T) {
	buf := newTestBuffer(t, 10)
	fill(t, buf, 1)

	snk := &fakeSink{put: func(context.Context, int) error {
		return errors.ErrConnectionLost
	}}
	dlq := &fakeDLQ{}
	config := testConfig()
	config.Retry.MaxElapsedTime = 20 * time.Millisecond
	task, err := New(config, buf, snk, zap.NewNop(), WithDLQ(dlq))
	require.NoError(t, err)

	task.poll(context.Background())

	assert.Greater(t, snk.calls, 1)
	assert.Len(t, dlq.records, 1)
}

func TestTask_ShutdownDrainsBuffer(t *testing.T) {
	buf := newTestBuffer(t, 2)
	fill(t, buf, 5)

	snk := &fakeSink{}
	config := testConfig()
	config.PollInterval = time.Hour
	task, err := New(config, buf, snk, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, task.Run(ctx))
	assert.Equal(t, []string{"r-0", "r-1", "r-2", "r-3", "r-4"}, ids(snk.delivered()))
	assert.Zero(t, buf.Len())
}

func TestTask_ShutdownDeliversInterruptedBatch(t *testing.T) {
	buf := newTestBuffer(t, 10)
	fill(t, buf, 2)

	ctx, cancel := context.WithCancel(context.Background())
	snk := &fakeSink{put: func(putCtx context.Context, calls int) error {
		if calls == 1 {
			cancel()
			<-putCtx.Done()
			return putCtx.Err()
		}
		return nil
	}}
	dlq := &fakeDLQ{}
	task, err := New(testConfig(), buf, snk, zap.NewNop(), WithDLQ(dlq))
	require.NoError(t, err)

	task.poll(ctx)
	require.Len(t, task.pending, 2)

	require.NoError(t, task.Run(ctx))
	assert.Equal(t, []string{"r-0", "r-1"}, ids(snk.delivered()))
	assert.Empty(t, dlq.records)
}

func TestTask_ShutdownTimeout(t *testing.T) {
	buf := newTestBuffer(t, 10)
	fill(t, buf, 3)

	snk := &fakeSink{put: func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	config := testConfig()
	config.ShutdownTimeout = 20 * time.Millisecond
	task, err := New(config, buf, snk, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = task.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "3 records left")
}
