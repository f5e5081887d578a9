package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
)

func testRecord(i int) record.Record {
	return record.Record{
		ID:    fmt.Sprintf("rec-%d", i),
		Topic: "test-topic",
		Key:   []byte(fmt.Sprintf("key-%d", i)),
		Value: []byte(fmt.Sprintf(`{"seq": %d}`, i)),
	}
}

func fill(t *testing.T, buf *BoundedRecordBuffer, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, buf.Add(context.Background(), testRecord(i)))
	}
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for writer")
		return nil
	}
}

type recordingObserver struct {
	mu          sync.Mutex
	admitted    int
	rejected    map[string]int
	drained     int
	emptyPolls  int
	maxBuffered int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{rejected: make(map[string]int)}
}

func (o *recordingObserver) ObserveAdmitted(n int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.admitted += n
}

func (o *recordingObserver) ObserveRejected(n int, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rejected[reason] += n
}

func (o *recordingObserver) ObserveDrained(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drained += n
}

func (o *recordingObserver) ObserveEmptyPoll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.emptyPolls++
}

func (o *recordingObserver) SetBuffered(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n > o.maxBuffered {
		o.maxBuffered = n
	}
}

func TestBuilder_Defaults(t *testing.T) {
	buf, err := NewBuilder().Build()
	require.NoError(t, err)

	assert.Equal(t, DefaultMaximumCapacity, buf.Capacity())
	assert.Equal(t, 1024, buf.BatchSize())
	assert.Equal(t, time.Duration(0), buf.emptyWait)
	assert.Equal(t, 100*time.Millisecond, buf.pollInterval)
	assert.Equal(t, 60*time.Second, buf.waitTimeout)
	assert.Nil(t, buf.limiter)
	assert.NotNil(t, buf.clock)
	assert.Equal(t, 0, buf.Len())
}

func TestBuilder_Build_Validation(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
		field   string
	}{
		{"zero capacity", NewBuilder().MaximumCapacity(0), "maximum_capacity"},
		{"negative capacity", NewBuilder().MaximumCapacity(-1), "maximum_capacity"},
		{"zero batch size", NewBuilder().BatchSize(0), "batch_size"},
		{"negative empty wait", NewBuilder().EmptyWaitDuration(-time.Millisecond), "empty_wait_duration"},
		{"zero poll interval", NewBuilder().CapacityPollInterval(0), "capacity_poll_interval"},
		{"zero wait timeout", NewBuilder().CapacityWaitTimeout(0), "capacity_wait_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := tt.builder.Build()
			require.Error(t, err)
			assert.Nil(t, buf)

			var cfgErr *apperrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestBuilder_Build_ZeroEmptyWaitIsValid(t *testing.T) {
	_, err := NewBuilder().EmptyWaitDuration(0).Build()
	require.NoError(t, err)
}

func TestBoundedRecordBuffer_FIFO(t *testing.T) {
	buf, err := NewBuilder().MaximumCapacity(100).BatchSize(7).Build()
	require.NoError(t, err)

	fill(t, buf, 30)
	require.NoError(t, buf.AddAll(context.Background(), []record.Record{testRecord(30), testRecord(31)}))

	var drained []record.Record
	for {
		batch, ok := buf.DrainBatch(context.Background())
		if !ok {
			break
		}
		assert.LessOrEqual(t, len(batch), 7)
		drained = append(drained, batch...)
	}

	require.Len(t, drained, 32)
	for i, rec := range drained {
		assert.Equal(t, fmt.Sprintf("rec-%d", i), rec.ID)
	}
}

func TestBoundedRecordBuffer_EndToEndBatches(t *testing.T) {
	buf, err := NewBuilder().MaximumCapacity(1000).BatchSize(100).Build()
	require.NoError(t, err)

	fill(t, buf, 250)

	ctx := context.Background()
	var sizes []int
	for i := 0; i < 3; i++ {
		batch, ok := buf.DrainBatch(ctx)
		require.True(t, ok)
		sizes = append(sizes, len(batch))
	}
	assert.Equal(t, []int{100, 100, 50}, sizes)

	batch, ok := buf.DrainBatch(ctx)
	assert.False(t, ok)
	assert.Empty(t, batch)
}

func TestBoundedRecordBuffer_DrainAppendsToOut(t *testing.T) {
	buf, err := NewBuilder().MaximumCapacity(10).BatchSize(2).Build()
	require.NoError(t, err)
	fill(t, buf, 3)

	out := []record.Record{testRecord(-1)}
	out, ok := buf.Drain(context.Background(), out)
	require.True(t, ok)
	require.Len(t, out, 3)
	assert.Equal(t, "rec--1", out[0].ID)
	assert.Equal(t, "rec-0", out[1].ID)
	assert.Equal(t, "rec-1", out[2].ID)
	assert.Equal(t, 1, buf.Len())
}

func TestBoundedRecordBuffer_DrainReleasesRecords(t *testing.T) {
	buf, err := NewBuilder().MaximumCapacity(10).BatchSize(2).Build()
	require.NoError(t, err)
	fill(t, buf, 3)

	backing := buf.records[:3]
	_, ok := buf.DrainBatch(context.Background())
	require.True(t, ok)

	assert.Equal(t, record.Record{}, backing[0])
	assert.Equal(t, record.Record{}, backing[1])
	assert.Equal(t, "rec-2", backing[2].ID)
}

func TestBoundedRecordBuffer_CapacityTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	observer := newRecordingObserver()
	buf, err := NewBuilder().
		MaximumCapacity(5).
		CapacityPollInterval(10 * time.Millisecond).
		CapacityWaitTimeout(50 * time.Millisecond).
		Clock(clock).
		Observer(observer).
		Build()
	require.NoError(t, err)
	fill(t, buf, 5)

	errCh := make(chan error, 1)
	go func() {
		errCh <- buf.Add(context.Background(), testRecord(99))
	}()

	for i := 0; i < 5; i++ {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Millisecond)
	}

	err = waitErr(t, errCh)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBufferFull)

	var timeoutErr *apperrors.CapacityTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 5, timeoutErr.Capacity)
	assert.Equal(t, 1, timeoutErr.Requested)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Waited)

	assert.Equal(t, 5, buf.Len())
	assert.Equal(t, 1, observer.rejected[RejectCapacityTimeout])

	batch, ok := buf.DrainBatch(context.Background())
	require.True(t, ok)
	for _, rec := range batch {
		assert.NotEqual(t, "rec-99", rec.ID)
	}
}

func TestBoundedRecordBuffer_CapacityTimeoutWallClock(t *testing.T) {
	buf, err := NewBuilder().
		MaximumCapacity(5).
		CapacityPollInterval(10 * time.Millisecond).
		CapacityWaitTimeout(50 * time.Millisecond).
		Build()
	require.NoError(t, err)
	fill(t, buf, 5)

	start := time.Now()
	err = buf.Add(context.Background(), testRecord(99))
	elapsed := time.Since(start)

	var timeoutErr *apperrors.CapacityTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 5, buf.Len())
}

func TestBoundedRecordBuffer_AddWakesOnDrain(t *testing.T) {
	clock := clockwork.NewFakeClock()
	buf, err := NewBuilder().
		MaximumCapacity(2).
		BatchSize(1).
		CapacityWaitTimeout(time.Minute).
		Clock(clock).
		Build()
	require.NoError(t, err)
	fill(t, buf, 2)

	errCh := make(chan error, 1)
	go func() {
		errCh <- buf.Add(context.Background(), testRecord(2))
	}()

	clock.BlockUntil(1)
	batch, ok := buf.DrainBatch(context.Background())
	require.True(t, ok)
	require.Len(t, batch, 1)

	require.NoError(t, waitErr(t, errCh))
	assert.Equal(t, 2, buf.Len())

	rest, ok := buf.DrainBatch(context.Background())
	require.True(t, ok)
	assert.Equal(t, "rec-1", rest[0].ID)
	rest, ok = buf.DrainBatch(context.Background())
	require.True(t, ok)
	assert.Equal(t, "rec-2", rest[0].ID)
}

func TestBoundedRecordBuffer_AddAllAllOrNothing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	buf, err := NewBuilder().
		MaximumCapacity(5).
		BatchSize(1).
		CapacityPollInterval(10 * time.Millisecond).
		CapacityWaitTimeout(50 * time.Millisecond).
		Clock(clock).
		Build()
	require.NoError(t, err)
	fill(t, buf, 4)

	batch := []record.Record{testRecord(10), testRecord(11), testRecord(12)}
	errCh := make(chan error, 1)
	go func() {
		errCh <- buf.AddAll(context.Background(), batch)
	}()

	// Freeing a single slot is not enough for the whole batch.
	clock.BlockUntil(1)
	_, ok := buf.DrainBatch(context.Background())
	require.True(t, ok)

	for i := 0; i < 5; i++ {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Millisecond)
	}

	err = waitErr(t, errCh)
	var timeoutErr *apperrors.CapacityTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 3, timeoutErr.Requested)
	assert.Equal(t, 3, buf.Len())
}

func TestBoundedRecordBuffer_AddAllWaitsForWholeBatch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	buf, err := NewBuilder().
		MaximumCapacity(4).
		BatchSize(4).
		CapacityWaitTimeout(time.Minute).
		Clock(clock).
		Build()
	require.NoError(t, err)
	fill(t, buf, 3)

	batch := []record.Record{testRecord(10), testRecord(11)}
	errCh := make(chan error, 1)
	go func() {
		errCh <- buf.AddAll(context.Background(), batch)
	}()

	clock.BlockUntil(1)
	drained, ok := buf.DrainBatch(context.Background())
	require.True(t, ok)
	require.Len(t, drained, 3)

	require.NoError(t, waitErr(t, errCh))

	rest, ok := buf.DrainBatch(context.Background())
	require.True(t, ok)
	require.Len(t, rest, 2)
	assert.Equal(t, "rec-10", rest[0].ID)
	assert.Equal(t, "rec-11", rest[1].ID)
}

func TestBoundedRecordBuffer_AddAllExceedsCapacity(t *testing.T) {
	observer := newRecordingObserver()
	buf, err := NewBuilder().MaximumCapacity(2).Observer(observer).Build()
	require.NoError(t, err)

	err = buf.AddAll(context.Background(), []record.Record{testRecord(0), testRecord(1), testRecord(2)})
	require.ErrorIs(t, err, apperrors.ErrBatchExceedsCapacity)
	assert.False(t, apperrors.IsRetryable(err))
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 3, observer.rejected[RejectBatchTooLarge])
}

func TestBoundedRecordBuffer_AddAllEmpty(t *testing.T) {
	buf, err := NewBuilder().MaximumCapacity(1).Build()
	require.NoError(t, err)

	require.NoError(t, buf.AddAll(context.Background(), nil))
	assert.Equal(t, 0, buf.Len())
}

func TestBoundedRecordBuffer_AddContextCanceled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	buf, err := NewBuilder().MaximumCapacity(1).Clock(clock).Build()
	require.NoError(t, err)
	fill(t, buf, 1)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- buf.Add(ctx, testRecord(1))
	}()

	clock.BlockUntil(1)
	cancel()

	err = waitErr(t, errCh)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, buf.Len())
}

func TestBoundedRecordBuffer_EmptyWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	observer := newRecordingObserver()
	buf, err := NewBuilder().
		EmptyWaitDuration(20 * time.Millisecond).
		Clock(clock).
		Observer(observer).
		Build()
	require.NoError(t, err)

	type result struct {
		batch []record.Record
		ok    bool
	}
	start := clock.Now()
	done := make(chan result, 1)
	go func() {
		batch, ok := buf.DrainBatch(context.Background())
		done <- result{batch, ok}
	}()

	clock.BlockUntil(1)
	select {
	case <-done:
		t.Fatal("DrainBatch returned before the empty wait elapsed")
	default:
	}

	clock.Advance(20 * time.Millisecond)

	select {
	case r := <-done:
		assert.False(t, r.ok)
		assert.Empty(t, r.batch)
	case <-time.After(5 * time.Second):
		t.Fatal("DrainBatch did not return after the empty wait")
	}
	assert.GreaterOrEqual(t, clock.Since(start), 20*time.Millisecond)
	assert.Equal(t, 1, observer.emptyPolls)
}

func TestBoundedRecordBuffer_EmptyWaitCanceled(t *testing.T) {
	buf, err := NewBuilder().EmptyWaitDuration(time.Hour).Build()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := buf.DrainBatch(ctx)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBoundedRecordBuffer_EmptyNoWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	buf, err := NewBuilder().Clock(clock).Build()
	require.NoError(t, err)

	batch, ok := buf.DrainBatch(context.Background())
	assert.False(t, ok)
	assert.Nil(t, batch)
}

func TestBoundedRecordBuffer_ConcurrentCapacityInvariant(t *testing.T) {
	const (
		producers   = 8
		perProducer = 500
		capacity    = 64
	)

	observer := newRecordingObserver()
	buf, err := NewBuilder().
		MaximumCapacity(capacity).
		BatchSize(16).
		CapacityPollInterval(time.Millisecond).
		CapacityWaitTimeout(10 * time.Second).
		Observer(observer).
		Build()
	require.NoError(t, err)

	ctx := context.Background()
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				rec := record.Record{ID: fmt.Sprintf("%d-%d", p, i), Source: record.SourceMetadata{Partition: int32(p), Offset: int64(i)}}
				if err := buf.Add(ctx, rec); err != nil {
					t.Errorf("Add() error = %v", err)
					return
				}
			}
		}(p)
	}

	producersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(producersDone)
	}()

	lastOffset := make(map[int32]int64)
	total := 0
	for total < producers*perProducer {
		assert.LessOrEqual(t, buf.Len(), capacity)

		batch, ok := buf.DrainBatch(ctx)
		if !ok {
			select {
			case <-producersDone:
				if buf.Len() == 0 {
					t.Fatalf("producers finished but only %d records drained", total)
				}
			default:
			}
			continue
		}
		assert.LessOrEqual(t, len(batch), 16)
		for _, rec := range batch {
			if last, seen := lastOffset[rec.Source.Partition]; seen {
				assert.Greater(t, rec.Source.Offset, last, "producer %d out of order", rec.Source.Partition)
			}
			lastOffset[rec.Source.Partition] = rec.Source.Offset
		}
		total += len(batch)
	}

	<-producersDone
	assert.Equal(t, producers*perProducer, total)
	assert.LessOrEqual(t, observer.maxBuffered, capacity)
	assert.Equal(t, producers*perProducer, observer.admitted)
	assert.Equal(t, producers*perProducer, observer.drained)
}

type stubLimiter struct {
	mu       sync.Mutex
	acquired []int
	err      error
}

func (l *stubLimiter) Acquire(_ context.Context, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.acquired = append(l.acquired, n)
	return nil
}

func TestBoundedRecordBuffer_RateLimiterConsulted(t *testing.T) {
	limiter := &stubLimiter{}
	buf, err := NewBuilder().MaximumCapacity(10).WriteRateLimiter(limiter).Build()
	require.NoError(t, err)

	require.NoError(t, buf.Add(context.Background(), testRecord(0)))
	require.NoError(t, buf.AddAll(context.Background(), []record.Record{testRecord(1), testRecord(2), testRecord(3)}))

	assert.Equal(t, []int{1, 3}, limiter.acquired)
	assert.Equal(t, 4, buf.Len())
}

func TestBoundedRecordBuffer_RateLimiterError(t *testing.T) {
	limitErr := errors.New("limiter closed")
	observer := newRecordingObserver()
	buf, err := NewBuilder().
		MaximumCapacity(10).
		WriteRateLimiter(&stubLimiter{err: limitErr}).
		Observer(observer).
		Build()
	require.NoError(t, err)

	err = buf.Add(context.Background(), testRecord(0))
	assert.ErrorIs(t, err, limitErr)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 1, observer.rejected[RejectRateLimit])
}

func TestBoundedRecordBuffer_FillRatio(t *testing.T) {
	buf, err := NewBuilder().MaximumCapacity(4).Build()
	require.NoError(t, err)
	fill(t, buf, 1)

	assert.InDelta(t, 0.25, buf.FillRatio(), 0.0001)
}
