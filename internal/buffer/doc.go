// Package buffer provides a capacity-bounded, backpressure-aware record buffer.
//
// BoundedRecordBuffer decouples concurrent producers (Kafka listeners, HTTP
// ingestion) from a single consumer that drains batches on a fixed cadence.
//
// # Construction
//
// Buffers are assembled with a Builder starting from default values:
//
//	buf, err := buffer.NewBuilder().
//	    MaximumCapacity(10000).
//	    BatchSize(500).
//	    EmptyWaitDuration(50 * time.Millisecond).
//	    CapacityWaitTimeout(30 * time.Second).
//	    Build()
//
// Build returns a *errors.ConfigError when a parameter is out of range.
//
// # Write Path
//
// Add and AddAll first acquire permits from the optional write rate limiter,
// then wait for capacity. A waiting writer wakes as soon as a drain frees space,
// and re-checks at least every CapacityPollInterval. When the buffer stays full
// for CapacityWaitTimeout the call fails with *errors.CapacityTimeoutError and
// nothing is admitted:
//
//	err := buf.Add(ctx, rec)
//	if errors.Is(err, errors.ErrBufferFull) {
//	    // pause upstream ingestion and retry later
//	}
//
// AddAll is all-or-nothing. It waits until the whole batch fits, and a batch
// larger than MaximumCapacity fails immediately with ErrBatchExceedsCapacity.
//
// # Read Path
//
// DrainBatch pops up to BatchSize records in insertion order:
//
//	for {
//	    batch, ok := buf.DrainBatch(ctx)
//	    if !ok {
//	        break // nothing buffered right now
//	    }
//	    deliver(batch)
//	}
//
// On an empty buffer DrainBatch waits once for EmptyWaitDuration and returns false.
//
// # Time
//
// All waits run on an injected clockwork.Clock, so tests drive them with a fake clock.
package buffer
