// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
	"time"

	"github.com/jittakal/kafsource/pkg/record"
)

// Sentinel errors for common conditions.
var (
	ErrBufferFull           = errors.New("buffer is full")
	ErrBatchExceedsCapacity = errors.New("batch exceeds buffer capacity")
	ErrListenerClosed       = errors.New("listener is closed")
	ErrSinkClosed           = errors.New("sink is closed")
	ErrInvalidRecord        = errors.New("invalid record")
	ErrWriterClosed         = errors.New("storage writer is closed")
	ErrConnectionLost       = errors.New("connection lost")
)

// ConfigError reports an invalid buffer configuration parameter.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// CapacityTimeoutError reports that a buffer stayed full for longer than the
// configured capacity wait timeout. The records were not admitted.
type CapacityTimeoutError struct {
	Capacity  int
	Requested int
	Waited    time.Duration
}

func (e *CapacityTimeoutError) Error() string {
	return fmt.Sprintf("buffer capacity timeout: capacity=%d requested=%d waited=%s",
		e.Capacity, e.Requested, e.Waited)
}

// Is reports CapacityTimeoutError as an ErrBufferFull condition.
func (e *CapacityTimeoutError) Is(target error) bool {
	return target == ErrBufferFull
}

// IsRetryable always returns true: space may free up on a later attempt.
func (e *CapacityTimeoutError) IsRetryable() bool {
	return true
}

// ValidationError represents a record validation failure.
type ValidationError struct {
	RecordID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: record_id=%s field=%s: %s",
		e.RecordID, e.Field, e.Reason)
}

// Is reports ValidationError as an ErrInvalidRecord condition.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRecord
}

// DeliveryError represents a failure to hand a batch to a sink.
type DeliveryError struct {
	Sink    string
	Records int
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery error: sink=%s records=%d: %v", e.Sink, e.Records, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the batch may be delivered on another attempt.
func (e *DeliveryError) IsRetryable() bool {
	return !errors.Is(e.Err, ErrSinkClosed) && !errors.Is(e.Err, ErrInvalidRecord)
}

// StorageError represents a storage operation failure.
type StorageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s path=%s: %v",
		e.Operation, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if a StorageError is retryable based on the operation type.
func (e *StorageError) IsRetryable() bool {
	// Write and upload operations are generally retryable
	return e.Operation == "write" || e.Operation == "upload" || e.Operation == "create"
}

// CommitError represents an offset commit failure.
type CommitError struct {
	PartitionID record.PartitionID
	Offset      int64
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit error: partition=%s offset=%d: %v",
		e.PartitionID, e.Offset, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to checking sentinel errors.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	if errors.Is(err, ErrConnectionLost) {
		return true
	}

	return false
}
