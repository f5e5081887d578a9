// Package validator provides record validation for ingestion.
package validator

import (
	"fmt"
	"regexp"

	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/pkg/record"
)

// MaxTopicLength is the longest topic name Kafka accepts.
const MaxTopicLength = 249

// DefaultMaxValueBytes is the Kafka broker default for message.max.bytes.
const DefaultMaxValueBytes = 1048588

var topicPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// RecordValidator validates records before they are admitted to the buffer.
type RecordValidator struct {
	maxValueBytes int
}

// NewRecordValidator creates a new record validator.
// A non-positive maxValueBytes selects DefaultMaxValueBytes.
func NewRecordValidator(maxValueBytes int) *RecordValidator {
	if maxValueBytes <= 0 {
		maxValueBytes = DefaultMaxValueBytes
	}
	return &RecordValidator{maxValueBytes: maxValueBytes}
}

// Validate validates a record.
func (v *RecordValidator) Validate(r *record.Record) error {
	if r.Topic == "" {
		return &errors.ValidationError{
			RecordID: r.ID,
			Field:    "topic",
			Reason:   "required field is missing",
		}
	}

	if len(r.Topic) > MaxTopicLength {
		return &errors.ValidationError{
			RecordID: r.ID,
			Field:    "topic",
			Reason:   fmt.Sprintf("length %d exceeds %d", len(r.Topic), MaxTopicLength),
		}
	}

	if r.Topic == "." || r.Topic == ".." || !topicPattern.MatchString(r.Topic) {
		return &errors.ValidationError{
			RecordID: r.ID,
			Field:    "topic",
			Reason:   fmt.Sprintf("invalid topic name: %q", r.Topic),
		}
	}

	if r.Partition != nil && *r.Partition < 0 {
		return &errors.ValidationError{
			RecordID: r.ID,
			Field:    "partition",
			Reason:   fmt.Sprintf("must not be negative: %d", *r.Partition),
		}
	}

	if len(r.Value) > v.maxValueBytes {
		return &errors.ValidationError{
			RecordID: r.ID,
			Field:    "value",
			Reason:   fmt.Sprintf("size %d exceeds %d bytes", len(r.Value), v.maxValueBytes),
		}
	}

	for i, h := range r.Headers {
		if h.Key == "" {
			return &errors.ValidationError{
				RecordID: r.ID,
				Field:    fmt.Sprintf("headers[%d].key", i),
				Reason:   "required field is missing",
			}
		}
	}

	return nil
}

// ValidateAll validates every record, returning the first failure.
func (v *RecordValidator) ValidateAll(records []record.Record) error {
	for i := range records {
		if err := v.Validate(&records[i]); err != nil {
			return err
		}
	}
	return nil
}
