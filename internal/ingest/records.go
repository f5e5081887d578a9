package ingest

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/pkg/record"
)

// RecordRequest is one element of a /v1/records request body.
type RecordRequest struct {
	Topic     string          `json:"topic"`
	Partition *int32          `json:"partition,omitempty"`
	Key       *string         `json:"key,omitempty"`
	Value     string          `json:"value"`
	Headers   []HeaderRequest `json:"headers,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// HeaderRequest is a record header in a /v1/records request body.
type HeaderRequest struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (h *Handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)

	var requests []RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&requests); err != nil {
		h.writeError(w, RecordsPath, bodyErrorStatus(err, http.StatusBadRequest), fmt.Errorf("invalid request body: %w", err))
		return
	}
	if len(requests) == 0 {
		h.writeError(w, RecordsPath, http.StatusBadRequest, fmt.Errorf("request contains no records"))
		return
	}
	if len(requests) > h.config.MaxBatchRecords {
		h.writeError(w, RecordsPath, http.StatusRequestEntityTooLarge,
			fmt.Errorf("batch of %d records exceeds limit of %d", len(requests), h.config.MaxBatchRecords))
		return
	}

	records := make([]record.Record, len(requests))
	for i := range requests {
		records[i] = h.requestRecord(&requests[i])
	}
	if err := h.validator.ValidateAll(records); err != nil {
		h.writeError(w, RecordsPath, http.StatusBadRequest, err)
		return
	}

	if err := h.buffer.AddAll(r.Context(), records); err != nil {
		h.logger.Warn("Failed to admit record batch",
			zap.Int("records", len(records)),
			zap.Error(err),
		)
		h.writeError(w, RecordsPath, admissionStatus(err), err)
		return
	}

	h.metrics.AddIngestRecords(RecordsPath, len(records))
	h.write(w, RecordsPath, http.StatusAccepted, Response{Accepted: len(records)})
}

func (h *Handler) requestRecord(req *RecordRequest) record.Record {
	rec := record.Record{
		ID:        uuid.NewString(),
		Topic:     req.Topic,
		Partition: req.Partition,
		Value:     []byte(req.Value),
		Timestamp: h.now(),
		Source:    record.SourceMetadata{Origin: record.OriginHTTP},
	}
	if rec.Topic == "" {
		rec.Topic = h.config.DefaultTopic
	}
	if req.Key != nil {
		rec.Key = []byte(*req.Key)
	}
	if req.Timestamp != nil {
		rec.Timestamp = *req.Timestamp
	}
	if len(req.Headers) > 0 {
		rec.Headers = make([]record.Header, len(req.Headers))
		for i, hdr := range req.Headers {
			rec.Headers[i] = record.Header{Key: hdr.Key, Value: []byte(hdr.Value)}
		}
	}
	return rec
}

// bodyErrorStatus returns 413 for bodies over the size limit and fallback otherwise.
func bodyErrorStatus(err error, fallback int) int {
	var maxBytesErr *http.MaxBytesError
	if stderrors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}
	return fallback
}
