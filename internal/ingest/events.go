package ingest

import (
	"net/http"
	"sort"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jittakal/kafsource/pkg/record"
)

// TopicExtension names the CloudEvents extension selecting the destination topic.
const TopicExtension = "topic"

const headerPrefix = "ce_"

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)

	event, err := cloudevents.NewEventFromHTTPRequest(r)
	if err != nil {
		h.logger.Debug("Rejected malformed CloudEvent", zap.Error(err))
		h.writeError(w, EventsPath, bodyErrorStatus(err, http.StatusBadRequest), err)
		return
	}
	if err := event.Validate(); err != nil {
		h.writeError(w, EventsPath, http.StatusBadRequest, err)
		return
	}

	rec := h.eventRecord(event)
	if err := h.validator.Validate(&rec); err != nil {
		h.writeError(w, EventsPath, http.StatusBadRequest, err)
		return
	}

	if err := h.buffer.Add(r.Context(), rec); err != nil {
		h.logger.Warn("Failed to admit CloudEvent",
			zap.String("event_id", event.ID()),
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		h.writeError(w, EventsPath, admissionStatus(err), err)
		return
	}

	h.metrics.AddIngestRecords(EventsPath, 1)
	h.write(w, EventsPath, http.StatusAccepted, Response{Accepted: 1})
}

// eventRecord converts a CloudEvent into a record. Context attributes become
// ce_-prefixed headers; the topic extension selects the destination topic.
func (h *Handler) eventRecord(event *cloudevents.Event) record.Record {
	topic := h.config.DefaultTopic
	headers := []record.Header{
		{Key: headerPrefix + "id", Value: []byte(event.ID())},
		{Key: headerPrefix + "source", Value: []byte(event.Source())},
		{Key: headerPrefix + "type", Value: []byte(event.Type())},
		{Key: headerPrefix + "specversion", Value: []byte(event.SpecVersion())},
	}
	if subject := event.Subject(); subject != "" {
		headers = append(headers, record.Header{Key: headerPrefix + "subject", Value: []byte(subject)})
	}
	if contentType := event.DataContentType(); contentType != "" {
		headers = append(headers, record.Header{Key: "content-type", Value: []byte(contentType)})
	}

	extensions := event.Extensions()
	names := make([]string, 0, len(extensions))
	for name := range extensions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s, err := types.ToString(extensions[name])
		if err != nil {
			continue
		}
		if name == TopicExtension {
			if s != "" {
				topic = s
			}
			continue
		}
		headers = append(headers, record.Header{Key: headerPrefix + name, Value: []byte(s)})
	}

	key := event.Subject()
	if key == "" {
		key = event.ID()
	}

	timestamp := event.Time()
	if timestamp.IsZero() {
		timestamp = h.now()
	} else {
		headers = append(headers, record.Header{Key: headerPrefix + "time", Value: []byte(timestamp.UTC().Format(time.RFC3339Nano))})
	}

	return record.Record{
		ID:        uuid.NewString(),
		Topic:     topic,
		Key:       []byte(key),
		Value:     event.Data(),
		Headers:   headers,
		Timestamp: timestamp,
		Source:    record.SourceMetadata{Origin: record.OriginHTTP},
	}
}
