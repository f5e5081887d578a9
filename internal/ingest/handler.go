// Package ingest implements the HTTP ingestion endpoints.
//
// Two routes admit records into the buffer:
//
//	POST /v1/events   a single CloudEvent, binary or structured HTTP binding
//	POST /v1/records  a JSON array of records, admitted all-or-nothing
//
// Both answer 202 once the records are buffered and 503 with Retry-After
// while the buffer stays full.
package ingest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/kafsource/internal/errors"
	"github.com/jittakal/kafsource/internal/validator"
	"github.com/jittakal/kafsource/pkg/buffer"
)

// Endpoint paths.
const (
	EventsPath  = "/v1/events"
	RecordsPath = "/v1/records"
)

// Config contains ingestion settings.
type Config struct {
	DefaultTopic      string
	MaxBatchRecords   int
	MaxBodyBytes      int64
	RetryAfterSeconds int
}

// Metrics defines metrics operations for ingestion.
type Metrics interface {
	IncIngestRequests(endpoint string, code int)
	AddIngestRecords(endpoint string, n int)
}

// Response is the body of every ingest response.
type Response struct {
	Accepted int    `json:"accepted,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Handler admits HTTP requests into a record buffer.
type Handler struct {
	buffer    buffer.Writer
	validator *validator.RecordValidator
	config    Config
	logger    *zap.Logger
	metrics   Metrics
	now       func() time.Time
}

// NewHandler creates an ingest handler writing into buf.
func NewHandler(config Config, buf buffer.Writer, v *validator.RecordValidator, logger *zap.Logger, metrics Metrics) *Handler {
	if config.MaxBatchRecords <= 0 {
		config.MaxBatchRecords = 1000
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 10 << 20
	}
	if config.RetryAfterSeconds <= 0 {
		config.RetryAfterSeconds = 1
	}
	if v == nil {
		v = validator.NewRecordValidator(0)
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	return &Handler{
		buffer:    buf,
		validator: v,
		config:    config,
		logger:    logger.Named("ingest"),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Routes registers the ingest endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+EventsPath, h.handleEvent)
	mux.HandleFunc("POST "+RecordsPath, h.handleRecords)
}

// admissionStatus maps a buffer admission error to a response status.
func admissionStatus(err error) int {
	switch {
	case stderrors.Is(err, errors.ErrBatchExceedsCapacity):
		return http.StatusRequestEntityTooLarge
	case stderrors.Is(err, errors.ErrBufferFull):
		return http.StatusServiceUnavailable
	case stderrors.Is(err, errors.ErrInvalidRecord):
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) writeError(w http.ResponseWriter, endpoint string, code int, err error) {
	if code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(h.config.RetryAfterSeconds))
	}
	h.write(w, endpoint, code, Response{Error: err.Error()})
}

func (h *Handler) write(w http.ResponseWriter, endpoint string, code int, resp Response) {
	h.metrics.IncIngestRequests(endpoint, code)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode ingest response", zap.Error(err))
	}
}

type nopMetrics struct{}

func (nopMetrics) IncIngestRequests(string, int) {}
func (nopMetrics) AddIngestRecords(string, int)  {}
