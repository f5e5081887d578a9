package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Buffer metrics
	BufferRecords    prometheus.Gauge
	BufferCapacity   prometheus.Gauge
	RecordsAdmitted  prometheus.Counter
	RecordsRejected  *prometheus.CounterVec
	AdmissionWait    prometheus.Histogram
	RecordsDrained   prometheus.Counter
	DrainBatchSize   prometheus.Histogram
	BufferEmptyPolls prometheus.Counter

	// Listener metrics
	MessagesConsumed   *prometheus.CounterVec
	OffsetCommits      *prometheus.CounterVec
	Rebalances         *prometheus.CounterVec
	PartitionsAssigned *prometheus.GaugeVec
	ListenerPauses     *prometheus.CounterVec

	// Sink and task metrics
	MessagesPublished *prometheus.CounterVec
	DLQRecords        *prometheus.CounterVec
	BatchesDelivered  *prometheus.CounterVec
	RecordsDelivered  *prometheus.CounterVec
	DeliveryDuration  *prometheus.HistogramVec
	DeliveryRetries   *prometheus.CounterVec

	// Ingest metrics
	IngestRequests *prometheus.CounterVec
	IngestRecords  *prometheus.CounterVec

	// Storage metrics
	FilesWritten         *prometheus.CounterVec
	StorageWriteDuration *prometheus.HistogramVec
	FileSize             *prometheus.HistogramVec
	StorageErrors        *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Buffer metrics
		BufferRecords: factory.NewGauge(prometheus.GaugeOpts{
			Name: "buffer_records",
			Help: "Current number of records held by the buffer",
		}),
		BufferCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "buffer_capacity",
			Help: "Maximum number of records the buffer holds",
		}),
		RecordsAdmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "buffer_records_admitted_total",
			Help: "Total number of records admitted to the buffer",
		}),
		RecordsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "buffer_records_rejected_total",
				Help: "Total number of records not admitted to the buffer",
			},
			[]string{"reason"},
		),
		AdmissionWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "buffer_admission_wait_seconds",
			Help:    "Time writers spent waiting for buffer capacity",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
		}),
		RecordsDrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "buffer_drained_records_total",
			Help: "Total number of records drained from the buffer",
		}),
		DrainBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "buffer_drain_batch_size",
			Help:    "Number of records returned per drain",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 to 16384
		}),
		BufferEmptyPolls: factory.NewCounter(prometheus.CounterOpts{
			Name: "buffer_empty_polls_total",
			Help: "Total number of drains that found no records",
		}),

		// Listener metrics
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_consumed_total",
				Help: "Total number of messages consumed from Kafka",
			},
			[]string{"topic", "partition"},
		),
		OffsetCommits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_offset_commit_total",
				Help: "Total number of offset commits",
			},
			[]string{"topic", "partition", "status"},
		),
		Rebalances: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_rebalance_total",
				Help: "Total number of consumer group rebalances",
			},
			[]string{"group"},
		),
		PartitionsAssigned: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kafka_partitions_assigned",
				Help: "Number of partitions currently assigned to this consumer",
			},
			[]string{"topic"},
		),
		ListenerPauses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_listener_pauses_total",
				Help: "Total number of times fetching was paused on buffer backpressure",
			},
			[]string{"group"},
		),

		// Sink and task metrics
		MessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_messages_published_total",
				Help: "Total number of messages published to Kafka",
			},
			[]string{"topic", "status"},
		),
		DLQRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlq_records_total",
				Help: "Total number of records sent to the dead letter queue",
			},
			[]string{"reason", "status"},
		),
		BatchesDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_batches_total",
				Help: "Total number of batches handed to the sink",
			},
			[]string{"sink", "status"},
		),
		RecordsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_records_delivered_total",
				Help: "Total number of records delivered to the sink",
			},
			[]string{"sink"},
		),
		DeliveryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "task_delivery_duration_seconds",
				Help:    "Duration of batch delivery including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),
		DeliveryRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "task_delivery_retries_total",
				Help: "Total number of batch delivery retries",
			},
			[]string{"sink"},
		),

		// Ingest metrics
		IngestRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_requests_total",
				Help: "Total number of ingest requests by response code",
			},
			[]string{"endpoint", "code"},
		),
		IngestRecords: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_records_total",
				Help: "Total number of records accepted through ingest",
			},
			[]string{"endpoint"},
		),

		// Storage metrics
		FilesWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "files_written_total",
				Help: "Total number of files written to storage",
			},
			[]string{"topic", "format", "status"},
		),
		StorageWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storage_write_duration_seconds",
				Help:    "Duration of complete storage write operations including encoding",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend"},
		),
		FileSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "file_size_bytes",
				Help:    "Size of files written to storage",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"topic", "format"},
		),
		StorageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"backend", "error_type"},
		),
	}
}

// ObserveAdmitted records n admitted records and the time spent waiting for them.
func (m *Metrics) ObserveAdmitted(n int, wait time.Duration) {
	m.RecordsAdmitted.Add(float64(n))
	m.AdmissionWait.Observe(wait.Seconds())
}

// ObserveRejected records n records that were not admitted.
func (m *Metrics) ObserveRejected(n int, reason string) {
	m.RecordsRejected.WithLabelValues(reason).Add(float64(n))
}

// ObserveDrained records a drain of n records.
func (m *Metrics) ObserveDrained(n int) {
	m.RecordsDrained.Add(float64(n))
	m.DrainBatchSize.Observe(float64(n))
}

// ObserveEmptyPoll counts a drain that found nothing.
func (m *Metrics) ObserveEmptyPoll() {
	m.BufferEmptyPolls.Inc()
}

// SetBuffered sets the buffered records gauge.
func (m *Metrics) SetBuffered(n int) {
	m.BufferRecords.Set(float64(n))
}

// SetBufferCapacity sets the buffer capacity gauge.
func (m *Metrics) SetBufferCapacity(n int) {
	m.BufferCapacity.Set(float64(n))
}

// IncMessagesConsumed increments messages consumed counter.
func (m *Metrics) IncMessagesConsumed(topic string, partition int32) {
	m.MessagesConsumed.WithLabelValues(topic, formatPartition(partition)).Inc()
}

// IncRebalances increments rebalances counter.
func (m *Metrics) IncRebalances(groupID string) {
	m.Rebalances.WithLabelValues(groupID).Inc()
}

// IncOffsetCommits increments offset commits counter.
func (m *Metrics) IncOffsetCommits(topic string, partition int32, status string) {
	m.OffsetCommits.WithLabelValues(topic, formatPartition(partition), status).Inc()
}

// SetPartitionsAssigned sets partitions assigned gauge.
func (m *Metrics) SetPartitionsAssigned(topic string, count float64) {
	m.PartitionsAssigned.WithLabelValues(topic).Set(count)
}

// IncListenerPauses increments the listener pause counter.
func (m *Metrics) IncListenerPauses(groupID string) {
	m.ListenerPauses.WithLabelValues(groupID).Inc()
}

// IncMessagesPublished increments messages published counter.
func (m *Metrics) IncMessagesPublished(topic string, status string) {
	m.MessagesPublished.WithLabelValues(topic, status).Inc()
}

// IncDLQRecords increments the dead letter counter.
func (m *Metrics) IncDLQRecords(reason string, status string) {
	m.DLQRecords.WithLabelValues(reason, status).Inc()
}

// IncBatches increments the delivered batches counter.
func (m *Metrics) IncBatches(sink string, status string) {
	m.BatchesDelivered.WithLabelValues(sink, status).Inc()
}

// AddRecordsDelivered adds n to the delivered records counter.
func (m *Metrics) AddRecordsDelivered(sink string, n int) {
	m.RecordsDelivered.WithLabelValues(sink).Add(float64(n))
}

// ObserveDeliveryDuration observes batch delivery duration.
func (m *Metrics) ObserveDeliveryDuration(sink string, duration float64) {
	m.DeliveryDuration.WithLabelValues(sink).Observe(duration)
}

// IncDeliveryRetries increments the delivery retry counter.
func (m *Metrics) IncDeliveryRetries(sink string) {
	m.DeliveryRetries.WithLabelValues(sink).Inc()
}

// IncIngestRequests counts an ingest request by response code.
func (m *Metrics) IncIngestRequests(endpoint string, code int) {
	m.IngestRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// AddIngestRecords adds n to the ingested records counter.
func (m *Metrics) AddIngestRecords(endpoint string, n int) {
	m.IngestRecords.WithLabelValues(endpoint).Add(float64(n))
}

// IncFilesWritten increments files written counter.
func (m *Metrics) IncFilesWritten(topic string, format string, status string) {
	m.FilesWritten.WithLabelValues(topic, format, status).Inc()
}

// ObserveFileSize observes file size.
func (m *Metrics) ObserveFileSize(topic string, format string, size float64) {
	m.FileSize.WithLabelValues(topic, format).Observe(size)
}

// ObserveStorageWriteDuration observes storage write duration.
func (m *Metrics) ObserveStorageWriteDuration(backend string, duration float64) {
	m.StorageWriteDuration.WithLabelValues(backend).Observe(duration)
}

// IncStorageErrors increments storage errors counter.
func (m *Metrics) IncStorageErrors(backend string, operation string) {
	m.StorageErrors.WithLabelValues(backend, operation).Inc()
}

func formatPartition(partition int32) string {
	return strconv.FormatInt(int64(partition), 10)
}
