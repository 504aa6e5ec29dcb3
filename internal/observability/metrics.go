// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the tracker.
type Metrics struct {
	// Stream metrics
	TxNotifications        prometheus.Counter
	BlockMetaNotifications prometheus.Counter
	ParseErrors            *prometheus.CounterVec
	EventsQueued           prometheus.Counter
	QueueDepth             prometheus.Gauge
	HighestSlotSeen        prometheus.Gauge

	// Slot-time resolver metrics
	SlotResolutions  *prometheus.CounterVec
	ResolveDuration  prometheus.Histogram
	SlotCacheEntries prometheus.Gauge

	// Persistence metrics
	BatchesInserted   prometheus.Counter
	BatchInsertErrors prometheus.Counter
	RecordsPersisted  prometheus.Counter
	RecordsDropped    *prometheus.CounterVec
	InsertDuration    prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "temporal_data"
	}

	return &Metrics{
		TxNotifications: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "tx_notifications_total",
			Help:      "Total number of transaction notifications received",
		}),
		BlockMetaNotifications: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "block_meta_notifications_total",
			Help:      "Total number of block metadata notifications received",
		}),
		ParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "parse_errors_total",
			Help:      "Total number of transaction parse errors by kind",
		}, []string{"kind"}),
		EventsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "events_queued_total",
			Help:      "Total number of events sent to the persistence queue",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "queue_depth",
			Help:      "Current number of events waiting in the persistence queue",
		}),
		HighestSlotSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "highest_slot_seen",
			Help:      "Highest slot observed on either stream",
		}),

		SlotResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "slottime",
			Name:      "resolutions_total",
			Help:      "Total number of slot timestamp resolutions by outcome",
		}, []string{"outcome"}),
		ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "slottime",
			Name:      "resolve_duration_seconds",
			Help:      "Time spent resolving a slot to a timestamp",
			Buckets:   []float64{.001, .01, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		SlotCacheEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "slottime",
			Name:      "cache_entries",
			Help:      "Current number of entries in the slot-time cache",
		}),

		BatchesInserted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "batches_inserted_total",
			Help:      "Total number of batches successfully inserted",
		}),
		BatchInsertErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "batch_insert_errors_total",
			Help:      "Total number of failed batch inserts (batch discarded)",
		}),
		RecordsPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "records_persisted_total",
			Help:      "Total number of records written to the store",
		}),
		RecordsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "records_dropped_total",
			Help:      "Total number of records dropped by reason",
		}, []string{"reason"}),
		InsertDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "insert_duration_seconds",
			Help:      "Time spent on bulk inserts",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTxNotification increments the transaction notifications counter.
func RecordTxNotification() {
	DefaultMetrics.TxNotifications.Inc()
}

// RecordBlockMetaNotification increments the block metadata counter.
func RecordBlockMetaNotification() {
	DefaultMetrics.BlockMetaNotifications.Inc()
}

// RecordParseError records a transaction parse error.
func RecordParseError(kind string) {
	DefaultMetrics.ParseErrors.WithLabelValues(kind).Inc()
}

// RecordEventQueued increments the queued events counter.
func RecordEventQueued() {
	DefaultMetrics.EventsQueued.Inc()
}

// UpdateQueueDepth updates the persistence queue depth gauge.
func UpdateQueueDepth(n int) {
	DefaultMetrics.QueueDepth.Set(float64(n))
}

// UpdateHighestSlot updates the highest slot seen gauge.
func UpdateHighestSlot(slot uint64) {
	DefaultMetrics.HighestSlotSeen.Set(float64(slot))
}

// RecordSlotResolution records a slot resolution by outcome
// (hit, notified, fallback, error).
func RecordSlotResolution(outcome string, seconds float64) {
	DefaultMetrics.SlotResolutions.WithLabelValues(outcome).Inc()
	DefaultMetrics.ResolveDuration.Observe(seconds)
}

// UpdateSlotCacheEntries updates the slot-time cache size gauge.
func UpdateSlotCacheEntries(n int) {
	DefaultMetrics.SlotCacheEntries.Set(float64(n))
}

// RecordBatchInsert records a bulk insert attempt.
func RecordBatchInsert(records int, seconds float64, err error) {
	DefaultMetrics.InsertDuration.Observe(seconds)
	if err != nil {
		DefaultMetrics.BatchInsertErrors.Inc()
		return
	}
	DefaultMetrics.BatchesInserted.Inc()
	DefaultMetrics.RecordsPersisted.Add(float64(records))
}

// RecordRecordDropped records a dropped record by reason.
func RecordRecordDropped(reason string) {
	DefaultMetrics.RecordsDropped.WithLabelValues(reason).Inc()
}
