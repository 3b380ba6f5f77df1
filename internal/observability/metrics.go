// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	TradesProcessed     *prometheus.CounterVec
	BookDeltasProcessed *prometheus.CounterVec
	EventsDropped       *prometheus.CounterVec

	// Book metrics
	BookDesyncs    *prometheus.CounterVec
	BookDepth      *prometheus.GaugeVec
	ResyncRequests *prometheus.CounterVec

	// Aggregation metrics
	CandlesClosed *prometheus.CounterVec
	FramesSampled *prometheus.CounterVec
	PipelineInbox *prometheus.GaugeVec
	EventLatency  prometheus.Histogram

	// Backfill metrics
	BackfillRuns       *prometheus.CounterVec
	BackfillMerged     *prometheus.CounterVec
	BackfillDuplicates *prometheus.CounterVec

	// Subscription metrics
	ActiveSubscriptions prometheus.Gauge
	ActivePipelines     prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "orderflow_lab"
	}

	return &Metrics{
		TradesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "trades_processed_total",
			Help:      "Total number of trade prints processed",
		}, []string{"instrument"}),
		BookDeltasProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "book_deltas_processed_total",
			Help:      "Total number of depth updates processed",
		}, []string{"instrument"}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped by reason",
		}, []string{"instrument", "reason"}),

		BookDesyncs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "desyncs_total",
			Help:      "Total number of order book desyncs",
		}, []string{"instrument"}),
		BookDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "depth_levels",
			Help:      "Current number of populated book levels by side",
		}, []string{"instrument", "side"}),
		ResyncRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "book",
			Name:      "resync_requests_total",
			Help:      "Total number of snapshot resync requests",
		}, []string{"instrument"}),

		CandlesClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "candles_closed_total",
			Help:      "Total number of footprint candles closed",
		}, []string{"instrument"}),
		FramesSampled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "heatmap_frames_sampled_total",
			Help:      "Total number of heatmap frames sampled",
		}, []string{"instrument"}),
		PipelineInbox: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "pipeline_inbox_size",
			Help:      "Current number of events queued per instrument pipeline",
		}, []string{"instrument"}),
		EventLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "aggregation",
			Name:      "event_latency_seconds",
			Help:      "Exchange-to-aggregation latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		BackfillRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "runs_total",
			Help:      "Total number of backfill reconciliations by status",
		}, []string{"instrument", "status"}),
		BackfillMerged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "trades_merged_total",
			Help:      "Total number of historical trades merged",
		}, []string{"instrument"}),
		BackfillDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "trades_deduplicated_total",
			Help:      "Total number of historical trades dropped as duplicates",
		}, []string{"instrument"}),

		ActiveSubscriptions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active_subscriptions",
			Help:      "Current number of active subscriptions",
		}),
		ActivePipelines: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "active_pipelines",
			Help:      "Current number of running instrument pipelines",
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),
	}
}

// ObserveDBQuery records one query's duration since start and, when err is
// non-nil, a failure, labeled by backend and operation. Safe on a nil
// receiver so stores can run without metrics wired.
func (m *Metrics) ObserveDBQuery(database, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
