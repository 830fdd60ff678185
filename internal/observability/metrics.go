// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	TicksIngested     prometheus.Counter
	PointsIngested    prometheus.Counter
	TicksRejected     *prometheus.CounterVec
	PointsRejected    *prometheus.CounterVec
	DuplicatesSkipped *prometheus.CounterVec
	DeferredIdentity  prometheus.Counter
	FeedReconnects    prometheus.Counter
	IngestLatency     *prometheus.HistogramVec

	// Aggregation metrics
	CandlesAggregated    *prometheus.CounterVec
	AggregationErrors    *prometheus.CounterVec
	AggregationLatency   *prometheus.HistogramVec
	LatestValuesMerged   prometheus.Counter
	StaleWritesDiscarded prometheus.Counter

	// Query metrics
	CandleQueries *prometheus.CounterVec
	QueryLatency  *prometheus.HistogramVec

	// Backfill metrics
	BackfillRunsTotal   *prometheus.CounterVec
	BackfillDuration    *prometheus.HistogramVec
	BackfillRowsWritten *prometheus.CounterVec
	MappingsRegistered  prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngest   prometheus.Gauge
	LastSuccessfulBackfill prometheus.Gauge
	HighestArrivalSeq      prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "market_rollup"
	}

	return &Metrics{
		// Ingestion metrics
		TicksIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "ticks_total",
			Help:      "Total number of ticks accepted",
		}),
		PointsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "points_total",
			Help:      "Total number of points accepted",
		}),
		TicksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "ticks_rejected_total",
			Help:      "Total number of ticks rejected by validation, by reason",
		}, []string{"reason"}),
		PointsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "points_rejected_total",
			Help:      "Total number of points rejected by validation, by reason",
		}, []string{"reason"}),
		DuplicatesSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of redelivered rows skipped, by kind",
		}, []string{"kind"}),
		DeferredIdentity: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "deferred_identity_total",
			Help:      "Total number of ticks ingested under an unresolved symbol",
		}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of successful feed reconnects",
		}),
		IngestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "latency_seconds",
			Help:      "Ingest path latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		// Aggregation metrics
		CandlesAggregated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "candles_total",
			Help:      "Total number of candles written, by timeframe",
		}, []string{"timeframe"}),
		AggregationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "errors_total",
			Help:      "Total number of aggregation pass failures, by stage",
		}, []string{"stage"}),
		AggregationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rollup",
			Name:      "latency_seconds",
			Help:      "Aggregation pass latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		LatestValuesMerged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "merges_total",
			Help:      "Total number of latest-value merges applied",
		}),
		StaleWritesDiscarded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "stale_writes_total",
			Help:      "Total number of writes superseded by a higher version",
		}),

		// Query metrics
		CandleQueries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "candle_queries_total",
			Help:      "Total number of candle queries, by timeframe and strategy",
		}, []string{"timeframe", "strategy"}),
		QueryLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lookup",
			Name:      "latency_seconds",
			Help:      "Candle query latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),

		// Backfill metrics
		BackfillRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "runs_total",
			Help:      "Total number of backfill target runs, by target and status",
		}, []string{"target", "status"}),
		BackfillDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "duration_seconds",
			Help:      "Backfill target duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"target"}),
		BackfillRowsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backfill",
			Name:      "rows_written_total",
			Help:      "Total number of derived rows written by backfills, by target",
		}, []string{"target"}),
		MappingsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "mappings_registered_total",
			Help:      "Total number of symbol mappings registered",
		}),

		// Database metrics
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

		// Health metrics
		LastSuccessfulIngest: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingest_timestamp",
			Help:      "Unix timestamp of last successful ingest",
		}),
		LastSuccessfulBackfill: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_backfill_timestamp",
			Help:      "Unix timestamp of last successful backfill",
		}),
		HighestArrivalSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "highest_arrival_seq",
			Help:      "Highest arrival sequence number assigned",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTickIngested increments the accepted-ticks counter.
func RecordTickIngested() {
	DefaultMetrics.TicksIngested.Inc()
}

// RecordPointIngested increments the accepted-points counter.
func RecordPointIngested() {
	DefaultMetrics.PointsIngested.Inc()
}

// RecordTickRejected records a validation rejection.
func RecordTickRejected(reason string) {
	DefaultMetrics.TicksRejected.WithLabelValues(reason).Inc()
}

// RecordPointRejected records a validation rejection.
func RecordPointRejected(reason string) {
	DefaultMetrics.PointsRejected.WithLabelValues(reason).Inc()
}

// RecordDuplicateSkipped records a redelivered row skip.
func RecordDuplicateSkipped(kind string) {
	DefaultMetrics.DuplicatesSkipped.WithLabelValues(kind).Inc()
}

// RecordDeferredIdentity records a tick kept under its bare symbol.
func RecordDeferredIdentity() {
	DefaultMetrics.DeferredIdentity.Inc()
}

// RecordFeedReconnect records a successful feed reconnect.
func RecordFeedReconnect() {
	DefaultMetrics.FeedReconnects.Inc()
}

// RecordCandleAggregated records a candle write.
func RecordCandleAggregated(timeframe string) {
	DefaultMetrics.CandlesAggregated.WithLabelValues(timeframe).Inc()
}

// RecordAggregationError records a failed aggregation pass.
func RecordAggregationError(stage string) {
	DefaultMetrics.AggregationErrors.WithLabelValues(stage).Inc()
}

// RecordLatestValueMerged records a latest-value merge, counting stale
// writes separately.
func RecordLatestValueMerged(stale bool) {
	DefaultMetrics.LatestValuesMerged.Inc()
	if stale {
		DefaultMetrics.StaleWritesDiscarded.Inc()
	}
}

// RecordCandleQuery records a candle query.
func RecordCandleQuery(timeframe, strategy string, seconds float64) {
	DefaultMetrics.CandleQueries.WithLabelValues(timeframe, strategy).Inc()
	DefaultMetrics.QueryLatency.WithLabelValues(strategy).Observe(seconds)
}

// RecordBackfillTarget records one backfill target run.
func RecordBackfillTarget(target, status string, durationSeconds float64, rows int64) {
	DefaultMetrics.BackfillRunsTotal.WithLabelValues(target, status).Inc()
	DefaultMetrics.BackfillDuration.WithLabelValues(target).Observe(durationSeconds)
	if rows > 0 {
		DefaultMetrics.BackfillRowsWritten.WithLabelValues(target).Add(float64(rows))
	}
}

// RecordMappingRegistered increments the registered-mappings counter.
func RecordMappingRegistered() {
	DefaultMetrics.MappingsRegistered.Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
