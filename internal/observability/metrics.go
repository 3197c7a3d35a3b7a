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
	// Reconciliation metrics
	TransactionsIndexed prometheus.Counter
	TransactionsFetched prometheus.Counter
	TransactionsFailed  prometheus.Counter
	TransactionsReset   prometheus.Counter
	WalletErrors        *prometheus.CounterVec
	WatchNotifications  prometheus.Counter

	// Job metrics
	JobRunsTotal      *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	JobLockContention *prometheus.CounterVec
	JobLastSuccess    *prometheus.GaugeVec

	// Solana RPC metrics
	RPCCallLatency *prometheus.HistogramVec
	RPCErrors      *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitWaits        prometheus.Counter
	RateLimitWaitDuration prometheus.Histogram
	RateLimitFallbacks    prometheus.Counter

	// Sink metrics
	SinkPublished *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil registerer uses the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "ledgersync"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TransactionsIndexed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "transactions_indexed_total",
			Help:      "Total number of signatures inserted as indexed",
		}),
		TransactionsFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "transactions_fetched_total",
			Help:      "Total number of transactions enriched with transfer data",
		}),
		TransactionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "transactions_failed_total",
			Help:      "Total number of transactions marked failed",
		}),
		TransactionsReset: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "transactions_reset_total",
			Help:      "Total number of failed transactions reset to indexed",
		}),
		WalletErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "wallet_errors_total",
			Help:      "Total number of per-wallet errors by job",
		}, []string{"job"}),
		WatchNotifications: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "watch_notifications_total",
			Help:      "Total number of log notifications received by the watcher",
		}),

		JobRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Total number of job runs by status",
		}, []string{"job", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Job execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"job"}),
		JobLockContention: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "lock_contention_total",
			Help:      "Total number of runs skipped because the job lock was held",
		}, []string{"job"}),
		JobLastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "last_success_timestamp",
			Help:      "Unix timestamp of the last successful job run",
		}, []string{"job"}),

		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		RPCErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_errors_total",
			Help:      "Total number of Solana RPC errors by kind",
		}, []string{"method", "kind"}),

		RateLimitWaits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "waits_total",
			Help:      "Total number of acquisitions that had to wait for the window",
		}),
		RateLimitWaitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a rate limit slot",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		RateLimitFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "fallbacks_total",
			Help:      "Total number of acquisitions that fell back to a fixed delay",
		}),

		SinkPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "transfers_published_total",
			Help:      "Total number of transfers published by sink",
		}, []string{"sink"}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Total number of sink publish errors",
		}, []string{"sink"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status",
		}, []string{"route", "status"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordIndexed adds n newly indexed signatures.
func RecordIndexed(n int) {
	DefaultMetrics.TransactionsIndexed.Add(float64(n))
}

// RecordFetched adds n enriched transactions.
func RecordFetched(n int) {
	DefaultMetrics.TransactionsFetched.Add(float64(n))
}

// RecordFailed adds n transactions marked failed.
func RecordFailed(n int) {
	DefaultMetrics.TransactionsFailed.Add(float64(n))
}

// RecordReset adds n failed transactions returned to indexed.
func RecordReset(n int) {
	DefaultMetrics.TransactionsReset.Add(float64(n))
}

// RecordWalletError records a per-wallet failure of job.
func RecordWalletError(job string) {
	DefaultMetrics.WalletErrors.WithLabelValues(job).Inc()
}

// RecordWatchNotification increments the watcher notification counter.
func RecordWatchNotification() {
	DefaultMetrics.WatchNotifications.Inc()
}

// RecordJobRun records a job run outcome and duration.
func RecordJobRun(job string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.JobRunsTotal.WithLabelValues(job, status).Inc()
	DefaultMetrics.JobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err == nil {
		DefaultMetrics.JobLastSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

// RecordLockContention records a job run skipped because the lock was held.
func RecordLockContention(job string) {
	DefaultMetrics.JobLockContention.WithLabelValues(job).Inc()
	DefaultMetrics.JobRunsTotal.WithLabelValues(job, "skipped").Inc()
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordRPCError records a failed RPC call by kind, e.g. "rate_limited" or "rpc_error".
func RecordRPCError(method, kind string) {
	DefaultMetrics.RPCErrors.WithLabelValues(method, kind).Inc()
}

// RecordRateLimitWait records time spent waiting for the sliding window.
func RecordRateLimitWait(d time.Duration) {
	DefaultMetrics.RateLimitWaits.Inc()
	DefaultMetrics.RateLimitWaitDuration.Observe(d.Seconds())
}

// RecordRateLimitFallback records an acquisition that used the fixed delay.
func RecordRateLimitFallback() {
	DefaultMetrics.RateLimitFallbacks.Inc()
}

// RecordSinkPublish records a sink publish of n transfers.
func RecordSinkPublish(sink string, n int, err error) {
	if err != nil {
		DefaultMetrics.SinkErrors.WithLabelValues(sink).Inc()
		return
	}
	DefaultMetrics.SinkPublished.WithLabelValues(sink).Add(float64(n))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(route string, status int) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, http.StatusText(status)).Inc()
}
