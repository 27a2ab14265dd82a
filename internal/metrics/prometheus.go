package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "llm_orchestrator"

// PrometheusRecorder exports metrics through a Prometheus registry.
type PrometheusRecorder struct {
	accountsProvisioned *prometheus.CounterVec
	keysCreated         prometheus.Counter
	keysDeleted         prometheus.Counter
	upstreamDuration    *prometheus.HistogramVec
	cleanupRuns         *prometheus.CounterVec
	cleanupDeleted      prometheus.Counter
	cleanupBatchFailed  prometheus.Counter
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		accountsProvisioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "accounts",
			Name:      "provisioned_total",
			Help:      "Total number of upstream accounts created, by source.",
		}, []string{"source"}), // source: lazy, explicit
		keysCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keys",
			Name:      "created_total",
			Help:      "Total number of API keys issued.",
		}),
		keysDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keys",
			Name:      "deleted_total",
			Help:      "Total number of API keys revoked.",
		}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of calls to the upstream gateway.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		cleanupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "runs_total",
			Help:      "Total number of cleanup runs by outcome.",
		}, []string{"status"}),
		cleanupDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "accounts_deleted_total",
			Help:      "Total number of accounts removed by cleanup.",
		}),
		cleanupBatchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "batches_failed_total",
			Help:      "Total number of cleanup delete batches that failed.",
		}),
	}

	reg.MustRegister(
		r.accountsProvisioned,
		r.keysCreated,
		r.keysDeleted,
		r.upstreamDuration,
		r.cleanupRuns,
		r.cleanupDeleted,
		r.cleanupBatchFailed,
	)
	return r
}

// IncAccountProvisioned increments the provisioned counter for source.
func (r *PrometheusRecorder) IncAccountProvisioned(source string) {
	r.accountsProvisioned.WithLabelValues(source).Inc()
}

// IncKeyCreated increments key created counter.
func (r *PrometheusRecorder) IncKeyCreated() {
	r.keysCreated.Inc()
}

// IncKeyDeleted increments key deleted counter.
func (r *PrometheusRecorder) IncKeyDeleted() {
	r.keysDeleted.Inc()
}

// ObserveUpstreamCall records upstream latency.
func (r *PrometheusRecorder) ObserveUpstreamCall(op, status string, duration time.Duration) {
	r.upstreamDuration.WithLabelValues(op, status).Observe(duration.Seconds())
}

// IncCleanupRun counts runs by status.
func (r *PrometheusRecorder) IncCleanupRun(status string) {
	r.cleanupRuns.WithLabelValues(status).Inc()
}

// AddCleanupDeleted adds to the deleted accounts counter.
func (r *PrometheusRecorder) AddCleanupDeleted(n int) {
	if n > 0 {
		r.cleanupDeleted.Add(float64(n))
	}
}

// IncCleanupBatchFailed increments the failed batch counter.
func (r *PrometheusRecorder) IncCleanupBatchFailed() {
	r.cleanupBatchFailed.Inc()
}
