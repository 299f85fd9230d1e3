package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wrenchly"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Quota and usage metrics. Labels are bounded (resource, alert type,
// severity); tenant ids are deliberately not used as labels.
var (
	QuotaChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_checks_total",
			Help:      "Total number of quota checks by outcome",
		},
		[]string{"resource", "result"}, // result: allowed, denied, error
	)

	UsageIncrementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_increments_total",
			Help:      "Total units consumed per resource",
		},
		[]string{"resource"},
	)

	QuotaStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_store_errors_total",
			Help:      "Usage store failures encountered while enforcing quotas",
		},
		[]string{"op"},
	)

	UsageAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_alerts_total",
			Help:      "Usage alerts raised or escalated",
		},
		[]string{"type", "severity"},
	)

	PeriodRolloversTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "period_rollovers_total",
			Help:      "Tenants whose usage window was rolled over",
		},
	)

	SnapshotFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_flushes_total",
			Help:      "Snapshot delta flushes by outcome",
		},
		[]string{"status"},
	)
)

// QuotaCheck records the outcome of an admission decision.
func QuotaCheck(resource string, allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	QuotaChecksTotal.WithLabelValues(resource, result).Inc()
}

// QuotaStoreError records a failed store call and counts the check as errored.
func QuotaStoreError(op, resource string) {
	QuotaStoreErrorsTotal.WithLabelValues(op).Inc()
	if resource != "" {
		QuotaChecksTotal.WithLabelValues(resource, "error").Inc()
	}
}
