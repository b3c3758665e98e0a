package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phaseline_phase_transitions_total",
			Help: "Phase transitions applied, by phase and action",
		},
		[]string{"phase", "action"}, // action: start, complete, skip
	)

	ConcurrentModifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phaseline_concurrent_modifications_total",
			Help: "Conditioned writes rejected because the entity changed since it was read",
		},
		[]string{"entity"},
	)

	AuditAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "phaseline_audit_append_failures_total",
			Help: "Audit entries that could not be written",
		},
	)

	ReconcileFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phaseline_reconcile_failures_total",
			Help: "Artifact reconciliations that failed after a phase completed",
		},
		[]string{"phase"},
	)

	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phaseline_webhook_deliveries_total",
			Help: "Webhook deliveries by outcome",
		},
		[]string{"webhook", "status"}, // status: success, failed
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phaseline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "route", "status"},
	)
)

func RecordHTTPRequest(method, route, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
