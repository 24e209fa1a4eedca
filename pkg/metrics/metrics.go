// Package metrics exposes Prometheus instrumentation for the governance
// engine: conflict detection, audit queue pressure, LLM dispatch and the
// HTTP API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics
	ConflictsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psmp_conflicts_detected_total",
			Help: "Total number of dependency conflicts detected by severity",
		},
		[]string{"severity"},
	)

	ProjectsBlocked = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "psmp_projects_blocked_total",
			Help: "Total number of automatic BLOCKED transitions",
		},
	)

	ArtifactsDeclared = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psmp_artifacts_declared_total",
			Help: "Total number of declared artifacts by type",
		},
		[]string{"artifact_type"},
	)

	// Audit metrics
	AuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "psmp_audit_queue_depth",
			Help: "Current number of audit entries waiting to be written",
		},
	)

	AuditEntriesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "psmp_audit_entries_written_total",
			Help: "Total number of audit entries written to disk",
		},
	)

	AuditQueueSaturated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "psmp_audit_queue_saturated_total",
			Help: "Times the audit queue hit its high-water mark",
		},
	)

	// LLM gateway metrics
	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psmp_provider_requests_total",
			Help: "Total number of LLM requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProviderFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "psmp_provider_fallbacks_total",
			Help: "Times a request fell back to a lower-priority provider",
		},
	)

	ProviderHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "psmp_provider_healthy",
			Help: "Provider health as seen by the monitor (1 = healthy)",
		},
		[]string{"provider"},
	)

	PolicyViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psmp_policy_violations_total",
			Help: "Total number of refused requests by policy",
		},
		[]string{"policy"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psmp_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psmp_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(ConflictsDetected)
	prometheus.MustRegister(ProjectsBlocked)
	prometheus.MustRegister(ArtifactsDeclared)
	prometheus.MustRegister(AuditQueueDepth)
	prometheus.MustRegister(AuditEntriesWritten)
	prometheus.MustRegister(AuditQueueSaturated)
	prometheus.MustRegister(ProviderRequests)
	prometheus.MustRegister(ProviderFallbacks)
	prometheus.MustRegister(ProviderHealthy)
	prometheus.MustRegister(PolicyViolations)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
