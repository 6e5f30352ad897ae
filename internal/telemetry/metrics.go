// Package telemetry exposes Prometheus metrics for the retrieval and
// dispatch pipeline: per-tool request counts and latency, search
// degradation events, and pack truncations. Collection is optional;
// a nil *Metrics disables every observation site.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the collector set for one process.
type Metrics struct {
	toolRequests   *prometheus.CounterVec
	toolErrors     *prometheus.CounterVec
	toolLatency    *prometheus.HistogramVec
	searchDegraded prometheus.Counter
	packTruncated  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg (use
// prometheus.DefaultRegisterer in production, a fresh registry in
// tests).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		toolRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextfinder",
			Name:      "tool_requests_total",
			Help:      "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		toolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextfinder",
			Name:      "tool_errors_total",
			Help:      "Tool errors by public taxonomy code.",
		}, []string{"tool", "code"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contextfinder",
			Name:      "tool_latency_seconds",
			Help:      "Tool call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 12),
		}, []string{"tool"}),
		searchDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "contextfinder",
			Name:      "search_semantic_disabled_total",
			Help:      "Times semantic search flipped to disabled.",
		}),
		packTruncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contextfinder",
			Name:      "pack_truncations_total",
			Help:      "Pack budget truncations by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.toolRequests, m.toolErrors, m.toolLatency, m.searchDegraded, m.packTruncated)
	return m
}

// ObserveTool records one tool call. errCode is empty on success.
func (m *Metrics) ObserveTool(tool string, elapsed time.Duration, errCode string) {
	if m == nil {
		return
	}
	outcome := "ok"
	if errCode != "" {
		outcome = "error"
		m.toolErrors.WithLabelValues(tool, errCode).Inc()
	}
	m.toolRequests.WithLabelValues(tool, outcome).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveSemanticDisabled records a semantic-search degradation.
func (m *Metrics) ObserveSemanticDisabled() {
	if m == nil {
		return
	}
	m.searchDegraded.Inc()
}

// ObservePackTruncation records a budget truncation.
func (m *Metrics) ObservePackTruncation(reason string) {
	if m == nil || reason == "" {
		return
	}
	m.packTruncated.WithLabelValues(reason).Inc()
}
