// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "route", "status"},
	)

	LLMCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_call_latency_ms",
			Help:    "Hosted LLM call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10),
		},
		[]string{"model", "status"},
	)

	DocumentAnalysisCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "document_analysis_total",
			Help: "Document analysis runs by outcome",
		},
		[]string{"category", "outcome"},
	)

	ChangeEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_events_published_total",
			Help: "Row change events published to subscribers",
		},
		[]string{"table", "type", "transport"},
	)

	ChangeEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "change_events_dropped_total",
			Help: "Change events dropped because a subscriber was not keeping up",
		},
	)

	RealtimeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_subscribers",
			Help: "Open change-feed subscriptions",
		},
	)
)

func RecordHTTPRequestDuration(method, route, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func RecordLLMCallLatency(model, status string, duration time.Duration) {
	LLMCallLatency.WithLabelValues(model, status).Observe(float64(duration.Milliseconds()))
}

func IncrementDocumentAnalysis(category, outcome string) {
	DocumentAnalysisCount.WithLabelValues(category, outcome).Inc()
}

func IncrementChangePublished(table, kind, transport string) {
	ChangeEventsPublished.WithLabelValues(table, kind, transport).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
