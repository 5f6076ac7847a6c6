package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// initHTTPMetrics initializes HTTP API metrics. SSE answers and websocket
// sessions last minutes, so they get their own histogram instead of
// skewing request latency.
func (m *Manager) initHTTPMetrics(cfg Config) {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of non-streaming HTTP requests",
			Buckets: cfg.HTTPDurationBuckets,
		},
		[]string{"method", "route"},
	)

	m.httpStreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_stream_duration_seconds",
			Help:    "Lifetime of streamed responses and upgraded connections",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"route"},
	)

	m.httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_in_flight_requests",
			Help: "Requests currently being served",
		},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpStreamDuration, m.httpInFlight)
}

// ObserveHTTPRequest records a finished request. The active span, if any,
// is attached to the latency sample as an exemplar.
func (m *Manager) ObserveHTTPRequest(ctx context.Context, method, route string, status int, streamed bool, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()

	var observer prometheus.Observer
	if streamed {
		observer = m.httpStreamDuration.WithLabelValues(route)
	} else {
		observer = m.httpDuration.WithLabelValues(method, route)
	}
	if labels, ok := traceExemplarLabels(ctx); ok {
		if eo, ok := observer.(prometheus.ExemplarObserver); ok {
			eo.ObserveWithExemplar(duration.Seconds(), labels)
			return
		}
	}
	observer.Observe(duration.Seconds())
}

// AddInFlight moves the in-flight request gauge by delta.
func (m *Manager) AddInFlight(delta float64) {
	if !m.enabled {
		return
	}
	m.httpInFlight.Add(delta)
}

func traceExemplarLabels(ctx context.Context) (prometheus.Labels, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return nil, false
	}
	return prometheus.Labels{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	}, true
}
