package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initRetrievalMetrics initializes search metrics.
func (m *Manager) initRetrievalMetrics(cfg Config) {
	m.searchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_search_duration_seconds",
			Help:    "Search duration in seconds by mode",
			Buckets: cfg.SearchDurationBuckets,
		},
		[]string{"mode"},
	)

	m.searchCandidates = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_candidates",
			Help:    "Candidate documents considered per search",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		},
		[]string{"mode"},
	)

	m.searchAdmitted = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_admitted_contexts",
			Help:    "Contexts admitted into the token budget per search",
			Buckets: prometheus.LinearBuckets(0, 1, 12),
		},
		[]string{"mode"},
	)

	m.searchTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_tokens_used",
			Help:    "Tokens used by admitted contexts per search",
			Buckets: prometheus.ExponentialBuckets(64, 2, 8),
		},
		[]string{"mode"},
	)

	m.registry.MustRegister(m.searchDuration)
	m.registry.MustRegister(m.searchCandidates)
	m.registry.MustRegister(m.searchAdmitted)
	m.registry.MustRegister(m.searchTokens)
}

// RecordSearch records one search.
func (m *Manager) RecordSearch(mode string, duration time.Duration, candidates, admitted, tokens int) {
	if !m.enabled {
		return
	}
	m.searchDuration.WithLabelValues(mode).Observe(duration.Seconds())
	m.searchCandidates.WithLabelValues(mode).Observe(float64(candidates))
	m.searchAdmitted.WithLabelValues(mode).Observe(float64(admitted))
	m.searchTokens.WithLabelValues(mode).Observe(float64(tokens))
}
