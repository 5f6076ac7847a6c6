package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initIngestMetrics initializes document ingestion metrics.
func (m *Manager) initIngestMetrics(cfg Config) {
	m.ingestDocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_documents_total",
			Help: "Total number of ingested documents by operation and result",
		},
		[]string{"op", "result"},
	)

	m.rebuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_keyword_rebuild_duration_seconds",
			Help:    "Keyword index rebuild duration in seconds",
			Buckets: cfg.RebuildBuckets,
		},
	)

	m.registry.MustRegister(m.ingestDocuments)
	m.registry.MustRegister(m.rebuildDuration)
}

// RecordIngest records one ingested document.
func (m *Manager) RecordIngest(op, result string) {
	if !m.enabled {
		return
	}
	m.ingestDocuments.WithLabelValues(op, result).Inc()
}

// RecordRebuild records a keyword index rebuild.
func (m *Manager) RecordRebuild(duration time.Duration) {
	if !m.enabled {
		return
	}
	m.rebuildDuration.Observe(duration.Seconds())
}
