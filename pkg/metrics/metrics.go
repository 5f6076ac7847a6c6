// Package metrics exports Elephie's Prometheus metrics: retrieval, agent
// turns, ingestion and the HTTP surface.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns a private registry. A disabled Manager accepts every call
// and records nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	searchDuration   *prometheus.HistogramVec
	searchCandidates *prometheus.HistogramVec
	searchAdmitted   *prometheus.HistogramVec
	searchTokens     *prometheus.HistogramVec

	turns           *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	turnCycles      prometheus.Histogram
	generatorErrors prometheus.Counter

	ingestDocuments *prometheus.CounterVec
	rebuildDuration prometheus.Histogram

	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	httpStreamDuration *prometheus.HistogramVec
	httpInFlight       prometheus.Gauge
}

// Config selects the listener and histogram buckets.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	SearchDurationBuckets []float64
	TurnDurationBuckets   []float64
	RebuildBuckets        []float64
	HTTPDurationBuckets   []float64
}

// DefaultConfig returns buckets sized for a local model: searches finish in
// milliseconds, turns take seconds.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		Port:                  9091,
		Path:                  "/metrics",
		SearchDurationBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		TurnDurationBuckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		RebuildBuckets:        []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		HTTPDurationBuckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}
}

// NewManager registers every Elephie metric plus the Go runtime, process
// and build info collectors.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return NoOpManager()
	}

	m := &Manager{registry: prometheus.NewRegistry(), enabled: true}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)
	m.initRetrievalMetrics(cfg)
	m.initAgentMetrics(cfg)
	m.initIngestMetrics(cfg)
	m.initHTTPMetrics(cfg)
	return m
}

// NoOpManager returns a disabled Manager.
func NoOpManager() *Manager {
	return &Manager{}
}

// Enabled reports whether metrics are recorded.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Handler serves the registry in the Prometheus or OpenMetrics format, or
// 404 when disabled.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.registry,
	})
}

// StartServer serves Handler on its own port until ctx is cancelled.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RegisterGaugeFunc exposes a value computed at scrape time, such as index
// sizes or the number of live conversations. It is a no-op when disabled.
func (m *Manager) RegisterGaugeFunc(name, help string, fn func() float64) error {
	if !m.enabled {
		return nil
	}
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "elephie",
		Name:      name,
		Help:      help,
	}, fn)
	if err := m.registry.Register(g); err != nil {
		return fmt.Errorf("register gauge %s: %w", name, err)
	}
	return nil
}
