package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initAgentMetrics initializes conversation turn metrics.
func (m *Manager) initAgentMetrics(cfg Config) {
	m.turns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_turns_total",
			Help: "Total number of turns by outcome",
		},
		[]string{"outcome"},
	)

	m.turnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_turn_duration_seconds",
			Help:    "Turn duration in seconds by outcome",
			Buckets: cfg.TurnDurationBuckets,
		},
		[]string{"outcome"},
	)

	m.turnCycles = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agent_turn_cycles",
			Help:    "Generation cycles used per turn",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		},
	)

	m.generatorErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_generator_errors_total",
			Help: "Total number of failed generation cycles",
		},
	)

	m.registry.MustRegister(m.turns)
	m.registry.MustRegister(m.turnDuration)
	m.registry.MustRegister(m.turnCycles)
	m.registry.MustRegister(m.generatorErrors)
}

// RecordTurn records a finished turn.
func (m *Manager) RecordTurn(outcome string, cycles int, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	if cycles > 0 {
		m.turnCycles.Observe(float64(cycles))
	}
}

// RecordGeneratorError records a failed generation cycle.
func (m *Manager) RecordGeneratorError() {
	if !m.enabled {
		return
	}
	m.generatorErrors.Inc()
}
