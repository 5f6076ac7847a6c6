// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/necyber/elephie/pkg/api/response"
	"github.com/necyber/elephie/pkg/memory"
	"github.com/necyber/elephie/pkg/version"
)

// StatsSource reports corpus statistics.
type StatsSource interface {
	Stats(ctx context.Context) (memory.Stats, error)
}

// ActivitySource reports conversation activity.
type ActivitySource interface {
	Len() int
	LastUse() time.Time
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	stats    StatsSource
	activity ActivitySource
	started  time.Time
	ready    atomic.Bool
	now      func() time.Time
}

// NewHealthHandler creates a new health handler. It reports not ready
// until SetReady(true) is called.
func NewHealthHandler(stats StatsSource, activity ActivitySource) *HealthHandler {
	return &HealthHandler{
		stats:    stats,
		activity: activity,
		started:  time.Now(),
		now:      time.Now,
	}
}

// SetReady flips the readiness probe.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness probe). The corpus must be
// loaded and the document store reachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ready := h.ready.Load()
	if ready && h.stats != nil {
		if _, err := h.stats.Stats(r.Context()); err != nil {
			ready = false
		}
	}
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, map[string]bool{
		"ready": ready,
	})
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Version       map[string]string `json:"version"`
	Ready         bool              `json:"ready"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Corpus        *memory.Stats     `json:"corpus,omitempty"`
	CorpusError   string            `json:"corpus_error,omitempty"`
	Conversations int               `json:"conversations"`
	LastActivity  *time.Time        `json:"last_activity,omitempty"`
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:       version.Info(),
		Ready:         h.ready.Load(),
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
	}
	if h.stats != nil {
		stats, err := h.stats.Stats(r.Context())
		if err != nil {
			resp.CorpusError = "unavailable"
		} else {
			resp.Corpus = &stats
		}
	}
	if h.activity != nil {
		resp.Conversations = h.activity.Len()
		if last := h.activity.LastUse(); !last.IsZero() {
			resp.LastActivity = &last
		}
	}
	response.JSON(w, http.StatusOK, resp)
}
