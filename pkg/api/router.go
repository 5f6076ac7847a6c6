// Package api provides HTTP API server components.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/necyber/elephie/config"
	"github.com/necyber/elephie/pkg/api/handlers"
	"github.com/necyber/elephie/pkg/api/middleware"
	"github.com/necyber/elephie/pkg/logger"
)

// Handlers holds all HTTP handlers. Nil handlers leave their routes
// unregistered.
type Handlers struct {
	// Chat serves the OpenAI-compatible completions endpoint.
	Chat *handlers.ChatHandler

	// Documents handles document CRUD and index rebuilds.
	Documents *handlers.DocumentHandler

	// Search handles debug searches.
	Search *handlers.SearchHandler

	// Health handles health check endpoints.
	Health *handlers.HealthHandler

	// WebSocket streams turn and ingest events.
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder.
	Metrics middleware.MetricsRecorder

	// MetricsHandler serves /metrics on the API port when set.
	MetricsHandler http.Handler

	// RateLimiter throttles the chat and document APIs when set.
	RateLimiter *middleware.RateLimiter
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.Server.CORS))

	RegisterRoutes(r, cfg, log, h)
	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, cfg *config.Config, log logger.Logger, h *Handlers) {
	guard := func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(middleware.JWTAuth(cfg.Auth.Secret, log))
		}
		if h.RateLimiter != nil {
			r.Use(middleware.RateLimit(h.RateLimiter))
		}
	}

	// Streamed answers outlive any request timeout.
	if h.Chat != nil {
		r.Group(func(r chi.Router) {
			guard(r)
			r.Post("/v1/chat/completions", h.Chat.ChatCompletions)
		})
	}

	r.Route("/api/v1", func(r chi.Router) {
		guard(r)
		r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))

		if h.Documents != nil {
			r.Route("/documents", func(r chi.Router) {
				r.Get("/", h.Documents.ListDocuments)
				r.Post("/", h.Documents.PutDocument)
				r.Get("/{id}", h.Documents.GetDocument)
				r.Delete("/{id}", h.Documents.DeleteDocument)
			})
			r.Post("/index/rebuild", h.Documents.RebuildIndex)
		}

		if h.Search != nil {
			r.Post("/search", h.Search.Search)
		}
	})

	if h.WebSocket != nil {
		r.Group(func(r chi.Router) {
			guard(r)
			r.Get("/ws/events", h.WebSocket.ServeHTTP)
		})
	}

	// Health check routes (not versioned)
	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)
	}

	if h.MetricsHandler != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, h.MetricsHandler)
	}
}
