package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/necyber/elephie/config"
	"github.com/necyber/elephie/pkg/logger"
)

// HTTPServer serves the API router. WriteTimeout is normally zero so chat
// streams are not cut off; slow non-streaming routes are bounded by the
// Timeout middleware instead.
type HTTPServer struct {
	httpCfg config.HTTPConfig
	server  *http.Server
	router  chi.Router
	logger  logger.Logger
}

// NewHTTPServer builds the router and the http.Server around it.
func NewHTTPServer(cfg *config.Config, log logger.Logger, h *Handlers) *HTTPServer {
	router := NewRouter(cfg, log, h)
	hc := cfg.Server.HTTP
	return &HTTPServer{
		httpCfg: hc,
		router:  router,
		logger:  log,
		server: &http.Server{
			Addr:           net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
			Handler:        router,
			ReadTimeout:    hc.ReadTimeout,
			WriteTimeout:   hc.WriteTimeout,
			IdleTimeout:    hc.IdleTimeout,
			MaxHeaderBytes: hc.MaxHeaderBytes,
		},
	}
}

// Addr returns the configured listen address.
func (s *HTTPServer) Addr() string { return s.server.Addr }

// Handler returns the root handler.
func (s *HTTPServer) Handler() http.Handler { return s.router }

// Start listens on Addr and serves until Shutdown, after which it returns
// nil.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *HTTPServer) Serve(ln net.Listener) error {
	s.logger.Info("Starting HTTP server",
		"addr", ln.Addr().String(),
		"read_timeout", s.httpCfg.ReadTimeout,
		"write_timeout", s.httpCfg.WriteTimeout,
	)
	err := s.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	s.logger.Error("HTTP server failed", "error", err)
	return fmt.Errorf("serve http: %w", err)
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires. Hijacked websocket connections are not waited for.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", "error", err)
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
