package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/necyber/elephie/config"
	"github.com/necyber/elephie/pkg/api"
	"github.com/necyber/elephie/pkg/api/handlers"
	"github.com/necyber/elephie/pkg/api/middleware"
	"github.com/necyber/elephie/pkg/ingest"
	"github.com/necyber/elephie/pkg/logger"
	"github.com/necyber/elephie/pkg/telemetry/tracing"
	"github.com/necyber/elephie/pkg/version"
)

const (
	eventBuffer   = 256
	sweepInterval = time.Minute
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat API, the document watcher and the event feed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cfg, newLogger(cfg))
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions, cfg *config.Config, log logger.Logger) error {
	log.Info("Starting elephie",
		"version", version.Version,
		"gitCommit", version.GitCommit,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:        cfg.App.Name,
		Version:     version.Version,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("Error closing storage", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	defer wg.Wait()
	defer cancel()

	if cfg.Ingest.Enabled {
		if err := a.initialScan(ctx); err != nil {
			return err
		}
		watcher, err := ingest.NewWatcher(a.ingestor, a.registry, ingest.WatcherConfig{
			ChatDir:      cfg.Ingest.ChatPath,
			NoteDir:      cfg.Ingest.NotePath,
			IdleWindow:   cfg.Ingest.IdleWindow,
			PollInterval: cfg.Ingest.PollInterval,
		},
			ingest.WithWatcherLogger(log.With("component", "watcher")),
			ingest.WithBatchHook(a.broadcaster.PublishIngest),
		)
		if err != nil {
			return err
		}
		goRun(func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Document watcher stopped", "error", err)
			}
		})
	}

	goRun(func() { a.sweepConversations(ctx, sweepInterval) })

	ws := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
	})
	defer ws.Close()
	defer a.broadcaster.Close()
	goRun(func() { a.broadcaster.Forward(ctx, eventBuffer, ws.Send) })

	health := handlers.NewHealthHandler(a.store, a.registry)
	apiHandlers := &api.Handlers{
		Chat:      handlers.NewChatHandler(a.orchestrator, a.registry, log),
		Documents: handlers.NewDocumentHandler(a.store, log),
		Search:    handlers.NewSearchHandler(a.engine, cfg.Agent.SearchTimeout, log),
		Health:    health,
		WebSocket: ws,
	}
	if a.metrics.Enabled() {
		apiHandlers.Metrics = a.metrics
		if cfg.Metrics.Port == 0 || cfg.Metrics.Port == cfg.Server.Port {
			apiHandlers.MetricsHandler = a.metrics.Handler()
		} else {
			goRun(func() {
				log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
				if err := a.metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
					log.Error("Metrics server error", "error", err)
				}
			})
		}
	}
	if cfg.RateLimit.Enabled {
		rl := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, cfg.RateLimit.MaxClients)
		apiHandlers.RateLimiter = rl
		goRun(func() { rl.Run(ctx) })
	}

	if opts.configPath != "" {
		cw, err := config.NewWatcher(opts.configPath, nil,
			config.WithOverrides(opts.overrides()),
			config.WithLogger(log.With("component", "config")),
		)
		if err != nil {
			return err
		}
		defer cw.Stop()
		cw.OnChange(newHotReloader(a, cfg).apply)
		goRun(func() {
			if err := cw.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("Config watcher stopped", "error", err)
			}
		})
	}

	server := api.NewHTTPServer(cfg, log, apiHandlers)
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	health.SetReady(true)
	log.Info("elephie is running", "addr", server.Addr(), "auth", cfg.Auth.Enabled, "ingest", cfg.Ingest.Enabled)

	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	health.SetReady(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}
	log.Info("elephie stopped")
	return nil
}

// initialScan ingests the source directories when the corpus is empty. A
// populated corpus is kept current by the watcher and `elephie reindex --scan`.
func (a *app) initialScan(ctx context.Context) error {
	stats, err := a.store.Stats(ctx)
	if err != nil {
		return fmt.Errorf("read corpus stats: %w", err)
	}
	if stats.Documents > 0 {
		a.log.Info("Corpus loaded", "documents", stats.Documents, "vectors", stats.VectorDocuments)
		return nil
	}
	report, err := a.scan(ctx)
	if err != nil {
		return err
	}
	a.broadcaster.PublishIngest(report)
	return nil
}

// sweepConversations drops idle conversation start times until ctx ends.
func (a *app) sweepConversations(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.registry.Sweep(); n > 0 {
				a.log.Debug("Expired conversations", "count", n)
			}
		}
	}
}

// hotReloader applies reloaded settings to the running components.
type hotReloader struct {
	mu      sync.Mutex
	app     *app
	current config.Tunables
}

func newHotReloader(a *app, cfg *config.Config) *hotReloader {
	return &hotReloader{app: a, current: config.TunablesOf(cfg)}
}

func (h *hotReloader) apply(cfg *config.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := config.TunablesOf(cfg)
	if next == h.current {
		return
	}
	a := h.app
	if next.LogLevel != h.current.LogLevel {
		a.log.SetLevel(logger.ParseLevel(next.LogLevel))
	}
	if next.Retrieval != h.current.Retrieval {
		opts := retrievalOptions(cfg)
		opts.Language = a.engine.Options().Language
		a.engine.SetOptions(opts)
		a.searcher.SetMode(next.Retrieval.Mode)
	}
	if next.Agent != h.current.Agent {
		ac := agentConfig(cfg)
		ac.Model = a.orchestrator.Config().Model
		a.orchestrator.SetConfig(ac)
	}
	a.log.Info("Applied configuration changes", "log_level", next.LogLevel, "retrieval_mode", next.Retrieval.Mode)
	h.current = next
}
