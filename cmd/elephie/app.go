package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/necyber/elephie/config"
	"github.com/necyber/elephie/pkg/agent"
	"github.com/necyber/elephie/pkg/api/events"
	"github.com/necyber/elephie/pkg/dateparse"
	"github.com/necyber/elephie/pkg/ingest"
	"github.com/necyber/elephie/pkg/llm"
	"github.com/necyber/elephie/pkg/logger"
	"github.com/necyber/elephie/pkg/memory"
	"github.com/necyber/elephie/pkg/metrics"
	"github.com/necyber/elephie/pkg/retrieval"
	"github.com/necyber/elephie/pkg/storage"
	"github.com/necyber/elephie/pkg/storage/badger"
	memstore "github.com/necyber/elephie/pkg/storage/memory"
	redisstore "github.com/necyber/elephie/pkg/storage/redis"
)

// app holds the wired components shared by serve and reindex.
type app struct {
	cfg          *config.Config
	log          logger.Logger
	metrics      *metrics.Manager
	store        *memory.Store
	engine       *retrieval.Engine
	searcher     *modeSearcher
	orchestrator *agent.Orchestrator
	registry     *agent.ConversationRegistry
	broadcaster  *events.Broadcaster
	ingestor     *ingest.Ingestor

	closers []func() error
}

// newApp opens storage and builds the memory, retrieval and agent layers.
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *app, err error) {
	a := &app{
		cfg:         cfg,
		log:         log,
		metrics:     metrics.NewManager(metricsConfig(cfg)),
		registry:    agent.NewConversationRegistry(cfg.Agent.ConversationTTL),
		broadcaster: events.NewBroadcaster(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	docs, shared, err := openDocuments(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, docs.Close)
	log.Info("Initialized document storage", "type", cfg.Storage.Type, "cache_size", cfg.Storage.CacheSize)

	vectorDB := shared
	if vectorDB == nil && cfg.Memory.VectorPath != "" {
		vectorDB, err = badgerdb.Open(badgerdb.DefaultOptions(cfg.Memory.VectorPath).WithLogger(nil))
		if err != nil {
			return nil, fmt.Errorf("open vector store %s: %w", cfg.Memory.VectorPath, err)
		}
		a.closers = append(a.closers, vectorDB.Close)
	}
	vectors := memory.NewVectorIndex(vectorDB)
	if err := vectors.Load(ctx); err != nil {
		return nil, fmt.Errorf("load vectors: %w", err)
	}

	embedder, err := llm.NewOpenAIEmbedder(embedderConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	generator, err := llm.NewOpenAIGenerator(generatorConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create generator: %w", err)
	}

	a.store = memory.NewStore(docs, vectors, memory.NewKeywordIndex(cfg.Memory.BM25.K1, cfg.Memory.BM25.B), embedder,
		memory.WithLogger(log.With("component", "memory")),
		memory.WithChunkSize(cfg.Memory.ChunkSize),
	)
	if _, err := a.store.RebuildKeywords(ctx); err != nil {
		return nil, fmt.Errorf("build keyword index: %w", err)
	}

	tokenizer := llm.NewTokenizer(cfg.Retrieval.Encoding)
	a.engine = retrieval.NewEngine(a.store, a.store, dateparse.New(), a.store, tokenizer, retrievalOptions(cfg),
		retrieval.WithLogger(log.With("component", "retrieval")),
		retrieval.WithRecorder(a.metrics),
	)
	a.searcher = newModeSearcher(a.engine, cfg.Retrieval.Mode)

	prompter, err := agent.NewPrompter(agent.PromptConfig{
		NickName:              cfg.Agent.NickName,
		Language:              cfg.Agent.Language,
		MultipleSystemPrompts: cfg.Agent.MultipleSystemPrompts,
	})
	if err != nil {
		return nil, err
	}
	a.orchestrator = agent.NewOrchestrator(
		generator,
		a.searcher,
		prompter,
		agent.Linker{ChatURL: cfg.Agent.ChatURL, NoteURL: cfg.Agent.NoteURL},
		agent.FileSaver{Dir: cfg.Ingest.ChatPath},
		agentConfig(cfg),
		agent.WithLogger(log.With("component", "agent")),
		agent.WithRecorder(a.metrics),
		agent.WithEvents(a.broadcaster),
	)

	var summarizer llm.Generator
	if cfg.Ingest.Summarize {
		summarizer = generator
	}
	digester := ingest.NewDigester(ingest.DigestConfig{
		NickName:  cfg.Agent.NickName,
		Summarize: cfg.Ingest.Summarize,
		MaxTokens: cfg.Ingest.SummaryMaxTokens,
	}, summarizer)
	a.ingestor = ingest.NewIngestor(a.store, digester,
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithLogger(log.With("component", "ingest")),
		ingest.WithRecorder(a.metrics),
	)

	if err := a.registerGauges(); err != nil {
		return nil, err
	}
	return a, nil
}

// registerGauges exposes index sizes and live conversations at scrape time.
func (a *app) registerGauges() error {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"index_vector_documents", "Documents in the vector index.", func() float64 {
			v, _ := a.store.IndexSizes()
			return float64(v)
		}},
		{"index_keyword_documents", "Documents in the keyword index.", func() float64 {
			_, k := a.store.IndexSizes()
			return float64(k)
		}},
		{"conversations_active", "Conversations seen within the conversation TTL.", func() float64 {
			return float64(a.registry.Len())
		}},
	}
	for _, g := range gauges {
		if err := a.metrics.RegisterGaugeFunc(g.name, g.help, g.fn); err != nil {
			return err
		}
	}
	return nil
}

// Close releases storage in reverse order of opening.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// openDocuments opens the configured document backend. For badger the open
// database is returned too, so vectors can live next to the documents.
func openDocuments(ctx context.Context, cfg *config.Config) (storage.DocumentStore, *badgerdb.DB, error) {
	var (
		backend storage.DocumentStore
		shared  *badgerdb.DB
	)
	switch cfg.Storage.Type {
	case "badger":
		bs, err := badger.NewBadgerStorage(&badger.Config{
			Path:              cfg.Storage.Badger.Path,
			SyncWrites:        cfg.Storage.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Storage.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Storage.Badger.NumVersionsToKeep,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open badger storage %s: %w", cfg.Storage.Badger.Path, err)
		}
		backend, shared = bs, bs.DB()
	case "redis":
		rs, err := redisstore.NewRedisStorage(ctx, &redisstore.Config{
			Addr:      cfg.Storage.Redis.Address,
			Password:  cfg.Storage.Redis.Password,
			DB:        cfg.Storage.Redis.DB,
			KeyPrefix: cfg.Storage.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis storage %s: %w", cfg.Storage.Redis.Address, err)
		}
		backend = rs
	case "memory", "":
		backend = memstore.NewMemoryStorage()
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
	return storage.NewCached(backend, cfg.Storage.CacheSize), shared, nil
}

func metricsConfig(cfg *config.Config) metrics.Config {
	mc := metrics.DefaultConfig()
	mc.Enabled = cfg.Metrics.Enabled
	mc.Port = cfg.Metrics.Port
	mc.Path = cfg.Metrics.Path
	return mc
}

func generatorConfig(cfg *config.Config) llm.OpenAIConfig {
	return llm.OpenAIConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
		MaxRetries:  cfg.LLM.MaxRetries,
	}
}

// embedderConfig falls back to the chat backend for unset fields.
func embedderConfig(cfg *config.Config) llm.OpenAIConfig {
	ec := llm.OpenAIConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		MaxRetries: cfg.LLM.MaxRetries,
	}
	if ec.BaseURL == "" {
		ec.BaseURL = cfg.LLM.BaseURL
	}
	if ec.APIKey == "" {
		ec.APIKey = cfg.LLM.APIKey
	}
	return ec
}

func retrievalOptions(cfg *config.Config) retrieval.Options {
	r := cfg.Retrieval
	return retrieval.Options{
		Epsilon:                      r.Epsilon,
		Rectify:                      r.Rectify,
		TimeFactor:                   r.TimeFactor,
		FanOut:                       r.FanOut,
		Choices:                      r.Choices,
		KeywordWeight:                r.KeywordWeight,
		Language:                     cfg.Agent.Language,
		ReuseUnconstrainedAdjustment: r.ReuseUnconstrainedAdjustment,
		Assembler: retrieval.AssemblerConfig{
			TokenBudget:      r.TokenBudget,
			MinValue:         r.MinValue,
			FullDocThreshold: r.FullDocThreshold,
		},
	}
}

func agentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		Model:            cfg.LLM.Model,
		MaxCycles:        cfg.Agent.MaxCycles,
		MaxQueries:       cfg.Agent.MaxQueries,
		MaxTokens:        cfg.Agent.MaxTokens,
		Temperature:      cfg.Agent.Temperature,
		GeneratorTimeout: cfg.Agent.GeneratorTimeout,
		SearchTimeout:    cfg.Agent.SearchTimeout,
	}
}

type searchEngine interface {
	Search(ctx context.Context, queries []string) ([]retrieval.Context, error)
	SearchFused(ctx context.Context, queries []string) ([]retrieval.Context, error)
}

// modeSearcher routes the agent's searches to the configured ranking mode.
type modeSearcher struct {
	engine searchEngine
	plain  atomic.Bool
}

func newModeSearcher(engine searchEngine, mode string) *modeSearcher {
	s := &modeSearcher{engine: engine}
	s.SetMode(mode)
	return s
}

// SetMode switches between plain and fused ranking.
func (s *modeSearcher) SetMode(mode string) {
	s.plain.Store(mode == retrieval.ModePlain)
}

func (s *modeSearcher) SearchFused(ctx context.Context, queries []string) ([]retrieval.Context, error) {
	if s.plain.Load() {
		return s.engine.Search(ctx, queries)
	}
	return s.engine.SearchFused(ctx, queries)
}
