package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "elephie",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    0,
				IdleTimeout:     120 * time.Second,
				RequestTimeout:  30 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Conversation-ID"},
				ExposedHeaders: []string{"X-Request-ID", "X-Conversation-ID"},
				MaxAge:         300,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    0,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
		Storage: StorageConfig{
			Type:      "badger",
			CacheSize: 1000,
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1 << 28, // 256MB
				NumVersionsToKeep: 1,
			},
			Redis: RedisConfig{
				Address:   "localhost:6379",
				Password:  "",
				DB:        0,
				KeyPrefix: "elephie:",
			},
		},
		Memory: MemoryConfig{
			ChunkSize: 100,
			BM25: BM25Config{
				K1: 1.5,
				B:  0.75,
			},
		},
		Retrieval: RetrievalConfig{
			Mode:             "fused",
			Epsilon:          0.01,
			Rectify:          0.5,
			TimeFactor:       1.5,
			FanOut:           10,
			Choices:          6,
			KeywordWeight:    0.1,
			TokenBudget:      2048,
			MinValue:         0.3,
			FullDocThreshold: 1.0,
			Encoding:         "cl100k_base",
		},
		Agent: AgentConfig{
			NickName:         "User",
			Language:         "English",
			MaxCycles:        4,
			MaxQueries:       3,
			MaxTokens:        400,
			Temperature:      0.1,
			GeneratorTimeout: 60 * time.Second,
			SearchTimeout:    20 * time.Second,
			ConversationTTL:  12 * time.Hour,
			ChatURL:          "http://localhost:3000/chat/",
			NoteURL:          "http://localhost:3000/notes/",
		},
		LLM: LLMConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-3.5-turbo",
			MaxRetries: 3,
		},
		Embedding: EmbeddingConfig{
			Model: "text-embedding-3-small",
		},
		Ingest: IngestConfig{
			Enabled:          true,
			ChatPath:         "./data/chat",
			NotePath:         "./data/notes",
			IdleWindow:       30 * time.Second,
			PollInterval:     10 * time.Second,
			Workers:          2,
			Summarize:        false,
			SummaryMaxTokens: 500,
		},
		Auth: AuthConfig{
			Enabled:  false,
			TokenTTL: 0,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 5,
			Burst:             10,
			MaxClients:        10000,
		},
	}
}
