// Package config provides configuration management for Elephie.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for Elephie.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Metrics is the prometheus configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the OpenTelemetry configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Storage is the document store configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Memory is the index configuration.
	Memory MemoryConfig `mapstructure:"memory"`

	// Retrieval tunes ranking and context assembly.
	Retrieval RetrievalConfig `mapstructure:"retrieval"`

	// Agent is the chat agent configuration.
	Agent AgentConfig `mapstructure:"agent"`

	// LLM is the chat completion backend.
	LLM LLMConfig `mapstructure:"llm"`

	// Embedding is the embedding backend.
	Embedding EmbeddingConfig `mapstructure:"embedding"`

	// Ingest is the document ingestion configuration.
	Ingest IngestConfig `mapstructure:"ingest"`

	// Auth is the API authentication configuration.
	Auth AuthConfig `mapstructure:"auth"`

	// RateLimit is the per-client request limit.
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	// Streaming chat responses are exempt.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// RequestTimeout bounds non-chat API handlers.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of response headers readable by the browser.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port. Zero serves metrics on the API port.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlp).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlp"`

	// Endpoint is the OTLP gRPC collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Headers are sent with every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Timeout bounds a single export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Sampler is the sampling strategy (always_on, always_off, parentbased_traceidratio).
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off parentbased_traceidratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// StorageConfig holds document store settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger, redis).
	Type string `mapstructure:"type" validate:"oneof=memory badger redis"`

	// CacheSize is the L1 document cache size. Zero disables the cache.
	CacheSize int `mapstructure:"cache_size" validate:"min=0"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// Redis is the Redis configuration.
	Redis RedisConfig `mapstructure:"redis"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db"`

	// KeyPrefix namespaces every key.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MemoryConfig holds index settings.
type MemoryConfig struct {
	// ChunkSize is the maximum chunk length in runes.
	ChunkSize int `mapstructure:"chunk_size" validate:"min=1"`

	// VectorPath is where vectors persist when storage is not badger.
	// Empty keeps vectors in memory only.
	VectorPath string `mapstructure:"vector_path"`

	// BM25 is the keyword index configuration.
	BM25 BM25Config `mapstructure:"bm25"`
}

// BM25Config holds BM25 parameters.
type BM25Config struct {
	// K1 controls term frequency saturation.
	K1 float64 `mapstructure:"k1" validate:"gt=0"`

	// B controls document length normalization.
	B float64 `mapstructure:"b" validate:"min=0,max=1"`
}

// RetrievalConfig tunes ranking.
type RetrievalConfig struct {
	// Mode is the search mode used by the agent (plain, fused).
	Mode string `mapstructure:"mode" validate:"oneof=plain fused"`

	// Epsilon keeps distance-to-score conversion finite.
	Epsilon float64 `mapstructure:"epsilon" validate:"gt=0"`

	// Rectify scales the depth adjustment.
	Rectify float64 `mapstructure:"rectify" validate:"min=0"`

	// TimeFactor biases fused search toward range-matched results.
	TimeFactor float64 `mapstructure:"time_factor" validate:"gt=0"`

	// FanOut is the candidate count per query in plain mode.
	FanOut int `mapstructure:"fan_out" validate:"min=1"`

	// Choices is the candidate count kept per query in fused mode.
	Choices int `mapstructure:"choices" validate:"min=1"`

	// KeywordWeight scales the BM25 score added in fused mode.
	KeywordWeight float64 `mapstructure:"keyword_weight" validate:"min=0"`

	// ReuseUnconstrainedAdjustment applies the unconstrained depth factor to
	// the range-constrained half.
	ReuseUnconstrainedAdjustment bool `mapstructure:"reuse_unconstrained_adjustment"`

	// TokenBudget is the total token count contexts may occupy.
	TokenBudget int `mapstructure:"token_budget" validate:"min=1"`

	// MinValue is the value a weak match must exceed.
	MinValue float64 `mapstructure:"min_value" validate:"min=0"`

	// FullDocThreshold admits a match regardless of value.
	FullDocThreshold float64 `mapstructure:"full_doc_threshold" validate:"min=0"`

	// Encoding is the tiktoken encoding the budget is expressed in.
	Encoding string `mapstructure:"encoding"`
}

// AgentConfig holds chat agent settings.
type AgentConfig struct {
	// NickName is how the agent refers to the user.
	NickName string `mapstructure:"nick_name" validate:"required"`

	// Language selects the one-shot preset and date keywords.
	Language string `mapstructure:"language"`

	// MultipleSystemPrompts sends notices as system messages. Some backends
	// accept a single system message only.
	MultipleSystemPrompts bool `mapstructure:"multiple_system_prompts"`

	// MaxCycles bounds generator calls per turn.
	MaxCycles int `mapstructure:"max_cycles" validate:"min=1"`

	// MaxQueries bounds the queries taken from one SEARCH block.
	MaxQueries int `mapstructure:"max_queries" validate:"min=1"`

	// MaxTokens is the default completion size.
	MaxTokens int `mapstructure:"max_tokens" validate:"min=1"`

	// Temperature is the sampling temperature.
	Temperature float64 `mapstructure:"temperature" validate:"min=0,max=2"`

	// GeneratorTimeout bounds one classification pass.
	GeneratorTimeout time.Duration `mapstructure:"generator_timeout"`

	// SearchTimeout bounds one retrieval call.
	SearchTimeout time.Duration `mapstructure:"search_timeout"`

	// ConversationTTL expires conversation start times.
	ConversationTTL time.Duration `mapstructure:"conversation_ttl"`

	// ChatURL prefixes links to chat transcripts.
	ChatURL string `mapstructure:"chat_url"`

	// NoteURL prefixes links to notes.
	NoteURL string `mapstructure:"note_url"`
}

// LLMConfig holds the chat completion backend settings.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible API base URL.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`

	// APIKey authenticates with the backend.
	APIKey string `mapstructure:"api_key"`

	// Model is the chat model name.
	Model string `mapstructure:"model"`

	// MaxRetries is the number of retries on transient errors.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`
}

// EmbeddingConfig holds the embedding backend settings. Empty fields fall
// back to the LLM settings.
type EmbeddingConfig struct {
	// BaseURL is the OpenAI-compatible API base URL.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`

	// APIKey authenticates with the backend.
	APIKey string `mapstructure:"api_key"`

	// Model is the embedding model name.
	Model string `mapstructure:"model"`
}

// IngestConfig holds document ingestion settings.
type IngestConfig struct {
	// Enabled starts the directory watcher with the server.
	Enabled bool `mapstructure:"enabled"`

	// ChatPath is where chat transcripts are saved and read.
	ChatPath string `mapstructure:"chat_path"`

	// NotePath is the markdown notes directory.
	NotePath string `mapstructure:"note_path"`

	// IdleWindow is how long the chat endpoint must be quiet before a batch runs.
	IdleWindow time.Duration `mapstructure:"idle_window"`

	// PollInterval is how often pending changes are checked.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Workers is the batch concurrency.
	Workers int `mapstructure:"workers" validate:"min=1"`

	// Summarize replaces document bodies with generated summaries.
	Summarize bool `mapstructure:"summarize"`

	// SummaryMaxTokens bounds a summary.
	SummaryMaxTokens int `mapstructure:"summary_max_tokens" validate:"min=0"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	// Enabled requires a bearer token on the chat and document APIs.
	Enabled bool `mapstructure:"enabled"`

	// Secret is the HS256 signing key.
	Secret string `mapstructure:"secret"`

	// TokenTTL is the lifetime of minted tokens. Zero mints tokens without expiry.
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// RateLimitConfig holds per-client rate limit settings.
type RateLimitConfig struct {
	// Enabled turns the limiter on.
	Enabled bool `mapstructure:"enabled"`

	// RequestsPerSecond is the sustained rate per client.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"min=0"`

	// Burst is the bucket size per client.
	Burst int `mapstructure:"burst" validate:"min=0"`

	// MaxClients bounds the number of tracked clients.
	MaxClients int `mapstructure:"max_clients" validate:"min=0"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type)
}
