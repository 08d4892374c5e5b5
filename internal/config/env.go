package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvConfig holds environment-based configuration. Field names map to
// environment variables with no prefix by default; nested structs use an
// underscore delimiter (e.g. EMBEDDING_BASE_URL).
type EnvConfig struct {
	// DataDir is the data directory path.
	// Env: DATA_DIR
	DataDir string `envconfig:"DATA_DIR"`

	// RepoVolume is the directory repositories are cloned into.
	// Env: REPO_VOLUME
	RepoVolume string `envconfig:"REPO_VOLUME"`

	// DBURL is the database connection URL.
	// Env: DB_URL
	DBURL string `envconfig:"DB_URL"`

	// LogLevel is the log verbosity level.
	// Env: LOG_LEVEL (default: INFO)
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`

	// LogFormat is the log output format (pretty or json).
	// Env: LOG_FORMAT (default: pretty)
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// WorkerCount is the indexer's bounded worker pool size.
	// Env: WORKER_COUNT
	WorkerCount int `envconfig:"WORKER_COUNT"`

	// BatchSize is the embedding pipeline's batch size.
	// Env: BATCH_SIZE
	BatchSize int `envconfig:"BATCH_SIZE"`

	// FusionK is the RRF rank-smoothing constant.
	// Env: FUSION_K
	FusionK float64 `envconfig:"FUSION_K"`

	// SearchLimit is the default number of retrieved chunks.
	// Env: SEARCH_LIMIT
	SearchLimit int `envconfig:"SEARCH_LIMIT"`

	// Embedding configures the embedding provider endpoint.
	Embedding EmbeddingEnv `envconfig:"EMBEDDING"`
}

// EmbeddingEnv holds environment configuration for the embedding endpoint.
type EmbeddingEnv struct {
	// BaseURL is the embedding provider's base URL.
	// Env: EMBEDDING_BASE_URL
	BaseURL string `envconfig:"BASE_URL"`

	// Model is the embedding model identifier.
	// Env: EMBEDDING_MODEL
	Model string `envconfig:"MODEL"`

	// APIKey is the embedding provider API key.
	// Env: EMBEDDING_API_KEY
	APIKey string `envconfig:"API_KEY"`

	// NumParallelTasks is the embedding worker fan-out.
	// Env: EMBEDDING_NUM_PARALLEL_TASKS
	NumParallelTasks int `envconfig:"NUM_PARALLEL_TASKS"`

	// TimeoutSeconds is the per-request timeout in seconds.
	// Env: EMBEDDING_TIMEOUT_SECONDS
	TimeoutSeconds float64 `envconfig:"TIMEOUT_SECONDS"`

	// MaxRetries is the maximum retry count.
	// Env: EMBEDDING_MAX_RETRIES
	MaxRetries int `envconfig:"MAX_RETRIES"`
}

// IsConfigured reports whether an API key was set for this endpoint.
func (e EmbeddingEnv) IsConfigured() bool { return e.APIKey != "" }

// ToEndpoint converts EmbeddingEnv into an Endpoint, leaving any unset field
// at Endpoint's own default.
func (e EmbeddingEnv) ToEndpoint() Endpoint {
	opts := []EndpointOption{WithAPIKey(e.APIKey)}
	if e.BaseURL != "" {
		opts = append(opts, WithBaseURL(e.BaseURL))
	}
	if e.Model != "" {
		opts = append(opts, WithModel(e.Model))
	}
	if e.NumParallelTasks > 0 {
		opts = append(opts, WithNumParallelTasks(e.NumParallelTasks))
	}
	if e.TimeoutSeconds > 0 {
		opts = append(opts, WithTimeout(time.Duration(e.TimeoutSeconds*float64(time.Second))))
	}
	if e.MaxRetries > 0 {
		opts = append(opts, WithMaxRetries(e.MaxRetries))
	}
	return NewEndpointWithOptions(opts...)
}

// LoadFromEnv loads configuration from environment variables with no prefix.
func LoadFromEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// LoadFromEnvWithPrefix loads configuration using a custom prefix, e.g.
// prefix "CPGRAPH" reads CPGRAPH_DB_URL, falling back to the unprefixed
// DB_URL when the prefixed variable is unset.
func LoadFromEnvWithPrefix(prefix string) (EnvConfig, error) {
	var cfg EnvConfig
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// ToAppConfig converts EnvConfig into an AppConfig, overriding defaults only
// where a value was set.
func (e EnvConfig) ToAppConfig() AppConfig {
	cfg := NewAppConfig()

	if e.DataDir != "" {
		cfg = cfg.Apply(WithDataDir(e.DataDir))
	}
	if e.RepoVolume != "" {
		cfg = cfg.Apply(WithRepoVolume(e.RepoVolume))
	}
	if e.DBURL != "" {
		cfg = cfg.Apply(WithDBURL(e.DBURL))
	}
	if e.LogLevel != "" {
		cfg = cfg.Apply(WithLogLevel(e.LogLevel))
	}
	if e.LogFormat != "" {
		cfg = cfg.Apply(WithLogFormat(parseLogFormat(e.LogFormat)))
	}
	if e.WorkerCount > 0 {
		cfg = cfg.Apply(WithWorkerCount(e.WorkerCount))
	}
	if e.BatchSize > 0 {
		cfg = cfg.Apply(WithBatchSize(e.BatchSize))
	}
	if e.FusionK > 0 {
		cfg = cfg.Apply(WithFusionK(e.FusionK))
	}
	if e.SearchLimit > 0 {
		cfg = cfg.Apply(WithSearchLimit(e.SearchLimit))
	}
	if e.Embedding.IsConfigured() {
		cfg = cfg.Apply(WithEmbeddingEndpoint(e.Embedding.ToEndpoint()))
	}

	return cfg
}

func parseLogFormat(s string) LogFormat {
	if strings.ToLower(s) == "json" {
		return LogFormatJSON
	}
	return LogFormatPretty
}
