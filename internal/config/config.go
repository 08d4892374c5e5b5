// Package config provides application configuration for the engine: an
// immutable AppConfig built through functional options, matching the
// teacher's options-over-struct convention, plus environment loading.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultLogLevel              = "INFO"
	DefaultWorkerCount           = 5
	DefaultBatchSize             = 32
	DefaultRepoSubdir            = "repos"
	DefaultEmbeddingModel        = "text-embedding-3-small"
	DefaultEndpointParallelTasks = 4
	DefaultEndpointTimeout       = 60 * time.Second
	DefaultEndpointMaxRetries    = 3
	DefaultEndpointInitialDelay  = 1 * time.Second
	DefaultEndpointBackoffCap    = 10 * time.Second
	DefaultEndpointMaxBatchChars = 16000
	DefaultFusionK               = 60.0
	DefaultSearchLimit           = 10
	DefaultMaxChunkBytes         = 800
	DefaultChunkTolerance        = 400
)

// LogFormat is the log output format.
type LogFormat string

// LogFormat values.
const (
	LogFormatPretty LogFormat = "pretty"
	LogFormatJSON   LogFormat = "json"
)

// Endpoint configures the embedding provider connection.
type Endpoint struct {
	baseURL          string
	model            string
	apiKey           string
	numParallelTasks int
	timeout          time.Duration
	maxRetries       int
	initialDelay     time.Duration
	backoffCap       time.Duration
	maxTokens        int
	maxBatchChars    int
}

// NewEndpoint creates an Endpoint with defaults.
func NewEndpoint() Endpoint {
	return Endpoint{
		model:            DefaultEmbeddingModel,
		numParallelTasks: DefaultEndpointParallelTasks,
		timeout:          DefaultEndpointTimeout,
		maxRetries:       DefaultEndpointMaxRetries,
		initialDelay:     DefaultEndpointInitialDelay,
		backoffCap:       DefaultEndpointBackoffCap,
		maxBatchChars:    DefaultEndpointMaxBatchChars,
	}
}

// BaseURL returns the endpoint base URL, empty for the provider's default.
func (e Endpoint) BaseURL() string { return e.baseURL }

// Model returns the embedding model identifier.
func (e Endpoint) Model() string { return e.model }

// APIKey returns the provider API key.
func (e Endpoint) APIKey() string { return e.apiKey }

// NumParallelTasks returns the embedding worker fan-out.
func (e Endpoint) NumParallelTasks() int { return e.numParallelTasks }

// Timeout returns the per-request timeout.
func (e Endpoint) Timeout() time.Duration { return e.timeout }

// MaxRetries returns the maximum retry count.
func (e Endpoint) MaxRetries() int { return e.maxRetries }

// InitialDelay returns the first retry backoff delay.
func (e Endpoint) InitialDelay() time.Duration { return e.initialDelay }

// BackoffCap returns the maximum backoff delay.
func (e Endpoint) BackoffCap() time.Duration { return e.backoffCap }

// MaxTokens returns the maximum tokens accepted per embedding request.
func (e Endpoint) MaxTokens() int { return e.maxTokens }

// MaxBatchChars returns the maximum total characters per embedding batch.
func (e Endpoint) MaxBatchChars() int { return e.maxBatchChars }

// IsConfigured reports whether an API key has been set.
func (e Endpoint) IsConfigured() bool { return e.apiKey != "" }

// EndpointOption is a functional option for Endpoint.
type EndpointOption func(*Endpoint)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) EndpointOption { return func(e *Endpoint) { e.baseURL = url } }

// WithModel sets the embedding model.
func WithModel(model string) EndpointOption { return func(e *Endpoint) { e.model = model } }

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) EndpointOption { return func(e *Endpoint) { e.apiKey = key } }

// WithNumParallelTasks sets the embedding worker fan-out.
func WithNumParallelTasks(n int) EndpointOption {
	return func(e *Endpoint) {
		if n > 0 {
			e.numParallelTasks = n
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) EndpointOption { return func(e *Endpoint) { e.timeout = d } }

// WithMaxRetries sets the maximum retry count.
func WithMaxRetries(n int) EndpointOption { return func(e *Endpoint) { e.maxRetries = n } }

// WithInitialDelay sets the first retry backoff delay.
func WithInitialDelay(d time.Duration) EndpointOption {
	return func(e *Endpoint) { e.initialDelay = d }
}

// WithBackoffCap sets the maximum backoff delay.
func WithBackoffCap(d time.Duration) EndpointOption { return func(e *Endpoint) { e.backoffCap = d } }

// WithMaxTokens sets the maximum tokens per embedding request.
func WithMaxTokens(n int) EndpointOption { return func(e *Endpoint) { e.maxTokens = n } }

// WithMaxBatchChars sets the maximum characters per embedding batch.
func WithMaxBatchChars(n int) EndpointOption { return func(e *Endpoint) { e.maxBatchChars = n } }

// NewEndpointWithOptions creates an Endpoint with functional options applied.
func NewEndpointWithOptions(opts ...EndpointOption) Endpoint {
	e := NewEndpoint()
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// AppConfig holds the engine's runtime configuration.
type AppConfig struct {
	dataDir           string
	repoVolume        string
	dbURL             string
	logLevel          string
	logFormat         LogFormat
	embeddingEndpoint Endpoint
	workerCount       int
	batchSize         int
	fusionK           float64
	searchLimit       int
	maxChunkBytes     int
	chunkTolerance    int
}

// DefaultDataDir returns the default data directory under the user's home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cpgraph"
	}
	return filepath.Join(home, ".cpgraph")
}

// DefaultLogger returns the default slog logger for library consumers that
// did not supply their own.
func DefaultLogger() *slog.Logger { return slog.Default() }

// NewAppConfig creates an AppConfig populated with defaults.
func NewAppConfig() AppConfig {
	dataDir := DefaultDataDir()
	return AppConfig{
		dataDir:           dataDir,
		repoVolume:        filepath.Join(dataDir, DefaultRepoSubdir),
		dbURL:             "sqlite:///" + filepath.Join(dataDir, "cpgraph.db"),
		logLevel:          DefaultLogLevel,
		logFormat:         LogFormatPretty,
		embeddingEndpoint: NewEndpoint(),
		workerCount:       DefaultWorkerCount,
		batchSize:         DefaultBatchSize,
		fusionK:           DefaultFusionK,
		searchLimit:       DefaultSearchLimit,
		maxChunkBytes:     DefaultMaxChunkBytes,
		chunkTolerance:    DefaultChunkTolerance,
	}
}

// DataDir returns the data directory path.
func (c AppConfig) DataDir() string { return c.dataDir }

// RepoVolume returns the directory repositories are cloned into.
func (c AppConfig) RepoVolume() string { return c.repoVolume }

// DBURL returns the database connection URL.
func (c AppConfig) DBURL() string { return c.dbURL }

// LogLevel returns the configured log level.
func (c AppConfig) LogLevel() string { return c.logLevel }

// LogFormat returns the configured log format.
func (c AppConfig) LogFormat() LogFormat { return c.logFormat }

// EmbeddingEndpoint returns the embedding provider configuration.
func (c AppConfig) EmbeddingEndpoint() Endpoint { return c.embeddingEndpoint }

// WorkerCount returns the indexer's bounded worker pool size.
func (c AppConfig) WorkerCount() int { return c.workerCount }

// BatchSize returns the embedding pipeline's batch size.
func (c AppConfig) BatchSize() int { return c.batchSize }

// FusionK returns the RRF rank-smoothing constant.
func (c AppConfig) FusionK() float64 { return c.fusionK }

// SearchLimit returns the default number of retrieved chunks.
func (c AppConfig) SearchLimit() int { return c.searchLimit }

// MaxChunkBytes returns the target chunk size budget.
func (c AppConfig) MaxChunkBytes() int { return c.maxChunkBytes }

// ChunkTolerance returns the allowed overflow before a chunk is flagged oversize.
func (c AppConfig) ChunkTolerance() int { return c.chunkTolerance }

// EnsureRepoVolume creates the repo volume directory if it does not exist.
func (c AppConfig) EnsureRepoVolume() error {
	return os.MkdirAll(c.repoVolume, 0o755)
}

// LogAttrs returns slog attributes describing the configuration, masking
// the embedding API key.
func (c AppConfig) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("data_dir", c.dataDir),
		slog.String("repo_volume", c.repoVolume),
		slog.String("db_url", c.maskedDBURL()),
		slog.String("log_level", c.logLevel),
		slog.String("embedding_model", c.embeddingEndpoint.Model()),
		slog.Int("worker_count", c.workerCount),
		slog.Int("batch_size", c.batchSize),
	}
}

func (c AppConfig) maskedDBURL() string {
	if strings.HasPrefix(c.dbURL, "sqlite:") {
		return c.dbURL
	}
	return "postgres://***@***"
}

// AppConfigOption is a functional option for AppConfig.
type AppConfigOption func(*AppConfig)

// WithDataDir sets the data directory, refreshing derived defaults that
// still point at the previous directory.
func WithDataDir(dir string) AppConfigOption {
	return func(c *AppConfig) {
		old := c.dataDir
		c.dataDir = dir
		if c.repoVolume == filepath.Join(old, DefaultRepoSubdir) {
			c.repoVolume = filepath.Join(dir, DefaultRepoSubdir)
		}
		if strings.Contains(c.dbURL, "cpgraph.db") {
			c.dbURL = "sqlite:///" + filepath.Join(dir, "cpgraph.db")
		}
	}
}

// WithRepoVolume sets the repository clone directory.
func WithRepoVolume(dir string) AppConfigOption { return func(c *AppConfig) { c.repoVolume = dir } }

// WithDBURL sets the database connection URL.
func WithDBURL(url string) AppConfigOption { return func(c *AppConfig) { c.dbURL = url } }

// WithLogLevel sets the log level.
func WithLogLevel(level string) AppConfigOption { return func(c *AppConfig) { c.logLevel = level } }

// WithLogFormat sets the log format.
func WithLogFormat(format LogFormat) AppConfigOption {
	return func(c *AppConfig) { c.logFormat = format }
}

// WithEmbeddingEndpoint sets the embedding provider configuration.
func WithEmbeddingEndpoint(e Endpoint) AppConfigOption {
	return func(c *AppConfig) { c.embeddingEndpoint = e }
}

// WithWorkerCount sets the indexer's worker pool size.
func WithWorkerCount(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.workerCount = n
		}
	}
}

// WithBatchSize sets the embedding pipeline's batch size.
func WithBatchSize(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithFusionK sets the RRF rank-smoothing constant.
func WithFusionK(k float64) AppConfigOption {
	return func(c *AppConfig) {
		if k > 0 {
			c.fusionK = k
		}
	}
}

// WithSearchLimit sets the default number of retrieved chunks.
func WithSearchLimit(n int) AppConfigOption {
	return func(c *AppConfig) {
		if n > 0 {
			c.searchLimit = n
		}
	}
}

// NewAppConfigWithOptions creates an AppConfig with functional options applied.
func NewAppConfigWithOptions(opts ...AppConfigOption) AppConfig {
	c := NewAppConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Apply returns a copy of c with the given options applied.
func (c AppConfig) Apply(opts ...AppConfigOption) AppConfig {
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// PrepareDataDir creates the data directory if needed and returns it.
func PrepareDataDir(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dataDir, nil
}
