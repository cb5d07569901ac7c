package domain

import "time"

// Config holds the complete Heron configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	DocStore   DocStoreConfig   `mapstructure:"docstore"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventbus"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Worker     WorkerConfig     `mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// GatewayMode selects the evaluation transport.
type GatewayMode string

const (
	// GatewayHTTP calls a remote rule-evaluation service.
	GatewayHTTP GatewayMode = "http"

	// GatewayEmbedded evaluates CEL rules in process.
	GatewayEmbedded GatewayMode = "embedded"
)

// GatewayConfig configures the evaluation gateway.
type GatewayConfig struct {
	Mode    GatewayMode   `mapstructure:"mode"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`

	// Retry policy for transient failures
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`

	// Circuit breaker
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`

	// RulesFile is the YAML rule set used in embedded mode.
	RulesFile string `mapstructure:"rules_file"`
}

// DocStoreConfig configures the ISO20022 trace document store.
type DocStoreConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URI        string        `mapstructure:"uri"`
	Database   string        `mapstructure:"database"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// PipelineConfig tunes evaluation orchestration.
type PipelineConfig struct {
	// EvaluationTimeout bounds one gateway call.
	EvaluationTimeout time.Duration `mapstructure:"evaluation_timeout"`

	// LookupConcurrency bounds concurrent customer lookups in a batch.
	LookupConcurrency int `mapstructure:"lookup_concurrency"`

	// MaxBatchSize caps transactions per batch request.
	MaxBatchSize int `mapstructure:"max_batch_size"`
}

// WorkerConfig configures the async evaluation worker.
type WorkerConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	Concurrency int  `mapstructure:"concurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text

	// File output with rotation; empty logs to stdout only.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory
// cache, channel bus and the embedded rule evaluator.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		DocStore: DocStoreConfig{
			Enabled:    false,
			URI:        "mongodb://localhost:27017",
			Database:   "heron",
			Collection: "evaluation_traces",
			Timeout:    10 * time.Second,
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			CustomerTTL:  5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Gateway: GatewayConfig{
			Mode:            GatewayEmbedded,
			BaseURL:         "http://localhost:9090",
			Timeout:         5 * time.Second,
			MaxRetries:      3,
			InitialBackoff:  200 * time.Millisecond,
			MaxBackoff:      2 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
			RulesFile:       "./rules.yaml",
		},
		Pipeline: PipelineConfig{
			EvaluationTimeout: 10 * time.Second,
			LookupConcurrency: 8,
			MaxBatchSize:      500,
		},
		Worker: WorkerConfig{
			Enabled:     false,
			Concurrency: 5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
	}
}
