// Package config loads the Heron configuration from an optional YAML file
// and HERON_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/heron/internal/domain"
)

// EnvPrefix prefixes environment overrides, e.g. HERON_GATEWAY_MODE.
const EnvPrefix = "HERON"

// Load reads configuration. Precedence, highest first: environment,
// file at path (optional), built-in defaults. The result is validated.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, domain.DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := domain.DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file does not mention them.
func setDefaults(v *viper.Viper, d *domain.Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("repository.driver", d.Repository.Driver)
	v.SetDefault("repository.sqlite_path", d.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", d.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", d.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", d.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", d.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", d.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", d.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", d.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", d.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", d.Repository.ConnMaxLifetime)

	v.SetDefault("docstore.enabled", d.DocStore.Enabled)
	v.SetDefault("docstore.uri", d.DocStore.URI)
	v.SetDefault("docstore.database", d.DocStore.Database)
	v.SetDefault("docstore.collection", d.DocStore.Collection)
	v.SetDefault("docstore.timeout", d.DocStore.Timeout)

	v.SetDefault("cache.type", d.Cache.Type)
	v.SetDefault("cache.local_max_size", d.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", d.Cache.LocalTTL)
	v.SetDefault("cache.customer_ttl", d.Cache.CustomerTTL)
	v.SetDefault("cache.redis_addr", d.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", d.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", d.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", d.Cache.EnableTwoPhase)

	v.SetDefault("eventbus.type", d.EventBus.Type)
	v.SetDefault("eventbus.channel_buffer_size", d.EventBus.ChannelBufferSize)
	v.SetDefault("eventbus.nats_url", d.EventBus.NATSUrl)
	v.SetDefault("eventbus.nats_token", d.EventBus.NATSToken)
	v.SetDefault("eventbus.nats_max_reconnects", d.EventBus.NATSMaxReconnects)
	v.SetDefault("eventbus.nats_reconnect_wait", d.EventBus.NATSReconnectWait)

	v.SetDefault("gateway.mode", string(d.Gateway.Mode))
	v.SetDefault("gateway.base_url", d.Gateway.BaseURL)
	v.SetDefault("gateway.api_key", d.Gateway.APIKey)
	v.SetDefault("gateway.timeout", d.Gateway.Timeout)
	v.SetDefault("gateway.max_retries", d.Gateway.MaxRetries)
	v.SetDefault("gateway.initial_backoff", d.Gateway.InitialBackoff)
	v.SetDefault("gateway.max_backoff", d.Gateway.MaxBackoff)
	v.SetDefault("gateway.breaker_failures", d.Gateway.BreakerFailures)
	v.SetDefault("gateway.breaker_timeout", d.Gateway.BreakerTimeout)
	v.SetDefault("gateway.rules_file", d.Gateway.RulesFile)

	v.SetDefault("pipeline.evaluation_timeout", d.Pipeline.EvaluationTimeout)
	v.SetDefault("pipeline.lookup_concurrency", d.Pipeline.LookupConcurrency)
	v.SetDefault("pipeline.max_batch_size", d.Pipeline.MaxBatchSize)

	v.SetDefault("worker.enabled", d.Worker.Enabled)
	v.SetDefault("worker.concurrency", d.Worker.Concurrency)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Validate checks cross-field constraints and reports every problem found.
func Validate(cfg *domain.Config) error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		bad("server.port %d out of range", cfg.Server.Port)
	}

	switch cfg.Repository.Driver {
	case "sqlite":
	case "postgres":
		if cfg.Repository.PostgresUser == "" {
			bad("repository.postgres_user is required for postgres")
		}
	default:
		bad("repository.driver %q is not sqlite or postgres", cfg.Repository.Driver)
	}
	if r := cfg.Repository.Replica; r != nil && r.Driver != "sqlite" && r.Driver != "postgres" {
		bad("repository.replica.driver %q is not sqlite or postgres", r.Driver)
	}

	switch cfg.Cache.Type {
	case "memory":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			bad("cache.redis_addr is required for redis")
		}
	default:
		bad("cache.type %q is not memory or redis", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel":
	case "nats":
		if cfg.EventBus.NATSUrl == "" {
			bad("eventbus.nats_url is required for nats")
		}
	default:
		bad("eventbus.type %q is not channel or nats", cfg.EventBus.Type)
	}

	switch cfg.Gateway.Mode {
	case domain.GatewayHTTP:
		if cfg.Gateway.BaseURL == "" {
			bad("gateway.base_url is required in http mode")
		}
		if cfg.Gateway.MaxRetries < 0 {
			bad("gateway.max_retries must not be negative")
		}
	case domain.GatewayEmbedded:
		if cfg.Gateway.RulesFile == "" {
			bad("gateway.rules_file is required in embedded mode")
		}
	default:
		bad("gateway.mode %q is not http or embedded", cfg.Gateway.Mode)
	}

	if cfg.DocStore.Enabled && cfg.DocStore.URI == "" {
		bad("docstore.uri is required when the docstore is enabled")
	}

	if cfg.Pipeline.MaxBatchSize <= 0 {
		bad("pipeline.max_batch_size must be positive")
	}
	if cfg.Pipeline.LookupConcurrency <= 0 {
		bad("pipeline.lookup_concurrency must be positive")
	}
	if cfg.Worker.Enabled && cfg.Worker.Concurrency <= 0 {
		bad("worker.concurrency must be positive")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		bad("logging.level %q is not debug, info, warn or error", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		bad("logging.format %q is not json or text", cfg.Logging.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrInvalidInput, errors.Join(errs...))
}
