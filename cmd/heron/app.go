package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/alerts"
	"github.com/opensource-finance/heron/internal/analytics"
	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/docstore"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/gateway"
	"github.com/opensource-finance/heron/internal/interpreter"
	"github.com/opensource-finance/heron/internal/logging"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/tracing"
	"github.com/opensource-finance/heron/internal/velocity"
)

// velocityCacheTTL bounds how stale a cached velocity count may be.
const velocityCacheTTL = 10 * time.Second

// app holds every wired component. Components are built once here and
// injected; nothing is global.
type app struct {
	cfg *domain.Config

	repo      domain.Repository
	replica   domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	docs      *docstore.Store
	engine    *rules.Engine
	evaluator gateway.Evaluator
	metrics   *metrics.Collector

	alerts    *alerts.Manager
	analytics *analytics.Aggregator
	pipeline  *pipeline.Pipeline

	closers []func() error
}

// newApp loads configuration, sets up logging and tracing, and wires the
// stack. Close must be called on every return path that yields an app.
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, logCloser := logging.New(cfg.Logging)
	slog.SetDefault(logger)

	a := &app{cfg: cfg}
	a.closers = append(a.closers, logCloser.Close)

	shutdownTracing := tracing.Setup(cfg.Tracing)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(ctx)
	})

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	a.repo = repo
	a.closers = append(a.closers, repo.Close)
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	a.replica = repo
	if cfg.Repository.Replica != nil {
		replica, err := repository.NewReplica(*cfg.Repository.Replica)
		if err != nil {
			return fmt.Errorf("failed to initialize read replica: %w", err)
		}
		a.replica = replica
		a.closers = append(a.closers, replica.Close)
		slog.Info("read replica initialized", "driver", cfg.Repository.Replica.Driver)
	}

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.cache = cacheImpl
	a.closers = append(a.closers, cacheImpl.Close)
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	a.bus = busImpl
	a.closers = append(a.closers, busImpl.Close)
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	a.metrics = metrics.New()

	if err := a.wireEvaluator(); err != nil {
		return err
	}

	var traces pipeline.TraceSource
	if cfg.DocStore.Enabled {
		docs, err := docstore.Open(ctx, cfg.DocStore)
		if err != nil {
			return fmt.Errorf("failed to initialize document store: %w", err)
		}
		a.docs = docs
		a.closers = append(a.closers, docs.Close)
		traces = docs
	}

	a.alerts = alerts.NewManager(repo, busImpl, a.metrics)
	a.analytics = analytics.New(a.replica)
	a.pipeline = pipeline.New(cfg.Pipeline, pipeline.Deps{
		Store:       repo,
		Evaluator:   a.evaluator,
		Interpreter: interpreter.New(repo, a.alerts, cacheImpl, busImpl, a.metrics),
		Cache:       cacheImpl,
		CustomerTTL: cfg.Cache.CustomerTTL,
		Traces:      traces,
		Bus:         busImpl,
		Metrics:     a.metrics,
	})
	return nil
}

// wireEvaluator builds the gateway: the remote service behind retry and a
// circuit breaker, or the embedded CEL rule set.
func (a *app) wireEvaluator() error {
	cfg := a.cfg.Gateway

	switch cfg.Mode {
	case domain.GatewayHTTP:
		client, err := gateway.NewHTTPClient(cfg, a.metrics)
		if err != nil {
			return fmt.Errorf("failed to initialize gateway: %w", err)
		}
		a.evaluator = gateway.WithRetry(
			gateway.WithCircuitBreaker(client, gateway.BreakerSettingsFrom(cfg), a.metrics),
			gateway.RetryPolicyFrom(cfg),
		)
		slog.Info("evaluation gateway initialized", "mode", cfg.Mode, "base_url", cfg.BaseURL)

	case domain.GatewayEmbedded:
		vel := velocity.NewService(a.repo, a.cache, velocityCacheTTL)
		engine, err := rules.NewEngine(vel.CustomerCount, 100)
		if err != nil {
			return fmt.Errorf("failed to initialize rule engine: %w", err)
		}
		a.engine = engine
		a.closers = append(a.closers, engine.Close)

		configs, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		if err := engine.ReloadRules(configs); err != nil {
			return fmt.Errorf("failed to compile rules: %w", err)
		}
		a.evaluator = rules.NewEvaluator(engine)
		slog.Info("embedded rule engine initialized", "rules_file", cfg.RulesFile, "rules_count", engine.RulesCount())

	default:
		return fmt.Errorf("%w: unknown gateway mode %q", domain.ErrInvalidInput, cfg.Mode)
	}
	return nil
}

// apiDeps returns the HTTP surface of the app.
func (a *app) apiDeps() api.Deps {
	checks := map[string]api.Pinger{
		"repository": a.repo,
		"cache":      a.cache,
		"eventbus":   a.bus,
	}
	deps := api.Deps{
		Transactions: a.repo,
		Pipeline:     a.pipeline,
		Alerts:       a.alerts,
		Analytics:    a.analytics,
		Gateway:      a.evaluator,
		Checks:       checks,
		Metrics:      a.metrics,
		Version:      Version,
	}
	if a.docs != nil {
		checks["docstore"] = a.docs
		deps.Traces = a.docs
	}
	return deps
}

// Close releases components in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Error("failed to close component", "error", err)
		}
	}
	a.closers = nil
}
