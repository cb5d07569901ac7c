package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
)

// BreakerSettings configures the circuit breaker.
type BreakerSettings struct {
	Name string

	// Failures is the number of consecutive transient failures that opens
	// the breaker.
	Failures int

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

// BreakerSettingsFrom extracts breaker settings from gateway config.
func BreakerSettingsFrom(cfg domain.GatewayConfig) BreakerSettings {
	return BreakerSettings{
		Name:     "evaluation-service",
		Failures: cfg.BreakerFailures,
		Timeout:  cfg.BreakerTimeout,
	}
}

type breaking struct {
	next Evaluator
	cb   *gobreaker.CircuitBreaker
}

// WithCircuitBreaker stops calling next after repeated transient failures.
// While open, calls fail with ErrTransientGateway. Contract violations do
// not count as failures. The collector may be nil.
func WithCircuitBreaker(next Evaluator, s BreakerSettings, m *metrics.Collector) Evaluator {
	failures := s.Failures
	if failures <= 0 {
		failures = 5
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !domain.IsTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			m.BreakerState(name, int(to))
		},
	})

	return &breaking{next: next, cb: cb}
}

func (b *breaking) Evaluate(ctx context.Context, tx *domain.Transaction, cust *domain.Customer) (*domain.Verdict, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Evaluate(ctx, tx, cust)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*domain.Verdict), nil
}

func (b *breaking) EvaluateBatch(ctx context.Context, txs []*domain.Transaction, customers map[string]*domain.Customer) (*BatchResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.EvaluateBatch(ctx, txs, customers)
	})
	if err != nil {
		return nil, breakerError(err)
	}
	return out.(*BatchResult), nil
}

// Health bypasses the breaker so the service stays checkable while open.
func (b *breaking) Health(ctx context.Context) (*Health, error) {
	return b.next.Health(ctx)
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", domain.ErrTransientGateway, err)
	}
	return err
}
