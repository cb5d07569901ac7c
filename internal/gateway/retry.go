package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/opensource-finance/heron/internal/domain"
)

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RetryPolicyFrom extracts the retry policy from gateway config.
func RetryPolicyFrom(cfg domain.GatewayConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

type retrying struct {
	next   Evaluator
	policy RetryPolicy
}

// WithRetry retries transient failures of next with exponential backoff.
// Contract violations and other permanent errors are returned at once.
func WithRetry(next Evaluator, policy RetryPolicy) Evaluator {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 200 * time.Millisecond
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	return &retrying{next: next, policy: policy}
}

func (r *retrying) Evaluate(ctx context.Context, tx *domain.Transaction, cust *domain.Customer) (*domain.Verdict, error) {
	return retry(ctx, r.policy, "evaluate", func() (*domain.Verdict, error) {
		return r.next.Evaluate(ctx, tx, cust)
	})
}

func (r *retrying) EvaluateBatch(ctx context.Context, txs []*domain.Transaction, customers map[string]*domain.Customer) (*BatchResult, error) {
	return retry(ctx, r.policy, "evaluate_batch", func() (*BatchResult, error) {
		return r.next.EvaluateBatch(ctx, txs, customers)
	})
}

// Health is not retried; callers poll it.
func (r *retrying) Health(ctx context.Context) (*Health, error) {
	return r.next.Health(ctx)
}

func retry[T any](ctx context.Context, policy RetryPolicy, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialBackoff
	b.MaxInterval = policy.MaxBackoff

	var last error
	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		last = err
		if !domain.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(policy.MaxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("retrying evaluation call", "operation", op, "error", err, "wait", wait)
		}),
	)

	// A context that ends between attempts surfaces as the context error;
	// report the last gateway failure with it.
	if err != nil && last != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) && !errors.Is(last, err) {
		return res, errors.Join(last, err)
	}
	return res, err
}
