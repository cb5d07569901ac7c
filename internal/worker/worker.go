// Package worker evaluates submitted transactions asynchronously from the
// event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
)

// Evaluator evaluates one stored transaction.
type Evaluator interface {
	Evaluate(ctx context.Context, txID string) (*pipeline.Outcome, error)
}

// Worker consumes transaction-submitted events.
type Worker struct {
	bus       domain.EventBus
	evaluator Evaluator
	sem       chan struct{}

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds in-flight evaluations.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, evaluator Evaluator, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		evaluator: evaluator,
		sem:       make(chan struct{}, cfg.Concurrency),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to submitted transactions.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionSubmitted, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe worker: %w", err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicTransactionSubmitted,
		"concurrency", cap(w.sem),
	)
	return nil
}

// handleMessage decodes the event and evaluates it on a bounded pool. With
// Concurrency evaluations in flight it waits for a slot, holding back
// delivery; the bus buffers meanwhile and reports overflow to publishers.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var event domain.TransactionSubmitted
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse submitted transaction",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if event.TransactionID == "" {
		return fmt.Errorf("%w: submitted event without transaction id", domain.ErrInvalidInput)
	}

	traceID := event.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.process(event.TransactionID, traceID)
	}()
	return nil
}

func (w *Worker) process(txID, traceID string) {
	start := time.Now()

	slog.Debug("processing transaction",
		"transaction_id", txID,
		"trace_id", traceID,
	)

	out, err := w.evaluator.Evaluate(w.ctx, txID)
	if err != nil {
		w.failed.Add(1)
		slog.Error("async evaluation failed",
			"transaction_id", txID,
			"trace_id", traceID,
			"error", err,
		)
		return
	}
	w.processed.Add(1)

	slog.Info("transaction processed",
		"transaction_id", txID,
		"trace_id", traceID,
		"risk_score", out.Result.RiskScore,
		"alerts_created", len(out.Result.AlertsCreated),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// Stop unsubscribes and waits for in-flight evaluations.
func (w *Worker) Stop() error {
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
