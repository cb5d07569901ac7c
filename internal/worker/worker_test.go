package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/interpreter"
	"github.com/opensource-finance/heron/internal/pipeline"
)

type fakeEvaluator struct {
	mu       sync.Mutex
	seen     []string
	inFlight int
	peak     int
	delay    time.Duration
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, txID string) (*pipeline.Outcome, error) {
	f.mu.Lock()
	f.seen = append(f.seen, txID)
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if txID == "BAD" {
		return nil, errors.New("boom")
	}
	return &pipeline.Outcome{TransactionID: txID, Result: &interpreter.ApplyResult{TransactionID: txID}}, nil
}

func publish(t *testing.T, b domain.EventBus, txID string) {
	t.Helper()
	payload, _ := json.Marshal(domain.TransactionSubmitted{TransactionID: txID})
	if err := b.Publish(context.Background(), domain.TopicTransactionSubmitted, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, &fakeEvaluator{}, Config{Concurrency: 2})
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicTransactionSubmitted {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if w.GetStats().SubscriptionCount != 0 {
			t.Error("expected no subscriptions after stop")
		}
	})

	t.Run("ProcessSubmitted", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		eval := &fakeEvaluator{delay: 20 * time.Millisecond}
		w := NewWorker(eventBus, eval, Config{Concurrency: 2})
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		for _, id := range []string{"TX1", "TX2", "TX3", "BAD"} {
			publish(t, eventBus, id)
		}

		waitFor(t, func() bool {
			s := w.GetStats()
			return s.Processed+s.Failed == 4
		})

		s := w.GetStats()
		if s.Processed != 3 || s.Failed != 1 {
			t.Errorf("expected 3 processed and 1 failed, got %+v", s)
		}

		eval.mu.Lock()
		defer eval.mu.Unlock()
		if eval.peak > 2 {
			t.Errorf("concurrency exceeded: peak %d", eval.peak)
		}
	})

	t.Run("BadPayload", func(t *testing.T) {
		w := NewWorker(bus.NewChannelBus(1), &fakeEvaluator{}, Config{})
		err := w.handleMessage(context.Background(), &domain.Message{ID: "m1", Payload: []byte("{")})
		if err == nil {
			t.Error("expected parse error")
		}
		err = w.handleMessage(context.Background(), &domain.Message{ID: "m2", Payload: []byte("{}")})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
