package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/heron/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		var mu sync.Mutex
		var receivedMsg *domain.Message

		_, err := bus.Subscribe(ctx, "test.topic", func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			receivedMsg = msg
			mu.Unlock()
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, "test.topic", []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitFor(t, &wg)

		mu.Lock()
		defer mu.Unlock()
		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Topic != "test.topic" || receivedMsg.ID == "" {
			t.Errorf("unexpected envelope %+v", receivedMsg)
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var other atomic.Int32
		_, err := bus.Subscribe(ctx, "topic.b", func(ctx context.Context, msg *domain.Message) error {
			other.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(1)
		_, err = bus.Subscribe(ctx, "topic.a", func(ctx context.Context, msg *domain.Message) error {
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		_ = bus.Publish(ctx, "topic.a", []byte("x"))
		waitFor(t, &wg)
		time.Sleep(20 * time.Millisecond)

		if other.Load() != 0 {
			t.Errorf("topic.b received %d messages for topic.a", other.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32
		sub, err := bus.Subscribe(ctx, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		if sub.Topic() != "unsub.topic" {
			t.Errorf("expected topic unsub.topic, got %s", sub.Topic())
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		_ = bus.Publish(ctx, "unsub.topic", []byte("late"))
		time.Sleep(20 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no messages after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("PublishJSON", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)

		var got domain.AlertEvent
		_, err := bus.Subscribe(ctx, domain.TopicAlertCreated, func(ctx context.Context, msg *domain.Message) error {
			defer wg.Done()
			return json.Unmarshal(msg.Payload, &got)
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		event := domain.AlertEvent{AlertID: "ALT-A1", Severity: domain.SeverityCritical}
		if err := PublishJSON(ctx, bus, domain.TopicAlertCreated, event); err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}
		waitFor(t, &wg)

		if got.AlertID != "ALT-A1" || got.Severity != domain.SeverityCritical {
			t.Errorf("unexpected event %+v", got)
		}
	})

	t.Run("RequiresTopic", func(t *testing.T) {
		if err := bus.Publish(ctx, "", []byte("x")); err == nil {
			t.Error("expected error for empty topic")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	_, _ = bus.Subscribe(ctx, "t", func(ctx context.Context, msg *domain.Message) error { return nil })

	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}
	if err := bus.Publish(ctx, "t", []byte("x")); err == nil {
		t.Error("expected publish on closed bus to fail")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping on closed bus to fail")
	}
}

func TestPublishJSONNilBus(t *testing.T) {
	if err := PublishJSON(context.Background(), nil, "t", struct{}{}); err != nil {
		t.Errorf("expected nil bus to be a no-op, got %v", err)
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Errorf("expected *ChannelBus, got %T", b)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const messages = 500

	var wg sync.WaitGroup
	wg.Add(messages)

	var count atomic.Int32
	_, err := bus.Subscribe(ctx, "load", func(ctx context.Context, msg *domain.Message) error {
		count.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	for i := 0; i < messages; i++ {
		if err := bus.Publish(ctx, "load", []byte("m")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	waitFor(t, &wg)
	if count.Load() != messages {
		t.Errorf("expected %d messages, got %d", messages, count.Load())
	}
}

func TestChannelBusOverflow(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	defer close(release)

	_, err := bus.Subscribe(ctx, domain.TopicTransactionSubmitted, func(ctx context.Context, msg *domain.Message) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// One message is held by the blocked handler and one fills the buffer,
	// so a third publish at the latest cannot be delivered.
	var overflow error
	for i := 0; i < 3 && overflow == nil; i++ {
		overflow = bus.Publish(ctx, domain.TopicTransactionSubmitted, []byte(`{"transactionId":"TXN100"}`))
	}

	if !errors.Is(overflow, domain.ErrBusFull) {
		t.Fatalf("expected ErrBusFull, got %v", overflow)
	}
	if !domain.IsTransient(overflow) {
		t.Error("a full subscriber buffer should be retryable")
	}

	if err := bus.Publish(ctx, "no.subscribers", []byte("x")); err != nil {
		t.Errorf("publishing without subscribers should succeed, got %v", err)
	}
}

func TestNATSMessageHeaders(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		in := &domain.Message{
			ID:        "msg-1",
			Topic:     domain.TopicAlertCreated,
			Payload:   []byte(`{"alertId":"ALT-1"}`),
			Metadata:  map[string]string{"trace_id": "trace-1"},
			Timestamp: 1700000000000000000,
		}

		m := toNATSMsg(in)
		if m.Subject != domain.TopicAlertCreated {
			t.Errorf("expected subject %s, got %s", domain.TopicAlertCreated, m.Subject)
		}
		if string(m.Data) != `{"alertId":"ALT-1"}` {
			t.Errorf("payload should be sent raw, got %s", m.Data)
		}

		out := fromNATSMsg(m)
		if out.ID != "msg-1" || out.Timestamp != in.Timestamp {
			t.Errorf("envelope not preserved: %+v", out)
		}
		if out.Metadata["trace_id"] != "trace-1" {
			t.Errorf("expected trace_id metadata, got %v", out.Metadata)
		}
	})

	t.Run("ForeignMessage", func(t *testing.T) {
		out := fromNATSMsg(&nats.Msg{Subject: "external", Data: []byte("x")})
		if out.ID == "" || out.Timestamp == 0 {
			t.Errorf("expected generated id and timestamp, got %+v", out)
		}
		if out.Topic != "external" || string(out.Payload) != "x" {
			t.Errorf("unexpected message: %+v", out)
		}
	})
}
