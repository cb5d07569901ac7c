package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single node) or NATS (distributed).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `mapstructure:"type"`

	// Channel settings
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// Topic names for the compliance pipeline.
const (
	TopicTransactionSubmitted = "heron.transaction.submitted"
	TopicTransactionBlocked   = "heron.transaction.blocked"
	TopicTransactionFlagged   = "heron.transaction.flagged"
	TopicAlertCreated         = "heron.alert.created"
	TopicAlertEscalated       = "heron.alert.escalated"
	TopicEvaluationFailed     = "heron.evaluation.failed"
)

// TransactionSubmitted asks the worker to evaluate a stored transaction.
type TransactionSubmitted struct {
	TransactionID string `json:"transactionId"`
	TraceID       string `json:"traceId,omitempty"`
}

// TransactionStatusChanged is published when an action blocks or flags a transaction.
type TransactionStatusChanged struct {
	TransactionID string            `json:"transactionId"`
	Status        TransactionStatus `json:"status"`
	Reason        string            `json:"reason,omitempty"`
}

// AlertEvent is published on alert creation and escalation.
type AlertEvent struct {
	AlertID    string   `json:"alertId"`
	CustomerID string   `json:"customerId"`
	Severity   Severity `json:"severity"`
	AssignedTo string   `json:"assignedTo,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// EvaluationFailed marks a transaction for reprocessing.
type EvaluationFailed struct {
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
	Transient     bool   `json:"transient"`
}
