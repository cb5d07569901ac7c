package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a financial transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFlagged   TransactionStatus = "flagged"
	TransactionBlocked   TransactionStatus = "blocked"
)

// Valid reports whether s is one of the known transaction statuses.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TransactionPending, TransactionCompleted, TransactionFlagged, TransactionBlocked:
		return true
	}
	return false
}

// Transaction is the canonical representation of a financial transaction.
// Records are append-only: only Status, StatusReason and RiskScore change
// after creation, and only as a result of applying an evaluation verdict.
type Transaction struct {
	// ID is the business key (transaction_id) shared across stores.
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`

	// Financial details
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// Transaction type (e.g., "transfer", "credit_transfer", "payment_status")
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`

	Counterparty Counterparty `json:"counterparty"`

	Location  string `json:"location,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	Status       TransactionStatus `json:"status"`
	StatusReason string            `json:"statusReason,omitempty"`

	// RiskScore is nil until the transaction has been evaluated.
	RiskScore *float64 `json:"riskScore"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Counterparty describes the other side of a transaction.
type Counterparty struct {
	Name    string `json:"name,omitempty"`
	Account string `json:"account,omitempty"`
	Bank    string `json:"bank,omitempty"`
}

// Scored reports whether the transaction carries a risk score.
func (t *Transaction) Scored() bool {
	return t.RiskScore != nil
}
