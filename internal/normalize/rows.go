// Package normalize converts source-specific records into the canonical
// domain model and canonical records into the evaluation service schema.
// Every function here is pure.
package normalize

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

// TransactionRow is a transactions table row as scanned from the
// relational store. Legacy rows may lack a timestamp and only carry
// processed_at.
type TransactionRow struct {
	ID                  string
	CustomerID          string
	Amount              string
	Currency            string
	Type                string
	Channel             string
	CounterpartyName    string
	CounterpartyAccount string
	CounterpartyBank    string
	Location            string
	DeviceID            string
	IPAddress           string
	Timestamp           sql.NullTime
	ProcessedAt         sql.NullTime
	Status              string
	StatusReason        string
	RiskScore           sql.NullFloat64
	Metadata            sql.NullString
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// CustomerRow is a customers table row.
type CustomerRow struct {
	ID           string
	Name         string
	Email        string
	Phone        string
	OnboardedAt  sql.NullTime
	RiskRating   string
	RiskScore    sql.NullFloat64
	KYCStatus    string
	IsPEP        int
	SanctionsHit int
	Metadata     sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transaction maps a relational row to a canonical transaction.
func Transaction(row TransactionRow) (*domain.Transaction, error) {
	if row.ID == "" {
		return nil, fmt.Errorf("%w: transaction row without id", domain.ErrMalformedSourceRecord)
	}
	if row.CustomerID == "" {
		return nil, fmt.Errorf("%w: transaction %s has no customer", domain.ErrMalformedSourceRecord, row.ID)
	}

	amount, err := decimal.NewFromString(row.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction %s amount %q: %v", domain.ErrMalformedSourceRecord, row.ID, row.Amount, err)
	}

	var ts time.Time
	switch {
	case row.Timestamp.Valid:
		ts = row.Timestamp.Time
	case row.ProcessedAt.Valid:
		ts = row.ProcessedAt.Time
	default:
		return nil, fmt.Errorf("%w: transaction %s has neither timestamp nor processed_at", domain.ErrMalformedSourceRecord, row.ID)
	}

	status := domain.TransactionStatus(strings.ToLower(row.Status))
	if !status.Valid() {
		return nil, fmt.Errorf("%w: transaction %s status %q", domain.ErrMalformedSourceRecord, row.ID, row.Status)
	}

	tx := &domain.Transaction{
		ID:         row.ID,
		CustomerID: row.CustomerID,
		Amount:     amount,
		Currency:   strings.ToUpper(row.Currency),
		Type:       row.Type,
		Channel:    row.Channel,
		Counterparty: domain.Counterparty{
			Name:    row.CounterpartyName,
			Account: row.CounterpartyAccount,
			Bank:    row.CounterpartyBank,
		},
		Location:     row.Location,
		DeviceID:     row.DeviceID,
		IPAddress:    row.IPAddress,
		Timestamp:    ts.UTC(),
		Status:       status,
		StatusReason: row.StatusReason,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}

	if row.RiskScore.Valid {
		score := row.RiskScore.Float64
		tx.RiskScore = &score
	}

	if tx.Metadata, err = decodeMetadata(row.Metadata); err != nil {
		return nil, fmt.Errorf("%w: transaction %s metadata: %v", domain.ErrMalformedSourceRecord, row.ID, err)
	}

	return tx, nil
}

// Customer maps a relational row to a canonical customer.
// An empty KYC status is read as pending; an unknown risk rating is malformed.
func Customer(row CustomerRow) (*domain.Customer, error) {
	if row.ID == "" {
		return nil, fmt.Errorf("%w: customer row without id", domain.ErrMalformedSourceRecord)
	}

	rating := domain.RiskRating(strings.ToLower(row.RiskRating))
	if !rating.Valid() {
		return nil, fmt.Errorf("%w: customer %s risk rating %q", domain.ErrMalformedSourceRecord, row.ID, row.RiskRating)
	}

	kyc := domain.KYCStatus(strings.ToLower(row.KYCStatus))
	if kyc == "" {
		kyc = domain.KYCPending
	}
	if !kyc.Valid() {
		return nil, fmt.Errorf("%w: customer %s kyc status %q", domain.ErrMalformedSourceRecord, row.ID, row.KYCStatus)
	}

	c := &domain.Customer{
		ID:           row.ID,
		Name:         row.Name,
		Email:        row.Email,
		Phone:        row.Phone,
		RiskRating:   rating,
		KYCStatus:    kyc,
		IsPEP:        row.IsPEP != 0,
		SanctionsHit: row.SanctionsHit != 0,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}

	if row.OnboardedAt.Valid {
		c.OnboardedAt = row.OnboardedAt.Time.UTC()
	} else {
		c.OnboardedAt = row.CreatedAt
	}

	if row.RiskScore.Valid {
		score := row.RiskScore.Float64
		c.RiskScore = &score
	}

	var err error
	if c.Metadata, err = decodeMetadata(row.Metadata); err != nil {
		return nil, fmt.Errorf("%w: customer %s metadata: %v", domain.ErrMalformedSourceRecord, row.ID, err)
	}

	return c, nil
}

func decodeMetadata(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
