package normalize

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// EvaluationTransaction is the transaction as the evaluation service sees it.
type EvaluationTransaction struct {
	TransactionID string         `json:"transaction_id"`
	CustomerID    string         `json:"customer_id"`
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	Type          string         `json:"transaction_type"`
	Channel       string         `json:"channel,omitempty"`
	Counterparty  *Counterparty  `json:"counterparty,omitempty"`
	Location      string         `json:"location,omitempty"`
	DeviceID      string         `json:"device_id,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        string         `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Counterparty is the wire counterparty descriptor.
type Counterparty struct {
	Name    string `json:"name,omitempty"`
	Account string `json:"account,omitempty"`
	Bank    string `json:"bank,omitempty"`
}

// EvaluationCustomer is the customer as the evaluation service sees it.
type EvaluationCustomer struct {
	CustomerID   string         `json:"customer_id"`
	Name         string         `json:"name"`
	RiskRating   string         `json:"risk_rating"`
	RiskScore    *float64       `json:"risk_score,omitempty"`
	KYCStatus    string         `json:"kyc_status"`
	IsPEP        bool           `json:"is_pep"`
	SanctionsHit bool           `json:"sanctions_hit"`
	OnboardedAt  time.Time      `json:"onboarded_at"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EvaluationRequest is the single-transaction request body.
type EvaluationRequest struct {
	Transaction EvaluationTransaction `json:"transaction"`
	Customer    EvaluationCustomer    `json:"customer"`
}

// BatchRequest carries several transactions and their customers keyed by id.
type BatchRequest struct {
	Transactions []EvaluationTransaction      `json:"transactions"`
	Customers    map[string]EvaluationCustomer `json:"customers"`
}

// VerdictResponse is the evaluation service's verdict for one transaction.
type VerdictResponse struct {
	TransactionID  string               `json:"transaction_id" validate:"required"`
	CustomerID     string               `json:"customer_id" validate:"required"`
	TriggeredRules []string             `json:"triggered_rules" validate:"required"`
	RiskScore      *float64             `json:"risk_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	Alerts         []AlertDescriptorDTO `json:"alerts,omitempty" validate:"omitempty,dive"`
	Actions        []ActionDTO          `json:"actions,omitempty" validate:"omitempty,dive"`
	Timestamp      time.Time            `json:"timestamp" validate:"required"`
}

// AlertDescriptorDTO is a wire alert descriptor.
type AlertDescriptorDTO struct {
	AlertID        string         `json:"alert_id" validate:"required"`
	Type           string         `json:"alert_type" validate:"required"`
	Severity       string         `json:"severity" validate:"required,oneof=low medium high critical"`
	Description    string         `json:"description"`
	RiskScore      *float64       `json:"risk_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	TriggeredRules []string       `json:"triggered_rules,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ActionDTO is a wire action: a command name plus untyped parameters.
type ActionDTO struct {
	Type   string         `json:"type" validate:"required"`
	Params map[string]any `json:"params,omitempty"`
}

// BatchResponse maps transaction ids to verdicts.
type BatchResponse struct {
	Results map[string]VerdictResponse `json:"results"`
}

// HealthResponse is the evaluation service health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ToEvaluationTransaction converts a canonical transaction to its wire form.
func ToEvaluationTransaction(tx *domain.Transaction) EvaluationTransaction {
	out := EvaluationTransaction{
		TransactionID: tx.ID,
		CustomerID:    tx.CustomerID,
		Amount:        tx.Amount.InexactFloat64(),
		Currency:      tx.Currency,
		Type:          tx.Type,
		Channel:       tx.Channel,
		Location:      tx.Location,
		DeviceID:      tx.DeviceID,
		IPAddress:     tx.IPAddress,
		Timestamp:     tx.Timestamp.UTC(),
		Status:        string(tx.Status),
		Metadata:      tx.Metadata,
	}
	if tx.Counterparty != (domain.Counterparty{}) {
		out.Counterparty = &Counterparty{
			Name:    tx.Counterparty.Name,
			Account: tx.Counterparty.Account,
			Bank:    tx.Counterparty.Bank,
		}
	}
	return out
}

// ToEvaluationCustomer converts a canonical customer to its wire form.
func ToEvaluationCustomer(c *domain.Customer) EvaluationCustomer {
	return EvaluationCustomer{
		CustomerID:   c.ID,
		Name:         c.Name,
		RiskRating:   string(c.RiskRating),
		RiskScore:    c.RiskScore,
		KYCStatus:    string(c.KYCStatus),
		IsPEP:        c.IsPEP,
		SanctionsHit: c.SanctionsHit,
		OnboardedAt:  c.OnboardedAt.UTC(),
		Metadata:     c.Metadata,
	}
}

// ToEvaluationRequest builds the single-transaction request.
func ToEvaluationRequest(tx *domain.Transaction, c *domain.Customer) EvaluationRequest {
	return EvaluationRequest{
		Transaction: ToEvaluationTransaction(tx),
		Customer:    ToEvaluationCustomer(c),
	}
}

// ToBatchRequest builds a batch request. Only customers referenced by txs
// are included.
func ToBatchRequest(txs []*domain.Transaction, customers map[string]*domain.Customer) BatchRequest {
	req := BatchRequest{
		Transactions: make([]EvaluationTransaction, 0, len(txs)),
		Customers:    make(map[string]EvaluationCustomer, len(customers)),
	}
	for _, tx := range txs {
		req.Transactions = append(req.Transactions, ToEvaluationTransaction(tx))
		if c, ok := customers[tx.CustomerID]; ok && c != nil {
			req.Customers[c.ID] = ToEvaluationCustomer(c)
		}
	}
	return req
}

// Verdict converts a validated wire verdict into the domain verdict.
// Actions are parsed into their typed variants; parameter problems yield
// MalformedAction so the interpreter can report them per item.
func Verdict(resp VerdictResponse) *domain.Verdict {
	v := &domain.Verdict{
		TransactionID:  resp.TransactionID,
		CustomerID:     resp.CustomerID,
		TriggeredRules: resp.TriggeredRules,
		EvaluatedAt:    resp.Timestamp.UTC(),
	}
	if v.TriggeredRules == nil {
		v.TriggeredRules = []string{}
	}
	if resp.RiskScore != nil {
		score := *resp.RiskScore
		v.RiskScore = &score
	}

	for _, a := range resp.Alerts {
		v.Alerts = append(v.Alerts, domain.AlertDescriptor{
			AlertID:        a.AlertID,
			Type:           a.Type,
			Severity:       domain.Severity(a.Severity),
			Description:    a.Description,
			RiskScore:      a.RiskScore,
			TriggeredRules: a.TriggeredRules,
			Metadata:       a.Metadata,
		})
	}

	for _, a := range resp.Actions {
		v.Actions = append(v.Actions, ParseAction(a, resp.TransactionID))
	}

	return v
}

// ParseAction maps a wire action onto the sealed action type. Transaction
// actions without an explicit transaction_id target transactionID.
func ParseAction(a ActionDTO, transactionID string) domain.Action {
	name := domain.ActionType(a.Type)

	switch name {
	case domain.ActionBlockTransaction, domain.ActionFlagTransaction:
		target := transactionID
		if id, ok := a.Params["transaction_id"]; ok {
			s, ok := id.(string)
			if !ok || s == "" {
				return malformed(name, a.Params, "transaction_id must be a non-empty string")
			}
			target = s
		}
		if target == "" {
			return malformed(name, a.Params, "no target transaction")
		}
		reason, _ := a.Params["reason"].(string)
		if name == domain.ActionBlockTransaction {
			return domain.BlockTransaction{TransactionID: target, Reason: reason}
		}
		return domain.FlagTransaction{TransactionID: target, Reason: reason}

	case domain.ActionUpdateCustomerRisk:
		customerID, _ := a.Params["customer_id"].(string)
		if customerID == "" {
			return malformed(name, a.Params, "customer_id is required")
		}
		rating, _ := a.Params["risk_rating"].(string)
		if !domain.RiskRating(rating).Valid() {
			return malformed(name, a.Params, fmt.Sprintf("risk_rating %q is not a known rating", rating))
		}
		score, ok := number(a.Params["risk_score"])
		if !ok {
			return malformed(name, a.Params, "risk_score is required")
		}
		if score < 0 || score > 100 {
			return malformed(name, a.Params, fmt.Sprintf("risk_score %v out of range", score))
		}
		return domain.UpdateCustomerRisk{
			CustomerID: customerID,
			RiskRating: domain.RiskRating(rating),
			RiskScore:  score,
		}

	case domain.ActionEscalateAlert:
		alertID, _ := a.Params["alert_id"].(string)
		if alertID == "" {
			return malformed(name, a.Params, "alert_id is required")
		}
		reason, _ := a.Params["reason"].(string)
		return domain.EscalateAlert{AlertID: alertID, Reason: reason}

	default:
		return domain.UnknownAction{Name: a.Type, Params: a.Params}
	}
}

// ActionDTOFor is the inverse of ParseAction, used by the embedded evaluator
// to emit wire-compatible verdicts.
func ActionDTOFor(a domain.Action) ActionDTO {
	switch act := a.(type) {
	case domain.BlockTransaction:
		return ActionDTO{Type: string(act.Type()), Params: map[string]any{"transaction_id": act.TransactionID, "reason": act.Reason}}
	case domain.FlagTransaction:
		return ActionDTO{Type: string(act.Type()), Params: map[string]any{"transaction_id": act.TransactionID, "reason": act.Reason}}
	case domain.UpdateCustomerRisk:
		return ActionDTO{Type: string(act.Type()), Params: map[string]any{
			"customer_id": act.CustomerID,
			"risk_rating": string(act.RiskRating),
			"risk_score":  act.RiskScore,
		}}
	case domain.EscalateAlert:
		return ActionDTO{Type: string(act.Type()), Params: map[string]any{"alert_id": act.AlertID, "reason": act.Reason}}
	case domain.UnknownAction:
		return ActionDTO{Type: act.Name, Params: act.Params}
	case domain.MalformedAction:
		return ActionDTO{Type: string(act.Name), Params: act.Params}
	default:
		return ActionDTO{Type: string(a.Type())}
	}
}

// BatchIDs returns the sorted transaction ids present in a batch response.
func BatchIDs(resp BatchResponse) []string {
	ids := make([]string, 0, len(resp.Results))
	for id := range resp.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func malformed(name domain.ActionType, params map[string]any, reason string) domain.Action {
	return domain.MalformedAction{Name: name, Params: params, Reason: reason}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
