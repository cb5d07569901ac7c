package domain

import "time"

// Verdict is the result of evaluating one transaction against the
// compliance rules. It is consumed once by the interpreter and discarded.
type Verdict struct {
	TransactionID  string   `json:"transactionId"`
	CustomerID     string   `json:"customerId"`
	TriggeredRules []string `json:"triggeredRules"`

	// RiskScore is nil when the evaluator did not provide one.
	RiskScore *float64 `json:"riskScore,omitempty"`

	Alerts  []AlertDescriptor `json:"alerts,omitempty"`
	Actions []Action          `json:"-"`

	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// AlertDescriptor describes an alert the evaluator wants raised.
type AlertDescriptor struct {
	AlertID        string         `json:"alertId"`
	Type           string         `json:"type"`
	Severity       Severity       `json:"severity"`
	Description    string         `json:"description"`
	RiskScore      *float64       `json:"riskScore,omitempty"`
	TriggeredRules []string       `json:"triggeredRules,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// NewAlert builds an open alert from a descriptor.
func (d AlertDescriptor) NewAlert(v *Verdict, transactionID string) *Alert {
	score := 0.0
	switch {
	case d.RiskScore != nil:
		score = *d.RiskScore
	case v.RiskScore != nil:
		score = *v.RiskScore
	}

	rules := d.TriggeredRules
	if len(rules) == 0 {
		rules = v.TriggeredRules
	}

	return &Alert{
		AlertID:        d.AlertID,
		CustomerID:     v.CustomerID,
		TransactionID:  transactionID,
		Type:           d.Type,
		Severity:       d.Severity,
		Status:         AlertOpen,
		Description:    d.Description,
		RiskScore:      score,
		TriggeredRules: rules,
		Metadata: AlertMetadata{
			Source: "evaluation",
			Extra:  d.Metadata,
		},
	}
}
