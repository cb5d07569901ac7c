package domain

// RuleConfig defines a compliance rule for the embedded evaluator.
type RuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// CEL expression to evaluate; must return bool, int or double.
	// Numeric results above zero count as triggered.
	Expression string `json:"expression" yaml:"expression"`

	// Score is the risk score (0-100) the rule contributes when triggered.
	Score float64 `json:"score" yaml:"score"`

	// Alert raised when the rule triggers, if any.
	Alert *RuleAlert `json:"alert,omitempty" yaml:"alert,omitempty"`

	// Actions dispatched when the rule triggers.
	Actions []RuleAction `json:"actions,omitempty" yaml:"actions,omitempty"`

	// Whether rule is active
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// RuleAlert is the alert template of a rule.
type RuleAlert struct {
	Type        string   `json:"type" yaml:"type"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Description string   `json:"description" yaml:"description"`
}

// RuleAction is an action template of a rule.
type RuleAction struct {
	Type       ActionType `json:"type" yaml:"type"`
	Reason     string     `json:"reason,omitempty" yaml:"reason,omitempty"`
	RiskRating RiskRating `json:"riskRating,omitempty" yaml:"risk_rating,omitempty"`
}
