package domain

// ActionType names a remediation command carried by a verdict.
type ActionType string

const (
	ActionBlockTransaction   ActionType = "block_transaction"
	ActionFlagTransaction    ActionType = "flag_transaction"
	ActionUpdateCustomerRisk ActionType = "update_customer_risk"
	ActionEscalateAlert      ActionType = "escalate_alert"
)

// Action is a sealed sum type of the remediation commands the interpreter
// knows how to dispatch. Every variant is declared in this file.
type Action interface {
	Type() ActionType
	isAction()
}

// BlockTransaction sets a transaction's status to blocked.
type BlockTransaction struct {
	TransactionID string
	Reason        string
}

// FlagTransaction sets a transaction's status to flagged.
type FlagTransaction struct {
	TransactionID string
	Reason        string
}

// UpdateCustomerRisk re-scores a customer.
type UpdateCustomerRisk struct {
	CustomerID string
	RiskRating RiskRating
	RiskScore  float64
}

// EscalateAlert raises an alert's severity one step.
type EscalateAlert struct {
	AlertID string
	Reason  string
}

// UnknownAction is an action type the interpreter does not recognize.
// It is logged and skipped.
type UnknownAction struct {
	Name   string
	Params map[string]any
}

// MalformedAction is a known action type whose parameters failed validation.
// It is reported as an error and never partially applied.
type MalformedAction struct {
	Name   ActionType
	Params map[string]any
	Reason string
}

func (BlockTransaction) Type() ActionType   { return ActionBlockTransaction }
func (FlagTransaction) Type() ActionType    { return ActionFlagTransaction }
func (UpdateCustomerRisk) Type() ActionType { return ActionUpdateCustomerRisk }
func (EscalateAlert) Type() ActionType      { return ActionEscalateAlert }
func (a UnknownAction) Type() ActionType    { return ActionType(a.Name) }
func (a MalformedAction) Type() ActionType  { return a.Name }

func (BlockTransaction) isAction()   {}
func (FlagTransaction) isAction()    {}
func (UpdateCustomerRisk) isAction() {}
func (EscalateAlert) isAction()      {}
func (UnknownAction) isAction()      {}
func (MalformedAction) isAction()    {}
