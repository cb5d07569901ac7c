// Package interpreter applies evaluation verdicts: it persists risk
// scores, raises deduplicated alerts and dispatches remediation actions.
//
// Application is best effort and fully reported. Every alert and action is
// attempted and its outcome recorded in the ApplyResult; one failure never
// stops the rest of the verdict.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
)

// Store is the persistence the interpreter writes through.
type Store interface {
	GetAlert(ctx context.Context, alertID string) (*domain.Alert, error)
	UpdateTransactionRiskScore(ctx context.Context, txID string, score float64) error
	UpdateTransactionStatus(ctx context.Context, txID string, status domain.TransactionStatus, reason string) error
	UpdateCustomerRisk(ctx context.Context, customerID string, rating domain.RiskRating, score float64) error
}

// AlertManager creates and escalates alerts.
type AlertManager interface {
	Create(ctx context.Context, a *domain.Alert) (*domain.Alert, error)
	Escalate(ctx context.Context, alertID, reason string) (*domain.Alert, error)
}

// Interpreter turns verdicts into durable side effects.
type Interpreter struct {
	store   Store
	alerts  AlertManager
	cache   domain.Cache
	bus     domain.EventBus
	metrics *metrics.Collector
}

// New creates an interpreter. cache, eventBus and m may be nil.
func New(store Store, alerts AlertManager, cache domain.Cache, eventBus domain.EventBus, m *metrics.Collector) *Interpreter {
	return &Interpreter{
		store:   store,
		alerts:  alerts,
		cache:   cache,
		bus:     eventBus,
		metrics: m,
	}
}

// ActionOutcome records what happened to one action.
type ActionOutcome struct {
	Index  int               `json:"index"`
	Type   domain.ActionType `json:"type"`
	Result string            `json:"result"`
	Error  string            `json:"error,omitempty"`
}

// Action results.
const (
	ActionExecuted = "executed"
	ActionSkipped  = "skipped"
	ActionFailed   = "failed"
)

// ApplyResult reports every outcome of applying a verdict.
type ApplyResult struct {
	TransactionID string `json:"transactionId"`

	// RiskScore is the persisted score; nil when the verdict was unscored.
	RiskScore          *float64 `json:"riskScore"`
	RiskScorePersisted bool     `json:"riskScorePersisted"`

	AlertsCreated   []string `json:"alertsCreated"`
	AlertsDuplicate []string `json:"alertsDuplicate"`

	ActionsExecuted int             `json:"actionsExecuted"`
	ActionsSkipped  int             `json:"actionsSkipped"`
	Actions         []ActionOutcome `json:"actions"`

	Errors []error `json:"-"`
}

// Unscored reports whether the verdict carried no risk score.
func (r *ApplyResult) Unscored() bool {
	return r.RiskScore == nil
}

// Err joins every per-item error, or returns nil.
func (r *ApplyResult) Err() error {
	return errors.Join(r.Errors...)
}

// ErrorMessages returns the per-item errors as strings.
func (r *ApplyResult) ErrorMessages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

func (r *ApplyResult) fail(err error) {
	r.Errors = append(r.Errors, err)
}

// Apply applies v to transaction transactionID. An empty transactionID
// falls back to the verdict's own transaction id.
func (in *Interpreter) Apply(ctx context.Context, v *domain.Verdict, transactionID string) *ApplyResult {
	if transactionID == "" && v != nil {
		transactionID = v.TransactionID
	}
	result := &ApplyResult{
		TransactionID:   transactionID,
		AlertsCreated:   []string{},
		AlertsDuplicate: []string{},
		Actions:         []ActionOutcome{},
	}
	if v == nil {
		result.fail(fmt.Errorf("%w: nil verdict", domain.ErrInvalidInput))
		return result
	}

	in.applyScore(ctx, v, result)

	for _, d := range v.Alerts {
		in.applyAlert(ctx, v, d, result)
	}

	for i, a := range v.Actions {
		in.applyAction(ctx, i, a, result)
	}

	if result.RiskScorePersisted {
		in.metrics.RiskScore(*result.RiskScore)
	}
	slog.Info("verdict applied",
		"transaction_id", transactionID,
		"risk_score", result.RiskScore,
		"alerts_created", len(result.AlertsCreated),
		"alerts_duplicate", len(result.AlertsDuplicate),
		"actions_executed", result.ActionsExecuted,
		"actions_skipped", result.ActionsSkipped,
		"errors", len(result.Errors),
	)
	return result
}

func (in *Interpreter) applyScore(ctx context.Context, v *domain.Verdict, result *ApplyResult) {
	if v.RiskScore == nil {
		slog.Info("verdict carries no risk score", "transaction_id", result.TransactionID)
		return
	}

	score := *v.RiskScore
	result.RiskScore = &score
	if err := in.store.UpdateTransactionRiskScore(ctx, result.TransactionID, score); err != nil {
		result.fail(fmt.Errorf("persist risk score: %w", err))
		return
	}
	result.RiskScorePersisted = true
}

func (in *Interpreter) applyAlert(ctx context.Context, v *domain.Verdict, d domain.AlertDescriptor, result *ApplyResult) {
	if d.AlertID == "" {
		result.fail(fmt.Errorf("%w: alert descriptor without alert_id", domain.ErrInvalidInput))
		return
	}

	_, err := in.store.GetAlert(ctx, d.AlertID)
	switch {
	case err == nil:
		in.duplicate(d.AlertID, result)
		return
	case !errors.Is(err, domain.ErrNotFound):
		result.fail(fmt.Errorf("lookup alert %s: %w", d.AlertID, err))
		return
	}

	_, err = in.alerts.Create(ctx, d.NewAlert(v, result.TransactionID))
	switch {
	case err == nil:
		result.AlertsCreated = append(result.AlertsCreated, d.AlertID)
	case errors.Is(err, domain.ErrDuplicateAlert):
		// Lost the race to a concurrent evaluation of the same transaction.
		in.duplicate(d.AlertID, result)
	default:
		result.fail(fmt.Errorf("create alert %s: %w", d.AlertID, err))
	}
}

func (in *Interpreter) duplicate(alertID string, result *ApplyResult) {
	slog.Debug("alert already exists", "alert_id", alertID)
	result.AlertsDuplicate = append(result.AlertsDuplicate, alertID)
}

func (in *Interpreter) applyAction(ctx context.Context, i int, a domain.Action, result *ApplyResult) {
	outcome := ActionOutcome{Index: i, Type: a.Type()}

	err := in.dispatch(ctx, a)
	switch {
	case err == nil:
		outcome.Result = ActionExecuted
		result.ActionsExecuted++
	case errors.Is(err, errSkipped):
		outcome.Result = ActionSkipped
		result.ActionsSkipped++
		slog.Warn("skipping unknown action", "transaction_id", result.TransactionID, "type", a.Type())
	default:
		outcome.Result = ActionFailed
		outcome.Error = err.Error()
		wrapped := fmt.Errorf("%w: action %d (%s): %w", domain.ErrActionApplication, i, a.Type(), err)
		result.fail(wrapped)
		slog.Error("action failed", "transaction_id", result.TransactionID, "type", a.Type(), "error", err)
	}

	in.metrics.Action(string(a.Type()), outcome.Result)
	result.Actions = append(result.Actions, outcome)
}

var errSkipped = errors.New("action skipped")

// dispatch executes one action. The switch covers every Action variant.
func (in *Interpreter) dispatch(ctx context.Context, a domain.Action) error {
	switch act := a.(type) {
	case domain.BlockTransaction:
		return in.setStatus(ctx, act.TransactionID, domain.TransactionBlocked, act.Reason, domain.TopicTransactionBlocked)

	case domain.FlagTransaction:
		return in.setStatus(ctx, act.TransactionID, domain.TransactionFlagged, act.Reason, domain.TopicTransactionFlagged)

	case domain.UpdateCustomerRisk:
		if err := in.store.UpdateCustomerRisk(ctx, act.CustomerID, act.RiskRating, act.RiskScore); err != nil {
			return err
		}
		if in.cache != nil {
			if err := in.cache.InvalidateCustomer(ctx, act.CustomerID); err != nil {
				slog.Warn("failed to invalidate cached customer", "customer_id", act.CustomerID, "error", err)
			}
		}
		return nil

	case domain.EscalateAlert:
		_, err := in.alerts.Escalate(ctx, act.AlertID, act.Reason)
		return err

	case domain.MalformedAction:
		return fmt.Errorf("malformed parameters: %s", act.Reason)

	case domain.UnknownAction:
		return errSkipped

	default:
		return fmt.Errorf("unhandled action %T", a)
	}
}

func (in *Interpreter) setStatus(ctx context.Context, txID string, status domain.TransactionStatus, reason, topic string) error {
	if err := in.store.UpdateTransactionStatus(ctx, txID, status, reason); err != nil {
		return err
	}
	if err := bus.PublishJSON(ctx, in.bus, topic, domain.TransactionStatusChanged{
		TransactionID: txID,
		Status:        status,
		Reason:        reason,
	}); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
	return nil
}
