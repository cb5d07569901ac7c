package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/gateway"
	"github.com/opensource-finance/heron/internal/normalize"
)

// EmbeddedVersion is reported by Health.
const EmbeddedVersion = "embedded"

// Evaluator runs the engine in process and answers with the same verdict
// shape as the remote evaluation service.
type Evaluator struct {
	engine *Engine
	now    func() time.Time
}

var _ gateway.Evaluator = (*Evaluator)(nil)

// NewEvaluator wraps engine as a gateway.Evaluator.
func NewEvaluator(engine *Engine) *Evaluator {
	return &Evaluator{engine: engine, now: time.Now}
}

// Evaluate evaluates one transaction.
func (ev *Evaluator) Evaluate(ctx context.Context, tx *domain.Transaction, cust *domain.Customer) (*domain.Verdict, error) {
	if tx == nil || cust == nil {
		return nil, fmt.Errorf("%w: transaction and customer are required", domain.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransientGateway, err)
	}
	return normalize.Verdict(ev.Response(ctx, tx, cust)), nil
}

// EvaluateBatch evaluates every transaction whose customer is supplied.
func (ev *Evaluator) EvaluateBatch(ctx context.Context, txs []*domain.Transaction, customers map[string]*domain.Customer) (*gateway.BatchResult, error) {
	result := gateway.NewBatchResult()

	ready, skipped := gateway.SplitBatch(txs, customers)
	result.Skipped = skipped

	for _, tx := range ready {
		v, err := ev.Evaluate(ctx, tx, customers[tx.CustomerID])
		if err != nil {
			if domain.IsTransient(err) {
				return nil, err
			}
			result.Failed[tx.ID] = err
			continue
		}
		result.Verdicts[tx.ID] = v
	}
	return result, nil
}

// Health reports ok while rules are loaded.
func (ev *Evaluator) Health(ctx context.Context) (*gateway.Health, error) {
	status := "ok"
	if ev.engine.RulesCount() == 0 {
		status = "no_rules"
	}
	return &gateway.Health{Status: status, Version: EmbeddedVersion}, nil
}

// Response evaluates the rules and builds the wire verdict. The risk score
// is the sum of triggered rule scores capped at 100.
func (ev *Evaluator) Response(ctx context.Context, tx *domain.Transaction, cust *domain.Customer) normalize.VerdictResponse {
	results := ev.engine.EvaluateAll(ctx, tx, cust)

	triggered := make([]*domain.RuleConfig, 0, len(results))
	score := 0.0
	for _, r := range results {
		if r.Err != nil {
			slog.Warn("rule evaluation failed", "rule_id", r.RuleID, "transaction_id", tx.ID, "error", r.Err)
			continue
		}
		if !r.Triggered {
			continue
		}
		cfg, ok := ev.engine.Rule(r.RuleID)
		if !ok {
			continue
		}
		triggered = append(triggered, cfg)
		score += r.Score
	}
	score = math.Min(score, 100)

	resp := normalize.VerdictResponse{
		TransactionID:  tx.ID,
		CustomerID:     cust.ID,
		TriggeredRules: make([]string, 0, len(triggered)),
		RiskScore:      &score,
		Timestamp:      ev.now().UTC(),
	}

	for _, rule := range triggered {
		resp.TriggeredRules = append(resp.TriggeredRules, rule.ID)

		alertID := ""
		if rule.Alert != nil {
			alertID = AlertID(tx.ID, rule.ID)
			ruleScore := rule.Score
			resp.Alerts = append(resp.Alerts, normalize.AlertDescriptorDTO{
				AlertID:        alertID,
				Type:           rule.Alert.Type,
				Severity:       string(rule.Alert.Severity),
				Description:    rule.Alert.Description,
				RiskScore:      &ruleScore,
				TriggeredRules: []string{rule.ID},
				Metadata:       map[string]any{"rule_name": rule.Name},
			})
		}

		for _, a := range rule.Actions {
			act := ruleAction(a, rule, tx, cust, alertID, score)
			if act == nil {
				continue
			}
			resp.Actions = append(resp.Actions, normalize.ActionDTOFor(act))
		}
	}

	return resp
}

// AlertID is the deterministic alert business key for a rule hit, so
// re-evaluating a transaction never raises the same alert twice.
func AlertID(transactionID, ruleID string) string {
	return fmt.Sprintf("ALT-%s-%s", transactionID, ruleID)
}

func ruleAction(a domain.RuleAction, rule *domain.RuleConfig, tx *domain.Transaction, cust *domain.Customer, alertID string, score float64) domain.Action {
	reason := a.Reason
	if reason == "" {
		reason = rule.Name
	}

	switch a.Type {
	case domain.ActionBlockTransaction:
		return domain.BlockTransaction{TransactionID: tx.ID, Reason: reason}
	case domain.ActionFlagTransaction:
		return domain.FlagTransaction{TransactionID: tx.ID, Reason: reason}
	case domain.ActionUpdateCustomerRisk:
		return domain.UpdateCustomerRisk{CustomerID: cust.ID, RiskRating: a.RiskRating, RiskScore: score}
	case domain.ActionEscalateAlert:
		if alertID == "" {
			return nil
		}
		return domain.EscalateAlert{AlertID: alertID, Reason: reason}
	}
	return nil
}
