// Package rules provides the CEL-Go based rule evaluation engine used as
// the embedded evaluation service.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/heron/internal/domain"
)

// VelocityWindow is the look-back window of the velocity_count variable.
const VelocityWindow = time.Hour

// Engine is the CEL-based rule evaluation engine.
type Engine struct {
	mu             sync.RWMutex
	env            *cel.Env
	compiledRules  map[string]*CompiledRule
	velocityGetter VelocityGetter
	maxWorkers     int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// VelocityGetter returns the number of transactions a customer made within
// window.
type VelocityGetter func(ctx context.Context, customerID string, window time.Duration) (int64, error)

// RuleResult is the outcome of one rule against one transaction.
type RuleResult struct {
	RuleID    string
	Triggered bool
	Score     float64
	Err       error
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(velocityGetter VelocityGetter, maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("customer", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("location", cel.StringType),
		cel.Variable("counterparty_bank", cel.StringType),
		cel.Variable("customer_risk", cel.StringType),
		cel.Variable("kyc_status", cel.StringType),
		cel.Variable("is_pep", cel.BoolType),
		cel.Variable("sanctions_hit", cel.BoolType),
		cel.Variable("customer_age_days", cel.IntType),
		cel.Variable("velocity_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:            env,
		compiledRules:  make(map[string]*CompiledRule),
		velocityGetter: velocityGetter,
		maxWorkers:     maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: rule config is required", domain.ErrInvalidInput)
	}
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}
	e.compiledRules[cfg.ID] = compiled
	return nil
}

// ReloadRules replaces every loaded rule. Disabled rules are ignored. On
// error the previous rule set stays active.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	newRules := make(map[string]*CompiledRule)

	e.mu.RLock()
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if err := ValidateConfig(cfg); err != nil {
			e.mu.RUnlock()
			return err
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			e.mu.RUnlock()
			return err
		}
		newRules[cfg.ID] = compiled
	}
	e.mu.RUnlock()

	e.mu.Lock()
	e.compiledRules = newRules
	e.mu.Unlock()
	return nil
}

// EvaluateAll evaluates all loaded rules in parallel. Results are ordered
// by rule id. A rule that fails to evaluate is reported with Err set and
// does not trigger.
func (e *Engine) EvaluateAll(ctx context.Context, tx *domain.Transaction, cust *domain.Customer) []RuleResult {
	rules := e.snapshot()
	if len(rules) == 0 {
		return nil
	}

	var velocityCount int64
	if e.velocityGetter != nil {
		count, err := e.velocityGetter(ctx, cust.ID, VelocityWindow)
		if err != nil {
			slog.Warn("velocity lookup failed", "customer_id", cust.ID, "error", err)
		} else {
			velocityCount = count
		}
	}

	activation := buildActivation(tx, cust, velocityCount)

	// Parallel evaluation using worker pool pattern
	results := make([]RuleResult, len(rules))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()
	return results
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// GetLoadedRules returns the currently loaded rule configurations ordered by id.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	rules := e.snapshot()
	out := make([]*domain.RuleConfig, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Config)
	}
	return out
}

// Rule returns a loaded rule configuration.
func (e *Engine) Rule(id string) (*domain.RuleConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.compiledRules[id]
	if !ok {
		return nil, false
	}
	return r.Config, true
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) snapshot() []*CompiledRule {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	sort.Slice(rules, func(i, j int) bool { return rules[i].Config.ID < rules[j].Config.ID })
	return rules
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

func evaluateRule(rule *CompiledRule, activation map[string]any) RuleResult {
	result := RuleResult{RuleID: rule.Config.ID}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		result.Err = fmt.Errorf("rule %s: %w", rule.Config.ID, err)
		return result
	}

	if toScore(out) > 0 {
		result.Triggered = true
		result.Score = rule.Config.Score
	}
	return result
}

func buildActivation(tx *domain.Transaction, cust *domain.Customer, velocityCount int64) map[string]any {
	amount := tx.Amount.InexactFloat64()

	ageDays := int64(0)
	if !cust.OnboardedAt.IsZero() && tx.Timestamp.After(cust.OnboardedAt) {
		ageDays = int64(tx.Timestamp.Sub(cust.OnboardedAt).Hours() / 24)
	}

	txMeta := tx.Metadata
	if txMeta == nil {
		txMeta = map[string]any{}
	}
	custMeta := cust.Metadata
	if custMeta == nil {
		custMeta = map[string]any{}
	}

	return map[string]any{
		"tx": map[string]any{
			"id":          tx.ID,
			"customer_id": tx.CustomerID,
			"type":        tx.Type,
			"channel":     tx.Channel,
			"amount":      amount,
			"currency":    tx.Currency,
			"status":      string(tx.Status),
			"metadata":    txMeta,
		},
		"customer": map[string]any{
			"id":            cust.ID,
			"risk_rating":   string(cust.RiskRating),
			"kyc_status":    string(cust.KYCStatus),
			"is_pep":        cust.IsPEP,
			"sanctions_hit": cust.SanctionsHit,
			"metadata":      custMeta,
		},
		"amount":            amount,
		"currency":          tx.Currency,
		"tx_type":           tx.Type,
		"channel":           tx.Channel,
		"location":          tx.Location,
		"counterparty_bank": tx.Counterparty.Bank,
		"customer_risk":     string(cust.RiskRating),
		"kyc_status":        string(cust.KYCStatus),
		"is_pep":            cust.IsPEP,
		"sanctions_hit":     cust.SanctionsHit,
		"customer_age_days": ageDays,
		"velocity_count":    velocityCount,
	}
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}
