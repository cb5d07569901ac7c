package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/heron/internal/domain"
)

// ruleFile is the YAML layout of a rule set.
type ruleFile struct {
	Rules []*domain.RuleConfig `yaml:"rules"`
}

// LoadFile reads and validates a YAML rule set.
func LoadFile(path string) ([]*domain.RuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule set. Rule ids must be unique.
func ParseRules(data []byte) ([]*domain.RuleConfig, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: rules file: %v", domain.ErrInvalidInput, err)
	}

	seen := make(map[string]bool, len(f.Rules))
	for _, r := range f.Rules {
		if err := ValidateConfig(r); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: duplicate rule id %s", domain.ErrInvalidInput, r.ID)
		}
		seen[r.ID] = true
	}
	return f.Rules, nil
}

// ValidateConfig checks a rule's static fields. The expression is checked
// by the engine when it compiles the rule.
func ValidateConfig(r *domain.RuleConfig) error {
	if r == nil {
		return fmt.Errorf("%w: rule config is required", domain.ErrInvalidInput)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}
	if r.Expression == "" {
		return fmt.Errorf("%w: rule %s has no expression", domain.ErrInvalidInput, r.ID)
	}
	if r.Score < 0 || r.Score > 100 {
		return fmt.Errorf("%w: rule %s score %v out of range", domain.ErrInvalidInput, r.ID, r.Score)
	}

	if r.Alert != nil {
		if r.Alert.Type == "" {
			return fmt.Errorf("%w: rule %s alert has no type", domain.ErrInvalidInput, r.ID)
		}
		if !r.Alert.Severity.Valid() {
			return fmt.Errorf("%w: rule %s alert severity %q", domain.ErrInvalidInput, r.ID, r.Alert.Severity)
		}
	}

	for _, a := range r.Actions {
		switch a.Type {
		case domain.ActionBlockTransaction, domain.ActionFlagTransaction:
		case domain.ActionUpdateCustomerRisk:
			if !a.RiskRating.Valid() {
				return fmt.Errorf("%w: rule %s update_customer_risk needs a risk_rating", domain.ErrInvalidInput, r.ID)
			}
		case domain.ActionEscalateAlert:
			if r.Alert == nil {
				return fmt.Errorf("%w: rule %s escalate_alert needs an alert", domain.ErrInvalidInput, r.ID)
			}
		default:
			return fmt.Errorf("%w: rule %s has unknown action %q", domain.ErrInvalidInput, r.ID, a.Type)
		}
	}
	return nil
}
