// Package gateway submits canonical transactions to the rule-evaluation
// service and returns typed verdicts.
//
// There is one Evaluator interface and one HTTP transport. Retry and circuit
// breaking are decorators over any Evaluator. The gateway never writes.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/opensource-finance/heron/internal/domain"
)

// Evaluator evaluates transactions against the compliance rules.
type Evaluator interface {
	// Evaluate evaluates one transaction with its customer.
	Evaluate(ctx context.Context, tx *domain.Transaction, cust *domain.Customer) (*domain.Verdict, error)

	// EvaluateBatch evaluates several transactions in one call. Customers are
	// keyed by id; transactions whose customer is absent are skipped.
	EvaluateBatch(ctx context.Context, txs []*domain.Transaction, customers map[string]*domain.Customer) (*BatchResult, error)

	// Health reports the evaluation service status.
	Health(ctx context.Context) (*Health, error)
}

// Health is the evaluation service health report.
type Health struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// BatchResult holds the verdicts of a batch and the members that did not
// produce one.
type BatchResult struct {
	// Verdicts keyed by transaction id.
	Verdicts map[string]*domain.Verdict

	// Skipped lists transactions excluded before the call because their
	// customer was not supplied.
	Skipped []string

	// Failed lists requested transactions the service returned no valid
	// verdict for.
	Failed map[string]error
}

// NewBatchResult returns an empty result.
func NewBatchResult() *BatchResult {
	return &BatchResult{
		Verdicts: make(map[string]*domain.Verdict),
		Failed:   make(map[string]error),
	}
}

// Partial reports whether any member was skipped or failed.
func (r *BatchResult) Partial() bool {
	return len(r.Skipped) > 0 || len(r.Failed) > 0
}

// Err summarizes skipped and failed members as ErrPartialBatch, or nil.
func (r *BatchResult) Err() error {
	if !r.Partial() {
		return nil
	}
	failed := make([]string, 0, len(r.Failed))
	for id := range r.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)

	var parts []string
	if len(r.Skipped) > 0 {
		parts = append(parts, fmt.Sprintf("skipped %s", strings.Join(r.Skipped, ",")))
	}
	if len(failed) > 0 {
		parts = append(parts, fmt.Sprintf("failed %s", strings.Join(failed, ",")))
	}
	return fmt.Errorf("%w: %s", domain.ErrPartialBatch, strings.Join(parts, "; "))
}

// SplitBatch separates transactions whose customer is present from those
// that must be skipped. Order is preserved.
func SplitBatch(txs []*domain.Transaction, customers map[string]*domain.Customer) (ready []*domain.Transaction, skipped []string) {
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		if c, ok := customers[tx.CustomerID]; !ok || c == nil {
			skipped = append(skipped, tx.ID)
			continue
		}
		ready = append(ready, tx)
	}
	return ready, skipped
}
