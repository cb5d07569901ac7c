// Package pipeline orchestrates compliance evaluation: it loads canonical
// records, calls the evaluation gateway and hands verdicts to the
// interpreter. It also ingests ISO20022 traces from the document store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/docstore"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/gateway"
	"github.com/opensource-finance/heron/internal/interpreter"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/normalize"
)

var tracer = otel.Tracer("heron-pipeline")

// Evaluation outcomes recorded in metrics.
const (
	OutcomeScored   = "scored"
	OutcomeUnscored = "unscored"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
)

// Store is the relational data the pipeline reads and writes.
type Store interface {
	GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error)
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
	InsertTransactionIfAbsent(ctx context.Context, tx *domain.Transaction) (bool, error)
}

// Applier applies verdicts.
type Applier interface {
	Apply(ctx context.Context, v *domain.Verdict, transactionID string) *interpreter.ApplyResult
}

// TraceSource reads ISO20022 traces.
type TraceSource interface {
	FindTraces(ctx context.Context, q docstore.Query) ([]docstore.Record, error)
}

// Deps are the collaborators of a Pipeline. Cache, Traces, Bus and Metrics
// are optional.
type Deps struct {
	Store       Store
	Evaluator   gateway.Evaluator
	Interpreter Applier
	Cache       domain.Cache
	CustomerTTL time.Duration
	Traces      TraceSource
	Bus         domain.EventBus
	Metrics     *metrics.Collector
}

// Pipeline runs evaluations end to end.
type Pipeline struct {
	cfg   domain.PipelineConfig
	store Store
	eval  gateway.Evaluator
	apply Applier
	cache domain.Cache
	ttl   time.Duration
	docs  TraceSource
	bus   domain.EventBus
	m     *metrics.Collector
}

// New creates a pipeline. Zero config values fall back to defaults.
func New(cfg domain.PipelineConfig, deps Deps) *Pipeline {
	defaults := domain.DefaultConfig().Pipeline
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = defaults.EvaluationTimeout
	}
	if cfg.LookupConcurrency <= 0 {
		cfg.LookupConcurrency = defaults.LookupConcurrency
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaults.MaxBatchSize
	}
	return &Pipeline{
		cfg:   cfg,
		store: deps.Store,
		eval:  deps.Evaluator,
		apply: deps.Interpreter,
		cache: deps.Cache,
		ttl:   deps.CustomerTTL,
		docs:  deps.Traces,
		bus:   deps.Bus,
		m:     deps.Metrics,
	}
}

// Outcome is the result of evaluating one transaction.
type Outcome struct {
	TransactionID string                   `json:"transactionId"`
	Verdict       *domain.Verdict          `json:"verdict"`
	Result        *interpreter.ApplyResult `json:"result"`
	Errors        []string                 `json:"errors,omitempty"`
}

// Evaluate evaluates a stored transaction and applies the verdict. When the
// evaluation fails the transaction keeps its previous score and status and
// an evaluation-failed event is published.
func (p *Pipeline) Evaluate(ctx context.Context, txID string) (*Outcome, error) {
	if txID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "pipeline.evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", txID))

	start := time.Now()

	tx, err := p.store.GetTransaction(ctx, txID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to load transaction %s: %w", txID, err)
	}

	cust, err := p.customer(ctx, tx.CustomerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("%w: customer %s of transaction %s: %w", domain.ErrMalformedSourceRecord, tx.CustomerID, txID, err)
		}
		p.failed(ctx, txID, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, p.cfg.EvaluationTimeout)
	v, err := p.eval.Evaluate(gctx, tx, cust)
	cancel()
	if err != nil {
		p.failed(ctx, txID, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	result := p.apply.Apply(ctx, v, tx.ID)
	p.record(result)

	slog.Info("transaction evaluated",
		"transaction_id", txID,
		"triggered_rules", len(v.TriggeredRules),
		"risk_score", result.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Outcome{
		TransactionID: tx.ID,
		Verdict:       v,
		Result:        result,
		Errors:        result.ErrorMessages(),
	}, nil
}

// BatchOutcome reports a batch evaluation member by member.
type BatchOutcome struct {
	Results map[string]*interpreter.ApplyResult `json:"results"`

	// Missing lists requested transactions that do not exist.
	Missing []string `json:"missing"`
	// Skipped lists transactions whose customer could not be found or read.
	Skipped []string `json:"skipped"`
	// Failed maps transactions without a valid verdict to the reason.
	Failed map[string]string `json:"failed"`
}

// Partial reports whether any member produced no result.
func (o *BatchOutcome) Partial() bool {
	return len(o.Missing) > 0 || len(o.Skipped) > 0 || len(o.Failed) > 0
}

// Err returns ErrPartialBatch when some members produced no result.
func (o *BatchOutcome) Err() error {
	if !o.Partial() {
		return nil
	}
	return fmt.Errorf("%w: %d missing, %d skipped, %d failed",
		domain.ErrPartialBatch, len(o.Missing), len(o.Skipped), len(o.Failed))
}

// EvaluateBatch evaluates several stored transactions with one gateway
// call. Records are loaded concurrently. Members that cannot be evaluated
// are reported and never abort the rest of the batch.
func (p *Pipeline) EvaluateBatch(ctx context.Context, txIDs []string) (*BatchOutcome, error) {
	ids := dedupe(txIDs)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: at least one transaction id is required", domain.ErrInvalidInput)
	}
	if len(ids) > p.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch of %d exceeds limit %d", domain.ErrInvalidInput, len(ids), p.cfg.MaxBatchSize)
	}

	ctx, span := tracer.Start(ctx, "pipeline.evaluate_batch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(ids)))

	loaded, err := p.load(ctx, ids)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	txs, customers := loaded.txs, loaded.customers

	out := &BatchOutcome{
		Results: make(map[string]*interpreter.ApplyResult),
		Missing: loaded.missing,
		Skipped: []string{},
		Failed:  make(map[string]string),
	}
	for _, id := range ids {
		if ferr, ok := loaded.failed[id]; ok {
			out.Failed[id] = ferr.Error()
			p.failed(ctx, id, ferr)
		}
	}
	if len(txs) == 0 {
		return out, nil
	}

	gctx, cancel := context.WithTimeout(ctx, p.cfg.EvaluationTimeout)
	br, err := p.eval.EvaluateBatch(gctx, txs, customers)
	cancel()
	if err != nil {
		for _, tx := range txs {
			p.failed(ctx, tx.ID, err)
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, id := range br.Skipped {
		out.Skipped = append(out.Skipped, id)
		p.m.Evaluation(OutcomeSkipped)
		p.failed(ctx, id, loaded.skipReason(id))
	}

	for _, tx := range txs {
		if ferr, ok := br.Failed[tx.ID]; ok {
			out.Failed[tx.ID] = ferr.Error()
			p.failed(ctx, tx.ID, ferr)
			continue
		}
		v, ok := br.Verdicts[tx.ID]
		if !ok {
			continue
		}
		result := p.apply.Apply(ctx, v, tx.ID)
		p.record(result)
		out.Results[tx.ID] = result
	}

	slog.Info("batch evaluated",
		"requested", len(ids),
		"evaluated", len(out.Results),
		"missing", len(out.Missing),
		"skipped", len(out.Skipped),
		"failed", len(out.Failed),
	)
	return out, nil
}

// batchLoad is the result of loading a batch from the store.
type batchLoad struct {
	txs       []*domain.Transaction
	customers map[string]*domain.Customer
	missing   []string

	// failed holds transactions whose row could not be read or normalized.
	failed map[string]error

	// customerErrs holds customers that could not be resolved, by id.
	customerErrs map[string]error
}

// load fetches transactions and their customers with bounded concurrency.
// Unknown transactions are reported missing and unreadable ones failed.
// Customers that cannot be resolved are left out of the map so the gateway
// skips their transactions. Only cancellation of ctx fails the whole load.
func (p *Pipeline) load(ctx context.Context, ids []string) (*batchLoad, error) {
	loaded := make([]*domain.Transaction, len(ids))
	res := &batchLoad{
		customers:    make(map[string]*domain.Customer),
		missing:      []string{},
		failed:       make(map[string]error),
		customerErrs: make(map[string]error),
	}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.cfg.LookupConcurrency)

	for i, id := range ids {
		g.Go(func() error {
			tx, err := p.store.GetTransaction(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				mu.Lock()
				res.failed[id] = fmt.Errorf("failed to load transaction %s: %w", id, err)
				mu.Unlock()
				return nil
			}
			loaded[i] = tx

			mu.Lock()
			_, seen := res.customers[tx.CustomerID]
			mu.Unlock()
			if seen {
				return nil
			}

			cust, err := p.customer(ctx, tx.CustomerID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, domain.ErrNotFound):
			case err != nil:
				res.customerErrs[tx.CustomerID] = fmt.Errorf("failed to load customer %s: %w", tx.CustomerID, err)
			default:
				res.customers[cust.ID] = cust
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.txs = make([]*domain.Transaction, 0, len(ids))
	for i, tx := range loaded {
		switch {
		case tx != nil:
			res.txs = append(res.txs, tx)
		case res.failed[ids[i]] == nil:
			res.missing = append(res.missing, ids[i])
		}
	}
	return res, nil
}

// skipReason explains why the gateway skipped tx.
func (l *batchLoad) skipReason(txID string) error {
	for _, tx := range l.txs {
		if tx.ID != txID {
			continue
		}
		if err, ok := l.customerErrs[tx.CustomerID]; ok {
			return err
		}
		return fmt.Errorf("%w: customer %s of transaction %s: %w",
			domain.ErrMalformedSourceRecord, tx.CustomerID, txID, domain.ErrNotFound)
	}
	return fmt.Errorf("%w: customer of transaction %s not found", domain.ErrMalformedSourceRecord, txID)
}

// Submit queues a stored transaction for asynchronous evaluation.
func (p *Pipeline) Submit(ctx context.Context, txID, traceID string) error {
	if txID == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}
	if p.bus == nil {
		return fmt.Errorf("no event bus configured")
	}
	return bus.PublishJSON(ctx, p.bus, domain.TopicTransactionSubmitted, domain.TransactionSubmitted{
		TransactionID: txID,
		TraceID:       traceID,
	})
}

// customer returns the customer from cache, falling back to the store.
func (p *Pipeline) customer(ctx context.Context, customerID string) (*domain.Customer, error) {
	if p.cache != nil {
		cust, err := p.cache.GetCustomer(ctx, customerID)
		if err != nil {
			slog.Debug("customer cache read failed", "customer_id", customerID, "error", err)
		}
		if cust != nil {
			return cust, nil
		}
	}

	cust, err := p.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if p.cache != nil && p.ttl > 0 {
		if err := p.cache.SetCustomer(ctx, cust, p.ttl); err != nil {
			slog.Debug("customer cache write failed", "customer_id", customerID, "error", err)
		}
	}
	return cust, nil
}

func (p *Pipeline) record(result *interpreter.ApplyResult) {
	if result.Unscored() {
		p.m.Evaluation(OutcomeUnscored)
		return
	}
	p.m.Evaluation(OutcomeScored)
}

// failed logs an evaluation failure and publishes it for reprocessing.
func (p *Pipeline) failed(ctx context.Context, txID string, err error) {
	transient := domain.IsTransient(err)
	p.m.Evaluation(OutcomeFailed)
	slog.Error("evaluation failed, transaction left for reprocessing",
		"transaction_id", txID,
		"transient", transient,
		"error", err,
	)
	event := domain.EvaluationFailed{
		TransactionID: txID,
		Reason:        err.Error(),
		Transient:     transient,
	}
	if perr := bus.PublishJSON(context.WithoutCancel(ctx), p.bus, domain.TopicEvaluationFailed, event); perr != nil {
		slog.Error("failed to publish evaluation failure", "transaction_id", txID, "error", perr)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// IngestReport summarizes one trace ingestion run.
type IngestReport struct {
	Fetched   int           `json:"fetched"`
	Inserted  []string      `json:"inserted"`
	Existing  []string      `json:"existing"`
	Malformed []RecordError `json:"malformed"`
	Failed    []RecordError `json:"failed"`
	Submitted int           `json:"submitted"`

	// SubmitFailed lists inserted transactions that could not be queued.
	SubmitFailed []RecordError `json:"submitFailed"`
}

// RecordError names a trace document that was not ingested.
type RecordError struct {
	DocumentID    string `json:"documentId"`
	TransactionID string `json:"transactionId,omitempty"`
	Error         string `json:"error"`
}

// IngestTraces pulls traces matching q, normalizes them and inserts the
// transactions that are not stored yet. Malformed documents are reported
// and skipped. With submit set, newly inserted transactions are queued for
// evaluation.
func (p *Pipeline) IngestTraces(ctx context.Context, q docstore.Query, submit bool) (*IngestReport, error) {
	if p.docs == nil {
		return nil, fmt.Errorf("%w: document store is not configured", domain.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "pipeline.ingest_traces")
	defer span.End()

	records, err := p.docs.FindTraces(ctx, q)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := &IngestReport{
		Fetched:   len(records),
		Inserted:  []string{},
		Existing:  []string{},
		Malformed: []RecordError{},
		Failed:    []RecordError{},

		SubmitFailed: []RecordError{},
	}

	for _, r := range records {
		if r.Err != nil {
			report.Malformed = append(report.Malformed, RecordError{DocumentID: r.ID, Error: r.Err.Error()})
			p.m.TraceIngested("malformed")
			continue
		}

		tx, err := normalize.TraceTransaction(r.Trace)
		if err != nil {
			report.Malformed = append(report.Malformed, RecordError{DocumentID: r.ID, Error: err.Error()})
			p.m.TraceIngested("malformed")
			slog.Warn("skipping malformed trace", "document_id", r.ID, "error", err)
			continue
		}

		inserted, err := p.store.InsertTransactionIfAbsent(ctx, tx)
		if err != nil {
			report.Failed = append(report.Failed, RecordError{DocumentID: r.ID, TransactionID: tx.ID, Error: err.Error()})
			p.m.TraceIngested("failed")
			slog.Error("failed to store trace transaction", "document_id", r.ID, "transaction_id", tx.ID, "error", err)
			continue
		}
		if !inserted {
			report.Existing = append(report.Existing, tx.ID)
			p.m.TraceIngested("existing")
			continue
		}

		report.Inserted = append(report.Inserted, tx.ID)
		p.m.TraceIngested("inserted")

		if submit {
			if err := p.Submit(ctx, tx.ID, r.ID); err != nil {
				slog.Error("failed to submit ingested transaction", "transaction_id", tx.ID, "error", err)
				report.SubmitFailed = append(report.SubmitFailed, RecordError{
					DocumentID: r.ID, TransactionID: tx.ID, Error: err.Error(),
				})
				continue
			}
			report.Submitted++
		}
	}

	slog.Info("traces ingested",
		"fetched", report.Fetched,
		"inserted", len(report.Inserted),
		"existing", len(report.Existing),
		"malformed", len(report.Malformed),
		"failed", len(report.Failed),
	)
	return report, nil
}
