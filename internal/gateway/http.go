package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/normalize"
)

var tracer = otel.Tracer("heron-gateway")

// Service endpoints.
const (
	pathEvaluate = "/evaluate"
	pathBatch    = "/evaluate/batch"
	pathHealth   = "/health"
)

// HTTPClient talks to the rule-evaluation service over HTTP.
type HTTPClient struct {
	client   *resty.Client
	validate *validator.Validate
	metrics  *metrics.Collector
}

// NewHTTPClient creates a client for the service at cfg.BaseURL.
// The collector may be nil.
func NewHTTPClient(cfg domain.GatewayConfig, m *metrics.Collector) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: gateway base_url is required", domain.ErrInvalidInput)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	return &HTTPClient{
		client:   client,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
	}, nil
}

// Evaluate posts one transaction and its customer to /evaluate.
func (c *HTTPClient) Evaluate(ctx context.Context, tx *domain.Transaction, cust *domain.Customer) (*domain.Verdict, error) {
	if tx == nil || cust == nil {
		return nil, fmt.Errorf("%w: transaction and customer are required", domain.ErrInvalidInput)
	}

	ctx, span := tracer.Start(ctx, "gateway.evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", tx.ID))

	body, err := c.post(ctx, "evaluate", pathEvaluate, normalize.ToEvaluationRequest(tx, cust))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var resp normalize.VerdictResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		err = fmt.Errorf("%w: decode verdict: %v", domain.ErrContractViolation, err)
		recordSpanError(span, err)
		return nil, err
	}

	verdict, err := c.verdict(resp, tx.ID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return verdict, nil
}

// EvaluateBatch posts every transaction with a known customer to
// /evaluate/batch in a single call.
func (c *HTTPClient) EvaluateBatch(ctx context.Context, txs []*domain.Transaction, customers map[string]*domain.Customer) (*BatchResult, error) {
	result := NewBatchResult()

	ready, skipped := SplitBatch(txs, customers)
	result.Skipped = skipped
	if len(ready) == 0 {
		return result, nil
	}

	ctx, span := tracer.Start(ctx, "gateway.evaluate_batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("batch.size", len(ready)),
		attribute.Int("batch.skipped", len(skipped)),
	)

	body, err := c.post(ctx, "evaluate_batch", pathBatch, normalize.ToBatchRequest(ready, customers))
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	var resp normalize.BatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		err = fmt.Errorf("%w: decode batch: %v", domain.ErrContractViolation, err)
		recordSpanError(span, err)
		return nil, err
	}
	if resp.Results == nil {
		err := fmt.Errorf("%w: batch response has no results", domain.ErrContractViolation)
		recordSpanError(span, err)
		return nil, err
	}

	for _, tx := range ready {
		vr, ok := resp.Results[tx.ID]
		if !ok {
			result.Failed[tx.ID] = fmt.Errorf("%w: no verdict for transaction %s", domain.ErrContractViolation, tx.ID)
			continue
		}
		verdict, err := c.verdict(vr, tx.ID)
		if err != nil {
			result.Failed[tx.ID] = err
			continue
		}
		result.Verdicts[tx.ID] = verdict
	}

	if result.Partial() {
		slog.Warn("partial batch evaluation",
			"requested", len(ready),
			"skipped", len(result.Skipped),
			"failed", len(result.Failed),
		)
	}
	return result, nil
}

// Health queries /health.
func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	start := time.Now()
	resp, err := c.client.R().SetContext(ctx).Get(pathHealth)
	if err != nil {
		c.metrics.GatewayCall("health", "transient", time.Since(start))
		return nil, transportError(err)
	}
	if err := statusError(resp.StatusCode(), resp.Body()); err != nil {
		c.metrics.GatewayCall("health", resultLabel(err), time.Since(start))
		return nil, err
	}

	var h normalize.HealthResponse
	if err := json.Unmarshal(resp.Body(), &h); err != nil {
		c.metrics.GatewayCall("health", "contract", time.Since(start))
		return nil, fmt.Errorf("%w: decode health: %v", domain.ErrContractViolation, err)
	}
	c.metrics.GatewayCall("health", "ok", time.Since(start))
	return &Health{Status: h.Status, Version: h.Version}, nil
}

func (c *HTTPClient) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(path)
	if err != nil {
		c.metrics.GatewayCall(op, "transient", time.Since(start))
		return nil, transportError(err)
	}
	if err := statusError(resp.StatusCode(), resp.Body()); err != nil {
		c.metrics.GatewayCall(op, resultLabel(err), time.Since(start))
		return nil, err
	}
	c.metrics.GatewayCall(op, "ok", time.Since(start))
	return resp.Body(), nil
}

// verdict validates a wire verdict and converts it.
func (c *HTTPClient) verdict(resp normalize.VerdictResponse, transactionID string) (*domain.Verdict, error) {
	if err := c.validate.Struct(resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrContractViolation, err)
	}
	if resp.TransactionID != transactionID {
		return nil, fmt.Errorf("%w: verdict for %s returned for transaction %s",
			domain.ErrContractViolation, resp.TransactionID, transactionID)
	}
	return normalize.Verdict(resp), nil
}

// statusError classifies a non-2xx answer. 5xx and 429 are transient;
// any other 4xx is a contract violation.
func statusError(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d: %s", domain.ErrTransientGateway, status, snippet(body))
	default:
		return fmt.Errorf("%w: status %d: %s", domain.ErrContractViolation, status, snippet(body))
	}
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransientGateway, err)
}

func resultLabel(err error) string {
	if domain.IsTransient(err) {
		return "transient"
	}
	return "contract"
}

func snippet(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
