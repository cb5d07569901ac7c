package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/opensource-finance/heron/internal/alerts"
	"github.com/opensource-finance/heron/internal/analytics"
	"github.com/opensource-finance/heron/internal/docstore"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/gateway"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/pipeline"
)

// TransactionReader loads stored transactions.
type TransactionReader interface {
	GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error)
}

// Evaluations runs the evaluation pipeline.
type Evaluations interface {
	Evaluate(ctx context.Context, txID string) (*pipeline.Outcome, error)
	EvaluateBatch(ctx context.Context, txIDs []string) (*pipeline.BatchOutcome, error)
	Submit(ctx context.Context, txID, traceID string) error
	IngestTraces(ctx context.Context, q docstore.Query, submit bool) (*pipeline.IngestReport, error)
}

// AlertService manages the alert lifecycle.
type AlertService interface {
	Get(ctx context.Context, alertID string) (*domain.Alert, error)
	List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error)
	SetStatus(ctx context.Context, alertID string, status domain.AlertStatus, notes *string) (*domain.Alert, error)
	Escalate(ctx context.Context, alertID, reason string) (*domain.Alert, error)
	BulkEscalate(ctx context.Context, alertIDs []string, reason string) (int, error)
	Assign(ctx context.Context, alertID, userID string) (*domain.Alert, error)
	BulkUpdate(ctx context.Context, req alerts.BulkUpdate) (int, error)
}

// AnalyticsService aggregates alert statistics.
type AnalyticsService interface {
	Summary(ctx context.Context) (*analytics.Summary, error)
	Analytics(ctx context.Context, start, end *time.Time) (*analytics.Report, error)
}

// TraceFinder lists stored ISO20022 traces.
type TraceFinder interface {
	FindTraces(ctx context.Context, q docstore.Query) ([]docstore.Record, error)
}

// Pinger is a health-checked dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators served over HTTP. Traces, Gateway, Checks and
// Metrics are optional.
type Deps struct {
	Transactions TransactionReader
	Pipeline     Evaluations
	Alerts       AlertService
	Analytics    AnalyticsService
	Traces       TraceFinder
	Gateway      gateway.Evaluator
	Checks       map[string]Pinger
	Metrics      *metrics.Collector
	Version      string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	deps     Deps
	validate *validator.Validate
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// Health handles GET /health. Dependencies are pinged; any failure reports
// the service as degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := make(map[string]string, len(h.deps.Checks))

	for name, dep := range h.deps.Checks {
		if err := dep.Ping(r.Context()); err != nil {
			status = "degraded"
			components[name] = err.Error()
			continue
		}
		components[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"version":    h.deps.Version,
		"components": components,
	})
}

// Ready handles GET /ready. The service is ready once the evaluation
// service answers its health check.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Gateway == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health, err := h.deps.Gateway.Health(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"ready": false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ready":   true,
		"gateway": health,
	})
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.deps.Transactions.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// EvaluateTransaction handles POST /transactions/{id}/evaluate. With
// ?async=true the transaction is queued for the worker instead.
func (h *Handler) EvaluateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if err := h.deps.Pipeline.Submit(ctx, txID, GetTraceID(ctx)); err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"transactionId": txID,
			"status":        "submitted",
		})
		return
	}

	out, err := h.deps.Pipeline.Evaluate(ctx, txID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// BatchRequest is the request body for POST /evaluate/batch.
type BatchRequest struct {
	TransactionIDs []string `json:"transactionIds" validate:"required,min=1,dive,required"`
}

type batchResponse struct {
	*pipeline.BatchOutcome
	Partial bool `json:"partial"`
}

// EvaluateBatch handles POST /evaluate/batch.
func (h *Handler) EvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}

	out, err := h.deps.Pipeline.EvaluateBatch(r.Context(), req.TransactionIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{BatchOutcome: out, Partial: out.Partial()})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid JSON request body", domain.ErrInvalidInput))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %s", domain.ErrInvalidInput, validationMessage(err)))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrDuplicateAlert):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMalformedSourceRecord):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrContractViolation):
		return http.StatusBadGateway
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: GetRequestID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidInput, name)
	}
	return n, nil
}

// queryTime accepts RFC 3339 timestamps or plain dates (UTC midnight).
func queryTime(r *http.Request, name string) (time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC 3339 or YYYY-MM-DD", domain.ErrInvalidInput, name)
}
