package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/alerts"
	"github.com/opensource-finance/heron/internal/analytics"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/interpreter"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/velocity"
)

const testRules = `
rules:
  - id: R-LARGE
    name: Large transfer
    expression: "amount > 10000.0"
    score: 60
    enabled: true
    alert:
      type: large_transaction
      severity: high
      description: Transfer above reporting threshold
    actions:
      - type: flag_transaction
        reason: large transfer
`

// createTestServer wires the full stack over a temp SQLite database and
// the embedded rule evaluator.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "heron-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ctx := context.Background()
	if err := repo.SaveCustomer(ctx, &domain.Customer{
		ID: "C1", Name: "Dana Ortiz", RiskRating: domain.RiskLow, KYCStatus: domain.KYCVerified,
		OnboardedAt: time.Now().UTC().AddDate(-2, 0, 0),
	}); err != nil {
		t.Fatal(err)
	}
	for id, amount := range map[string]int64{"TXN100": 15000, "TXN101": 20000, "TXN102": 50} {
		if err := repo.SaveTransaction(ctx, &domain.Transaction{
			ID: id, CustomerID: "C1", Amount: decimal.NewFromInt(amount), Currency: "USD",
			Type: "transfer", Timestamp: time.Now().UTC(),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.SaveUser(ctx, &domain.User{ID: "analyst-1", Name: "Analyst", Role: domain.RoleAnalyst, Active: true}); err != nil {
		t.Fatal(err)
	}

	lru := cache.NewLRUCache(100)
	t.Cleanup(func() { lru.Close() })
	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })
	m := metrics.New()

	configs, err := rules.ParseRules([]byte(testRules))
	if err != nil {
		t.Fatalf("ParseRules failed: %v", err)
	}
	engine, err := rules.NewEngine(velocity.NewService(repo, nil, 0).CustomerCount, 4)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	if err := engine.ReloadRules(configs); err != nil {
		t.Fatalf("ReloadRules failed: %v", err)
	}
	evaluator := rules.NewEvaluator(engine)

	manager := alerts.NewManager(repo, eventBus, m)
	p := pipeline.New(domain.PipelineConfig{MaxBatchSize: 10}, pipeline.Deps{
		Store:       repo,
		Evaluator:   evaluator,
		Interpreter: interpreter.New(repo, manager, lru, eventBus, m),
		Cache:       lru,
		CustomerTTL: time.Minute,
		Bus:         eventBus,
		Metrics:     m,
	})

	server := NewServer(domain.ServerConfig{Host: "localhost", Port: 8080}, Deps{
		Transactions: repo,
		Pipeline:     p,
		Alerts:       manager,
		Analytics:    analytics.New(repo),
		Gateway:      evaluator,
		Checks:       map[string]Pinger{"repository": repo, "cache": lru, "eventbus": eventBus},
		Metrics:      m,
		Version:      "test-v1",
	})
	return server, repo
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	t.Run("Health", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		body := decodeBody[map[string]any](t, rr)
		if body["status"] != "healthy" || body["version"] != "test-v1" {
			t.Errorf("unexpected health %v", body)
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected request id header")
		}
	})

	t.Run("Ready", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/ready", nil)
		if rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		rr := do(t, server, http.MethodOptions, "/alerts", nil)
		if rr.Code != http.StatusNoContent || rr.Header().Get("Access-Control-Allow-Origin") == "" {
			t.Errorf("unexpected preflight response %d", rr.Code)
		}
	})
}

func TestTransactionEndpoints(t *testing.T) {
	server, repo := createTestServer(t)

	t.Run("GetTransaction", func(t *testing.T) {
		if rr := do(t, server, http.MethodGet, "/transactions/TXN100", nil); rr.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodGet, "/transactions/NOPE", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("Evaluate", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/transactions/TXN100/evaluate", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		out := decodeBody[pipeline.Outcome](t, rr)
		if out.Result.RiskScore == nil || *out.Result.RiskScore != 60 {
			t.Errorf("expected score 60, got %v", out.Result.RiskScore)
		}
		if len(out.Result.AlertsCreated) != 1 || out.Result.AlertsCreated[0] != rules.AlertID("TXN100", "R-LARGE") {
			t.Errorf("unexpected alerts %v", out.Result.AlertsCreated)
		}

		tx, _ := repo.GetTransaction(context.Background(), "TXN100")
		if tx.Status != domain.TransactionFlagged {
			t.Errorf("expected flagged, got %s", tx.Status)
		}

		rr = do(t, server, http.MethodPost, "/transactions/TXN100/evaluate", nil)
		again := decodeBody[pipeline.Outcome](t, rr)
		if len(again.Result.AlertsCreated) != 0 || len(again.Result.AlertsDuplicate) != 1 {
			t.Errorf("re-evaluation must not duplicate alerts, got %+v", again.Result)
		}
	})

	t.Run("EvaluateAsync", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/transactions/TXN102/evaluate?async=true", nil)
		if rr.Code != http.StatusAccepted {
			t.Errorf("expected 202, got %d", rr.Code)
		}
	})

	t.Run("Batch", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/evaluate/batch", BatchRequest{TransactionIDs: []string{"TXN101", "TXN102", "NOPE"}})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
		body := decodeBody[map[string]any](t, rr)
		if body["partial"] != true {
			t.Errorf("expected partial batch, got %v", body)
		}
		results, _ := body["results"].(map[string]any)
		if len(results) != 2 {
			t.Errorf("expected 2 results, got %v", results)
		}

		if rr := do(t, server, http.MethodPost, "/evaluate/batch", `{}`); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for missing ids, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodPost, "/evaluate/batch", `not json`); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad JSON, got %d", rr.Code)
		}
	})
}

func TestAlertEndpoints(t *testing.T) {
	server, _ := createTestServer(t)
	for _, id := range []string{"TXN100", "TXN101"} {
		if rr := do(t, server, http.MethodPost, "/transactions/"+id+"/evaluate", nil); rr.Code != http.StatusOK {
			t.Fatalf("evaluate %s: %d %s", id, rr.Code, rr.Body.String())
		}
	}
	first := rules.AlertID("TXN100", "R-LARGE")
	second := rules.AlertID("TXN101", "R-LARGE")

	t.Run("List", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/alerts?severity=high", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		body := decodeBody[map[string]any](t, rr)
		if body["count"] != float64(2) {
			t.Errorf("expected 2 alerts, got %v", body["count"])
		}
		if rr := do(t, server, http.MethodGet, "/alerts?limit=abc", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad limit, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodGet, "/alerts?status=bogus", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad status, got %d", rr.Code)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/alerts/"+first, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		a := decodeBody[domain.Alert](t, rr)
		if a.AssignedTo != "analyst-1" {
			t.Errorf("expected auto-assignment, got %q", a.AssignedTo)
		}
		if rr := do(t, server, http.MethodGet, "/alerts/ALT-NOPE", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rr.Code)
		}
	})

	t.Run("StatusLifecycle", func(t *testing.T) {
		rr := do(t, server, http.MethodPut, "/alerts/"+first+"/status", StatusRequest{Status: domain.AlertInReview})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
		}

		notes := "confirmed with customer"
		rr = do(t, server, http.MethodPut, "/alerts/"+first+"/status", StatusRequest{Status: domain.AlertResolved, Notes: &notes})
		a := decodeBody[domain.Alert](t, rr)
		if a.ResolvedAt == nil || a.ResolutionNotes != notes {
			t.Errorf("expected resolved_at and notes, got %+v", a)
		}

		rr = do(t, server, http.MethodPut, "/alerts/"+first+"/status", StatusRequest{Status: domain.AlertOpen})
		if rr.Code != http.StatusConflict {
			t.Errorf("expected 409 leaving terminal state, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodPut, "/alerts/"+first+"/status", `{}`); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without status, got %d", rr.Code)
		}
	})

	t.Run("EscalateAndAssign", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/alerts/"+second+"/escalate", EscalateRequest{Reason: "structuring pattern"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		a := decodeBody[domain.Alert](t, rr)
		if a.Severity != domain.SeverityCritical || a.EscalatedAt == nil || a.Status != domain.AlertOpen {
			t.Errorf("unexpected escalation %+v", a)
		}

		if rr := do(t, server, http.MethodPost, "/alerts/"+second+"/escalate", `{}`); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 without reason, got %d", rr.Code)
		}

		rr = do(t, server, http.MethodPost, "/alerts/"+second+"/assign", AssignRequest{UserID: "investigator-9"})
		if a := decodeBody[domain.Alert](t, rr); a.AssignedTo != "investigator-9" {
			t.Errorf("expected reassignment, got %q", a.AssignedTo)
		}
	})

	t.Run("Bulk", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/alerts/escalate", BulkEscalateRequest{AlertIDs: []string{second, "ALT-NOPE"}, Reason: "review"})
		if body := decodeBody[map[string]int](t, rr); body["escalated"] != 1 {
			t.Errorf("expected 1 escalated, got %v", body)
		}

		closed := domain.AlertClosed
		rr = do(t, server, http.MethodPost, "/alerts/bulk", BulkUpdateRequest{AlertIDs: []string{second, "ALT-NOPE"}, Status: &closed})
		if body := decodeBody[map[string]int](t, rr); body["updated"] != 1 {
			t.Errorf("expected 1 updated, got %v", body)
		}

		open := domain.AlertOpen
		rr = do(t, server, http.MethodPost, "/alerts/bulk", BulkUpdateRequest{AlertIDs: []string{first, second}, Status: &open})
		if rr.Code != http.StatusConflict {
			t.Errorf("expected 409 for invalid bulk transition, got %d", rr.Code)
		}
	})

	t.Run("SummaryAndAnalytics", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/alerts/summary", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		s := decodeBody[analytics.Summary](t, rr)
		if s.Total != 2 || s.Last24h.Current != 2 {
			t.Errorf("unexpected summary %+v", s)
		}

		rr = do(t, server, http.MethodGet, "/alerts/analytics", nil)
		report := decodeBody[analytics.Report](t, rr)
		if len(report.Trend) != analytics.TrendDays || report.Total != 2 {
			t.Errorf("unexpected report total=%d buckets=%d", report.Total, len(report.Trend))
		}

		if rr := do(t, server, http.MethodGet, "/alerts/analytics?start=yesterday", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for bad start, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/metrics", nil)
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "heron_alerts_created_total") {
			t.Errorf("expected alert metrics, got %d", rr.Code)
		}
	})
}

func TestTraceEndpointsWithoutDocStore(t *testing.T) {
	server, _ := createTestServer(t)

	if rr := do(t, server, http.MethodGet, "/traces", nil); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
	if rr := do(t, server, http.MethodPost, "/traces/ingest", IngestRequest{}); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
	if rr := do(t, server, http.MethodPost, "/traces/ingest", IngestRequest{Limit: 5000}); rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized limit, got %d", rr.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrInvalidTransition, http.StatusConflict},
		{domain.ErrDuplicateAlert, http.StatusConflict},
		{domain.ErrMalformedSourceRecord, http.StatusUnprocessableEntity},
		{domain.ErrContractViolation, http.StatusBadGateway},
		{fmt.Errorf("%w: 503", domain.ErrTransientGateway), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: worker backlog", domain.ErrBusFull), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
