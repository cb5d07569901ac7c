package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "heron-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:           "TXN100",
			CustomerID:   "C1",
			Amount:       decimal.RequireFromString("15000.25"),
			Currency:     "USD",
			Type:         "transfer",
			Channel:      "online",
			Counterparty: domain.Counterparty{Name: "Acme", Account: "ACC-9"},
			Timestamp:    time.Now().UTC().Truncate(time.Second),
			Metadata:     map[string]any{"source": "api"},
		}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, "TXN100")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if !got.Amount.Equal(tx.Amount) {
			t.Errorf("expected amount %s, got %s", tx.Amount, got.Amount)
		}
		if got.Status != domain.TransactionPending {
			t.Errorf("expected default status pending, got %s", got.Status)
		}
		if got.RiskScore != nil {
			t.Errorf("expected unscored transaction")
		}
		if got.Counterparty.Name != "Acme" {
			t.Errorf("expected counterparty Acme, got %q", got.Counterparty.Name)
		}
		if got.Metadata["source"] != "api" {
			t.Errorf("expected metadata source=api, got %v", got.Metadata)
		}
	})

	t.Run("InsertTransactionIfAbsent", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:         "E2E-1",
			CustomerID: "C1",
			Amount:     decimal.NewFromInt(10),
			Currency:   "EUR",
			Type:       "payment_status",
			Timestamp:  time.Now().UTC(),
		}
		inserted, err := repo.InsertTransactionIfAbsent(ctx, tx)
		if err != nil || !inserted {
			t.Fatalf("expected insert, got inserted=%v err=%v", inserted, err)
		}
		inserted, err = repo.InsertTransactionIfAbsent(ctx, tx)
		if err != nil || inserted {
			t.Errorf("expected second insert to be skipped, got inserted=%v err=%v", inserted, err)
		}
	})

	t.Run("UpdateTransactionRiskAndStatus", func(t *testing.T) {
		if err := repo.UpdateTransactionRiskScore(ctx, "TXN100", 92); err != nil {
			t.Fatalf("UpdateTransactionRiskScore failed: %v", err)
		}
		if err := repo.UpdateTransactionStatus(ctx, "TXN100", domain.TransactionBlocked, "limit breach"); err != nil {
			t.Fatalf("UpdateTransactionStatus failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, "TXN100")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if got.RiskScore == nil || *got.RiskScore != 92 {
			t.Errorf("expected score 92, got %v", got.RiskScore)
		}
		if got.Status != domain.TransactionBlocked || got.StatusReason != "limit breach" {
			t.Errorf("unexpected status %s (%s)", got.Status, got.StatusReason)
		}

		if err := repo.UpdateTransactionRiskScore(ctx, "missing", 1); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TransactionNotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Customers", func(t *testing.T) {
		c := &domain.Customer{
			ID:         "C1",
			Name:       "Ada",
			RiskRating: domain.RiskLow,
			KYCStatus:  domain.KYCVerified,
			IsPEP:      true,
		}
		if err := repo.SaveCustomer(ctx, c); err != nil {
			t.Fatalf("SaveCustomer failed: %v", err)
		}
		if err := repo.UpdateCustomerRisk(ctx, "C1", domain.RiskHigh, 80); err != nil {
			t.Fatalf("UpdateCustomerRisk failed: %v", err)
		}

		got, err := repo.GetCustomer(ctx, "C1")
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}
		if got.RiskRating != domain.RiskHigh || got.RiskScore == nil || *got.RiskScore != 80 {
			t.Errorf("unexpected risk %s %v", got.RiskRating, got.RiskScore)
		}
		if !got.IsPEP {
			t.Error("expected PEP flag to persist")
		}

		if err := repo.UpdateCustomerRisk(ctx, "C1", "extreme", 1); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestLeastRecentlyActiveUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)

	users := []*domain.User{
		{ID: "u-recent", Name: "Recent", Role: domain.RoleAnalyst, Active: true, LastActiveAt: &recent},
		{ID: "u-old", Name: "Old", Role: domain.RoleInvestigator, Active: true, LastActiveAt: &old},
		{ID: "u-admin", Name: "Admin", Role: "admin", Active: true},
		{ID: "u-inactive", Name: "Gone", Role: domain.RoleAnalyst, Active: false},
	}
	for _, u := range users {
		if err := repo.SaveUser(ctx, u); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}
	}

	got, err := repo.LeastRecentlyActiveUser(ctx, domain.AssignableRoles())
	if err != nil {
		t.Fatalf("LeastRecentlyActiveUser failed: %v", err)
	}
	if got.ID != "u-old" {
		t.Errorf("expected u-old, got %s", got.ID)
	}

	never := &domain.User{ID: "u-never", Name: "Never", Role: domain.RoleComplianceOfficer, Active: true}
	if err := repo.SaveUser(ctx, never); err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}
	got, err = repo.LeastRecentlyActiveUser(ctx, domain.AssignableRoles())
	if err != nil {
		t.Fatalf("LeastRecentlyActiveUser failed: %v", err)
	}
	if got.ID != "u-never" {
		t.Errorf("expected never-active user first, got %s", got.ID)
	}

	if _, err := repo.LeastRecentlyActiveUser(ctx, []string{"auditor"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func newAlert(id string, severity domain.Severity) *domain.Alert {
	return &domain.Alert{
		AlertID:        id,
		CustomerID:     "C1",
		TransactionID:  "TXN100",
		Type:           "large_transaction",
		Severity:       severity,
		Status:         domain.AlertOpen,
		RiskScore:      92,
		TriggeredRules: []string{"R-LARGE"},
		Metadata:       domain.AlertMetadata{Source: "evaluation", Extra: map[string]any{"model": "v3"}},
	}
}

func TestAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		if err := repo.CreateAlert(ctx, newAlert("ALT-A1", domain.SeverityCritical)); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}

		got, err := repo.GetAlert(ctx, "ALT-A1")
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if got.ID == "" {
			t.Error("expected internal id to be assigned")
		}
		if got.Severity != domain.SeverityCritical || got.Status != domain.AlertOpen {
			t.Errorf("unexpected alert %+v", got)
		}
		if len(got.TriggeredRules) != 1 || got.Metadata.Extra["model"] != "v3" {
			t.Errorf("expected rules and metadata to round trip, got %v %+v", got.TriggeredRules, got.Metadata)
		}
	})

	t.Run("DuplicateAlertID", func(t *testing.T) {
		err := repo.CreateAlert(ctx, newAlert("ALT-A1", domain.SeverityLow))
		if !errors.Is(err, domain.ErrDuplicateAlert) {
			t.Errorf("expected ErrDuplicateAlert, got %v", err)
		}
	})

	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) {
		var wg sync.WaitGroup
		var mu sync.Mutex
		created, dupes := 0, 0

		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.CreateAlert(ctx, newAlert("ALT-RACE", domain.SeverityHigh))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, domain.ErrDuplicateAlert):
					dupes++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if created != 1 || dupes != 7 {
			t.Errorf("expected 1 created and 7 duplicates, got %d and %d", created, dupes)
		}
	})

	t.Run("MutateAlert", func(t *testing.T) {
		now := time.Now().UTC()
		got, err := repo.MutateAlert(ctx, "ALT-A1", func(a *domain.Alert) (bool, error) {
			return a.SetStatus(domain.AlertInReview, nil, now)
		})
		if err != nil {
			t.Fatalf("MutateAlert failed: %v", err)
		}
		if got.Status != domain.AlertInReview {
			t.Errorf("expected in_review, got %s", got.Status)
		}

		stored, _ := repo.GetAlert(ctx, "ALT-A1")
		if stored.Status != domain.AlertInReview {
			t.Errorf("expected persisted in_review, got %s", stored.Status)
		}

		if _, err := repo.MutateAlert(ctx, "ALT-MISSING", func(a *domain.Alert) (bool, error) {
			return true, nil
		}); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("MutateAlertsSkipsMissing", func(t *testing.T) {
		if err := repo.CreateAlert(ctx, newAlert("ALT-A3", domain.SeverityMedium)); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}

		now := time.Now().UTC()
		n, err := repo.MutateAlerts(ctx, []string{"ALT-A1", "ALT-A2", "ALT-A3"}, func(a *domain.Alert) (bool, error) {
			return a.SetStatus(domain.AlertClosed, nil, now)
		})
		if err != nil {
			t.Fatalf("MutateAlerts failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 modified, got %d", n)
		}

		for _, id := range []string{"ALT-A1", "ALT-A3"} {
			a, _ := repo.GetAlert(ctx, id)
			if a.Status != domain.AlertClosed || a.ResolvedAt == nil {
				t.Errorf("%s: expected closed with resolved_at, got %s %v", id, a.Status, a.ResolvedAt)
			}
		}
	})

	t.Run("MutateAlertsRollsBack", func(t *testing.T) {
		if err := repo.CreateAlert(ctx, newAlert("ALT-B1", domain.SeverityLow)); err != nil {
			t.Fatalf("CreateAlert failed: %v", err)
		}

		now := time.Now().UTC()
		_, err := repo.MutateAlerts(ctx, []string{"ALT-B1", "ALT-A1"}, func(a *domain.Alert) (bool, error) {
			return a.SetStatus(domain.AlertInReview, nil, now)
		})
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}

		b1, _ := repo.GetAlert(ctx, "ALT-B1")
		if b1.Status != domain.AlertOpen {
			t.Errorf("expected ALT-B1 to be rolled back to open, got %s", b1.Status)
		}
	})

	t.Run("ListAlerts", func(t *testing.T) {
		closed, err := repo.ListAlerts(ctx, domain.AlertFilter{Status: domain.AlertClosed})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(closed) != 2 {
			t.Errorf("expected 2 closed alerts, got %d", len(closed))
		}

		page, err := repo.ListAlerts(ctx, domain.AlertFilter{Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(page) != 1 {
			t.Errorf("expected 1 alert in page, got %d", len(page))
		}

		none, err := repo.ListAlerts(ctx, domain.AlertFilter{CreatedFrom: time.Now().UTC().Add(time.Hour)})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected no alerts created in the future, got %d", len(none))
		}
	})
}

func TestCountCustomerTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i, age := range []time.Duration{10 * time.Minute, 30 * time.Minute, 3 * time.Hour} {
		tx := &domain.Transaction{
			ID:         "V" + string(rune('1'+i)),
			CustomerID: "C7",
			Amount:     decimal.NewFromInt(100),
			Currency:   "USD",
			Type:       "transfer",
			Timestamp:  now.Add(-age),
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}

	count, err := repo.CountCustomerTransactions(ctx, "C7", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountCustomerTransactions failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 transactions in the last hour, got %d", count)
	}

	count, err = repo.CountCustomerTransactions(ctx, "nobody", now.Add(-time.Hour))
	if err != nil || count != 0 {
		t.Errorf("expected 0 for unknown customer, got %d (%v)", count, err)
	}
}
