package analytics

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

type memReader struct {
	alerts []*domain.Alert
}

func (m *memReader) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	for _, a := range m.alerts {
		if a.AlertID == alertID {
			return a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memReader) ListAlerts(ctx context.Context, f domain.AlertFilter) ([]*domain.Alert, error) {
	var out []*domain.Alert
	for _, a := range m.alerts {
		if !f.CreatedTo.IsZero() && !a.CreatedAt.Before(f.CreatedTo) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

var now = time.Date(2026, 6, 30, 12, 0, 0, 0, time.UTC)

func alertAt(id string, created time.Time, sev domain.Severity, status domain.AlertStatus, resolved *time.Time) *domain.Alert {
	return &domain.Alert{
		AlertID:    id,
		Type:       "structuring",
		Severity:   sev,
		Status:     status,
		CreatedAt:  created,
		ResolvedAt: resolved,
	}
}

func ptr(t time.Time) *time.Time { return &t }

func newAggregator(alerts ...*domain.Alert) *Aggregator {
	a := New(&memReader{alerts: alerts})
	a.now = func() time.Time { return now }
	return a
}

func TestSummary(t *testing.T) {
	agg := newAggregator(
		alertAt("A1", now.Add(-1*time.Hour), domain.SeverityCritical, domain.AlertOpen, nil),
		alertAt("A2", now.Add(-2*time.Hour), domain.SeverityHigh, domain.AlertInReview, nil),
		alertAt("A3", now.Add(-30*time.Hour), domain.SeverityCritical, domain.AlertClosed, ptr(now.Add(-29*time.Hour))),
		alertAt("A4", now.Add(-72*time.Hour), domain.SeverityLow, domain.AlertOpen, nil),
	)

	s, err := agg.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}

	if s.Total != 4 || s.Open != 3 || s.Critical != 1 || s.High != 1 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.Last24h.Current != 2 || s.Last24h.Previous != 1 {
		t.Errorf("unexpected trend %+v", s.Last24h)
	}
	if s.Last24h.ChangePercent != 100 {
		t.Errorf("expected +100%%, got %v", s.Last24h.ChangePercent)
	}
}

func TestChangePercent(t *testing.T) {
	cases := []struct {
		cur, prev int
		want      float64
	}{
		{0, 0, 0},
		{3, 0, 100},
		{1, 4, -75},
		{6, 4, 50},
	}
	for _, tc := range cases {
		if got := changePercent(tc.cur, tc.prev); got != tc.want {
			t.Errorf("changePercent(%d, %d) = %v, want %v", tc.cur, tc.prev, got, tc.want)
		}
	}
}

func TestAnalytics(t *testing.T) {
	agg := newAggregator(
		// Resolved after 10 hours, created 3 days ago.
		alertAt("R1", now.AddDate(0, 0, -3), domain.SeverityHigh, domain.AlertResolved, ptr(now.AddDate(0, 0, -3).Add(10*time.Hour))),
		// Closed after 20 hours, created today.
		alertAt("R2", now.Add(-21*time.Hour), domain.SeverityLow, domain.AlertClosed, ptr(now.Add(-1*time.Hour))),
		// False positive: counts for resolution time, not as resolved in the trend.
		alertAt("R3", now.Add(-5*time.Hour), domain.SeverityLow, domain.AlertFalsePositive, ptr(now.Add(-3*time.Hour))),
		// Still open: no effect on the average.
		alertAt("O1", now.Add(-2*time.Hour), domain.SeverityCritical, domain.AlertOpen, nil),
		// Outside the default window but resolved inside the trend.
		alertAt("OLD", now.AddDate(0, 0, -40), domain.SeverityMedium, domain.AlertResolved, ptr(now.AddDate(0, 0, -2))),
	)

	r, err := agg.Analytics(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Analytics failed: %v", err)
	}

	if r.Total != 4 {
		t.Errorf("expected 4 alerts in window, got %d", r.Total)
	}
	if r.ByStatus["resolved"] != 1 || r.ByStatus["closed"] != 1 || r.ByStatus["open"] != 1 {
		t.Errorf("unexpected status totals %v", r.ByStatus)
	}
	if r.SeverityDistribution["low"] != 2 || r.TypeDistribution["structuring"] != 4 {
		t.Errorf("unexpected distributions %v %v", r.SeverityDistribution, r.TypeDistribution)
	}

	// (10 + 20 + 2) / 3
	if r.ResolvedCount != 3 || math.Abs(r.AvgResolutionHours-32.0/3) > 1e-9 {
		t.Errorf("unexpected resolution average %v over %d", r.AvgResolutionHours, r.ResolvedCount)
	}

	if len(r.Trend) != TrendDays {
		t.Fatalf("expected %d buckets, got %d", TrendDays, len(r.Trend))
	}
	last := r.Trend[TrendDays-1]
	if last.Date != "2026-06-30" {
		t.Errorf("expected last bucket on end day, got %s", last.Date)
	}

	created, resolved := 0, 0
	for _, b := range r.Trend {
		created += b.Created
		resolved += b.Resolved
	}
	if created != 4 {
		t.Errorf("expected 4 created in trend, got %d", created)
	}
	if resolved != 3 {
		t.Errorf("expected 3 resolved-or-closed in trend, got %d", resolved)
	}
}

func TestAnalyticsWindow(t *testing.T) {
	agg := newAggregator(
		alertAt("A", now.AddDate(0, 0, -10), domain.SeverityLow, domain.AlertOpen, nil),
		alertAt("B", now.AddDate(0, 0, -1), domain.SeverityLow, domain.AlertOpen, nil),
	)

	start := now.AddDate(0, 0, -5)
	r, err := agg.Analytics(context.Background(), &start, nil)
	if err != nil {
		t.Fatalf("Analytics failed: %v", err)
	}
	if r.Total != 1 {
		t.Errorf("expected 1 alert after start, got %d", r.Total)
	}
	if r.AvgResolutionHours != 0 {
		t.Errorf("expected zero average with no resolutions, got %v", r.AvgResolutionHours)
	}

	end := start.Add(-time.Hour)
	if _, err := agg.Analytics(context.Background(), &start, &end); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
