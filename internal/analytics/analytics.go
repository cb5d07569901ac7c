// Package analytics computes read-only alert summaries and trends. It can
// run against a read replica.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// TrendDays is the number of daily buckets in Analytics.
const TrendDays = 30

// Aggregator computes alert statistics from the store.
type Aggregator struct {
	store domain.AlertReader
	now   func() time.Time
}

// New creates an aggregator over store.
func New(store domain.AlertReader) *Aggregator {
	return &Aggregator{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Summary is the dashboard headline.
type Summary struct {
	Total    int `json:"total"`
	Open     int `json:"open"`
	Critical int `json:"critical"`
	High     int `json:"high"`

	Last24h Trend `json:"last24hTrend"`
}

// Trend compares alert creation in the last 24 hours with the 24 hours
// before.
type Trend struct {
	Current       int     `json:"current"`
	Previous      int     `json:"previous"`
	ChangePercent float64 `json:"changePercent"`
}

// Report is the full analytics view over a window.
type Report struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Total                int            `json:"total"`
	ByStatus             map[string]int `json:"totals"`
	SeverityDistribution map[string]int `json:"severityDistribution"`
	TypeDistribution     map[string]int `json:"typeDistribution"`

	Trend []DayBucket `json:"trend"`

	// AvgResolutionHours averages resolved_at - created_at over alerts
	// that have resolved_at; zero when none do.
	AvgResolutionHours float64 `json:"avgResolutionHours"`
	ResolvedCount      int     `json:"resolvedCount"`
}

// DayBucket counts one UTC calendar day.
type DayBucket struct {
	Date     string `json:"date"`
	Created  int    `json:"created"`
	Resolved int    `json:"resolved"`
}

// Summary counts alerts. Open, Critical and High count alerts that are not
// in a terminal status.
func (a *Aggregator) Summary(ctx context.Context) (*Summary, error) {
	alerts, err := a.store.ListAlerts(ctx, domain.AlertFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}

	now := a.now()
	dayAgo := now.Add(-24 * time.Hour)
	twoDaysAgo := now.Add(-48 * time.Hour)

	s := &Summary{Total: len(alerts)}
	for _, al := range alerts {
		if !al.Status.Terminal() {
			s.Open++
			switch al.Severity {
			case domain.SeverityCritical:
				s.Critical++
			case domain.SeverityHigh:
				s.High++
			}
		}

		created := al.CreatedAt
		switch {
		case !created.Before(dayAgo) && !created.After(now):
			s.Last24h.Current++
		case !created.Before(twoDaysAgo) && created.Before(dayAgo):
			s.Last24h.Previous++
		}
	}
	s.Last24h.ChangePercent = changePercent(s.Last24h.Current, s.Last24h.Previous)
	return s, nil
}

// Analytics aggregates alerts created in [start, end). Nil bounds default
// to the last TrendDays days. The trend always covers the TrendDays
// calendar days ending on end's day.
func (a *Aggregator) Analytics(ctx context.Context, start, end *time.Time) (*Report, error) {
	to := a.now()
	if end != nil {
		to = end.UTC()
	}
	from := to.AddDate(0, 0, -TrendDays)
	if start != nil {
		from = start.UTC()
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: start must be before end", domain.ErrInvalidInput)
	}

	// Resolutions inside the trend can belong to alerts created before the
	// window, so only the upper bound is pushed to the store.
	alerts, err := a.store.ListAlerts(ctx, domain.AlertFilter{CreatedTo: to})
	if err != nil {
		return nil, fmt.Errorf("failed to load alerts: %w", err)
	}

	r := &Report{
		Start:                from,
		End:                  to,
		ByStatus:             make(map[string]int),
		SeverityDistribution: make(map[string]int),
		TypeDistribution:     make(map[string]int),
	}

	lastDay := truncateDay(to)
	firstDay := lastDay.AddDate(0, 0, -(TrendDays - 1))
	r.Trend = make([]DayBucket, TrendDays)
	for i := range r.Trend {
		r.Trend[i].Date = firstDay.AddDate(0, 0, i).Format("2006-01-02")
	}
	bucket := func(t time.Time) int {
		d := truncateDay(t)
		if d.Before(firstDay) || d.After(lastDay) {
			return -1
		}
		return int(d.Sub(firstDay).Hours() / 24)
	}

	var resolutionHours float64
	for _, al := range alerts {
		if i := bucket(al.CreatedAt); i >= 0 {
			r.Trend[i].Created++
		}
		if al.ResolvedAt != nil && (al.Status == domain.AlertResolved || al.Status == domain.AlertClosed) {
			if i := bucket(*al.ResolvedAt); i >= 0 && !al.ResolvedAt.After(to) {
				r.Trend[i].Resolved++
			}
		}

		if al.CreatedAt.Before(from) {
			continue
		}
		r.Total++
		r.ByStatus[string(al.Status)]++
		r.SeverityDistribution[string(al.Severity)]++
		r.TypeDistribution[al.Type]++

		if al.ResolvedAt != nil {
			resolutionHours += al.ResolvedAt.Sub(al.CreatedAt).Hours()
			r.ResolvedCount++
		}
	}

	if r.ResolvedCount > 0 {
		r.AvgResolutionHours = resolutionHours / float64(r.ResolvedCount)
	}
	return r, nil
}

func changePercent(current, previous int) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return float64(current-previous) / float64(previous) * 100
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
