package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

func TestSeverityLadder(t *testing.T) {
	cases := []struct {
		in, want Severity
	}{
		{SeverityLow, SeverityMedium},
		{SeverityMedium, SeverityHigh},
		{SeverityHigh, SeverityCritical},
		{SeverityCritical, SeverityCritical},
		{Severity("bogus"), SeverityLow},
	}
	for _, c := range cases {
		if got := c.in.Next(); got != c.want {
			t.Errorf("%s.Next() = %s, want %s", c.in, got, c.want)
		}
	}
	if SeverityLow.Rank() >= SeverityCritical.Rank() {
		t.Error("expected low to rank below critical")
	}
}

func TestAlertSetStatus(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	t.Run("terminal stamps resolved_at and notes", func(t *testing.T) {
		a := &Alert{AlertID: "A1", Status: AlertOpen}
		changed, err := a.SetStatus(AlertResolved, strPtr("confirmed fraud"), now)
		if err != nil || !changed {
			t.Fatalf("expected change, got changed=%v err=%v", changed, err)
		}
		if a.ResolvedAt == nil || !a.ResolvedAt.Equal(now) {
			t.Errorf("expected resolved_at %v, got %v", now, a.ResolvedAt)
		}
		if a.ResolutionNotes != "confirmed fraud" {
			t.Errorf("unexpected notes %q", a.ResolutionNotes)
		}
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		a := &Alert{AlertID: "A1", Status: AlertInReview}
		changed, err := a.SetStatus(AlertInReview, nil, now)
		if err != nil || changed {
			t.Errorf("expected no-op, got changed=%v err=%v", changed, err)
		}
	})

	t.Run("notes on non-terminal target rejected", func(t *testing.T) {
		a := &Alert{AlertID: "A1", Status: AlertOpen}
		_, err := a.SetStatus(AlertInReview, strPtr("n"), now)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if a.Status != AlertOpen {
			t.Errorf("status changed to %s", a.Status)
		}
	})

	t.Run("leaving terminal is rejected", func(t *testing.T) {
		resolved := now
		a := &Alert{AlertID: "A1", Status: AlertClosed, ResolvedAt: &resolved}
		_, err := a.SetStatus(AlertInReview, nil, now)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if a.Status != AlertClosed || a.ResolvedAt == nil {
			t.Error("alert must be unchanged after a rejected transition")
		}
	})

	t.Run("in_review back to open is rejected", func(t *testing.T) {
		a := &Alert{AlertID: "A1", Status: AlertInReview}
		if _, err := a.SetStatus(AlertOpen, nil, now); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("unknown status is invalid input", func(t *testing.T) {
		a := &Alert{AlertID: "A1", Status: AlertOpen}
		if _, err := a.SetStatus("archived", nil, now); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("resolved_at iff terminal", func(t *testing.T) {
		for _, s := range []AlertStatus{AlertInReview, AlertResolved, AlertClosed, AlertFalsePositive} {
			a := &Alert{AlertID: "A1", Status: AlertOpen}
			if _, err := a.SetStatus(s, nil, now); err != nil {
				t.Fatalf("%s: %v", s, err)
			}
			if (a.ResolvedAt != nil) != s.Terminal() {
				t.Errorf("%s: resolved_at set=%v terminal=%v", s, a.ResolvedAt != nil, s.Terminal())
			}
		}
	})
}

func TestAlertEscalate(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	a := &Alert{AlertID: "A1", Severity: SeverityHigh, Status: AlertInReview}
	a.Escalate("structuring pattern", now)
	if a.Severity != SeverityCritical {
		t.Errorf("expected critical, got %s", a.Severity)
	}
	if a.Status != AlertInReview {
		t.Errorf("escalation must not touch status, got %s", a.Status)
	}

	later := now.Add(time.Hour)
	a.Escalate("again", later)
	if a.Severity != SeverityCritical {
		t.Errorf("expected severity clamped at critical, got %s", a.Severity)
	}
	if a.EscalatedAt == nil || !a.EscalatedAt.Equal(later) {
		t.Errorf("expected escalated_at stamped at %v, got %v", later, a.EscalatedAt)
	}
	if a.Metadata.EscalationReason != "again" || len(a.Metadata.Escalations) != 2 {
		t.Errorf("unexpected escalation metadata %+v", a.Metadata)
	}
}

func TestAlertUpdateApply(t *testing.T) {
	now := time.Now().UTC()

	t.Run("notes without terminal status rejected", func(t *testing.T) {
		a := &Alert{AlertID: "A1", Status: AlertOpen}
		u := AlertUpdate{ResolutionNotes: strPtr("n")}
		if _, err := u.Apply(a, now); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("notes with non-terminal status rejected", func(t *testing.T) {
		a := &Alert{AlertID: "A1", Status: AlertOpen}
		review := AlertInReview
		u := AlertUpdate{Status: &review, ResolutionNotes: strPtr("looked at it"), AssignedTo: strPtr("U1")}
		if _, err := u.Apply(a, now); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if a.Status != AlertOpen || a.ResolutionNotes != "" || a.AssignedTo != "" {
			t.Errorf("alert must be untouched, got status=%s notes=%q assignee=%q", a.Status, a.ResolutionNotes, a.AssignedTo)
		}

		a.Status = AlertInReview
		if _, err := u.Apply(a, now); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("same non-terminal status with notes: expected ErrInvalidTransition, got %v", err)
		}
	})

	t.Run("assign on terminal alert", func(t *testing.T) {
		resolved := now
		a := &Alert{AlertID: "A1", Status: AlertClosed, ResolvedAt: &resolved}
		changed, err := AlertUpdate{AssignedTo: strPtr("U1")}.Apply(a, now)
		if err != nil || !changed || a.AssignedTo != "U1" {
			t.Errorf("expected assignment, got changed=%v err=%v assignee=%q", changed, err, a.AssignedTo)
		}
	})

	t.Run("status already set counts as unchanged", func(t *testing.T) {
		resolved := now
		a := &Alert{AlertID: "A1", Status: AlertClosed, ResolvedAt: &resolved}
		closed := AlertClosed
		changed, err := AlertUpdate{Status: &closed}.Apply(a, now)
		if err != nil || changed {
			t.Errorf("expected no change, got changed=%v err=%v", changed, err)
		}
	})
}

func TestAlertMetadataJSON(t *testing.T) {
	raw := `{"source":"evaluation","escalation_reason":"manual","model":"v3","hits":2}`

	var m AlertMetadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Source != "evaluation" || m.EscalationReason != "manual" {
		t.Errorf("unexpected known fields %+v", m)
	}
	if m.Extra["model"] != "v3" || m.Extra["hits"] != 2.0 {
		t.Errorf("unexpected extras %v", m.Extra)
	}
	if _, ok := m.Extra["source"]; ok {
		t.Error("known keys must not leak into Extra")
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var flat map[string]any
	if err := json.Unmarshal(out, &flat); err != nil {
		t.Fatalf("unmarshal flat: %v", err)
	}
	if flat["model"] != "v3" || flat["source"] != "evaluation" {
		t.Errorf("expected flattened metadata, got %v", flat)
	}
}

func TestAlertDescriptorNewAlert(t *testing.T) {
	score := 92.0
	v := &Verdict{CustomerID: "C1", TriggeredRules: []string{"R1"}, RiskScore: &score}
	a := AlertDescriptor{AlertID: "ALT-A1", Type: "large_transaction", Severity: SeverityCritical}.NewAlert(v, "TXN100")

	if a.Status != AlertOpen || a.RiskScore != 92 || a.TransactionID != "TXN100" {
		t.Errorf("unexpected alert %+v", a)
	}
	if len(a.TriggeredRules) != 1 || a.Metadata.Source != "evaluation" {
		t.Errorf("expected rules and source inherited from verdict, got %+v", a)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(ErrTransientGateway) {
		t.Error("expected gateway failure to be transient")
	}
	if IsTransient(ErrContractViolation) {
		t.Error("contract violations are permanent")
	}
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
}
