package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity is the totally ordered alert severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityLadder is the escalation order, lowest first.
var severityLadder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank returns the position of s on the escalation ladder, or -1 if unknown.
func (s Severity) Rank() int {
	for i, v := range severityLadder {
		if v == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// Next returns the severity one step up the ladder, clamped at critical.
func (s Severity) Next() Severity {
	r := s.Rank()
	if r < 0 {
		return SeverityLow
	}
	if r >= len(severityLadder)-1 {
		return SeverityCritical
	}
	return severityLadder[r+1]
}

// AlertStatus is the workflow state of an alert.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "open"
	AlertInReview      AlertStatus = "in_review"
	AlertResolved      AlertStatus = "resolved"
	AlertClosed        AlertStatus = "closed"
	AlertFalsePositive AlertStatus = "false_positive"
)

// Valid reports whether s is a known alert status.
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertOpen, AlertInReview, AlertResolved, AlertClosed, AlertFalsePositive:
		return true
	}
	return false
}

// Terminal reports whether s ends the alert workflow.
func (s AlertStatus) Terminal() bool {
	return s == AlertResolved || s == AlertClosed || s == AlertFalsePositive
}

// Alert is a compliance alert raised from an evaluation verdict.
// Alerts are never deleted; closure is the terminal state.
type Alert struct {
	// ID is the internal storage identifier.
	ID string `json:"id"`
	// AlertID is the globally unique business key used for deduplication.
	AlertID string `json:"alertId"`

	CustomerID    string `json:"customerId"`
	TransactionID string `json:"transactionId,omitempty"`

	Type        string      `json:"type"`
	Severity    Severity    `json:"severity"`
	Status      AlertStatus `json:"status"`
	Description string      `json:"description"`

	RiskScore      float64  `json:"riskScore"`
	TriggeredRules []string `json:"triggeredRules"`

	AssignedTo  string     `json:"assignedTo,omitempty"`
	EscalatedAt *time.Time `json:"escalatedAt,omitempty"`

	// ResolvedAt is set if and only if Status is terminal.
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`

	Metadata AlertMetadata `json:"metadata"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SetStatus moves the alert to status. Setting the current status again is
// a no-op. Terminal states stamp ResolvedAt and record notes; leaving a
// terminal state is not allowed, and notes are only accepted alongside a
// terminal status. It reports whether the alert changed.
func (a *Alert) SetStatus(status AlertStatus, notes *string, now time.Time) (bool, error) {
	if !status.Valid() {
		return false, fmt.Errorf("%w: unknown alert status %q", ErrInvalidInput, status)
	}
	if notes != nil && !status.Terminal() {
		return false, fmt.Errorf("%w: resolution notes require a terminal status (alert %s to %s)", ErrInvalidTransition, a.AlertID, status)
	}

	if status == a.Status {
		if status.Terminal() && notes != nil && *notes != a.ResolutionNotes {
			a.ResolutionNotes = *notes
			a.UpdatedAt = now
			return true, nil
		}
		return false, nil
	}

	if a.Status.Terminal() {
		return false, fmt.Errorf("%w: alert %s is %s", ErrInvalidTransition, a.AlertID, a.Status)
	}
	if status == AlertOpen {
		return false, fmt.Errorf("%w: alert %s cannot return to open", ErrInvalidTransition, a.AlertID)
	}

	a.Status = status
	if status.Terminal() {
		resolved := now
		a.ResolvedAt = &resolved
		if notes != nil {
			a.ResolutionNotes = *notes
		}
	}
	a.UpdatedAt = now
	return true, nil
}

// Escalate raises severity one step (clamped at critical), stamps
// EscalatedAt and records the reason. Status is never touched.
func (a *Alert) Escalate(reason string, now time.Time) {
	from := a.Severity
	a.Severity = a.Severity.Next()

	at := now
	a.EscalatedAt = &at
	a.Metadata.EscalationReason = reason
	a.Metadata.Escalations = append(a.Metadata.Escalations, Escalation{
		From:   from,
		To:     a.Severity,
		Reason: reason,
		At:     now,
	})
	a.UpdatedAt = now
}

// Assign sets the assignee. It reports whether the assignee changed.
func (a *Alert) Assign(userID string, now time.Time) bool {
	if a.AssignedTo == userID {
		return false
	}
	a.AssignedTo = userID
	a.UpdatedAt = now
	return true
}

// AlertMetadata holds the known alert metadata fields plus an opaque
// passthrough bag for anything the rule engine attaches.
type AlertMetadata struct {
	Source           string         `json:"source,omitempty"`
	EscalationReason string         `json:"escalation_reason,omitempty"`
	Escalations      []Escalation   `json:"escalations,omitempty"`
	Extra            map[string]any `json:"-"`
}

// Escalation records a single severity escalation.
type Escalation struct {
	From   Severity  `json:"from"`
	To     Severity  `json:"to"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

type alertMetadataKnown struct {
	Source           string       `json:"source,omitempty"`
	EscalationReason string       `json:"escalation_reason,omitempty"`
	Escalations      []Escalation `json:"escalations,omitempty"`
}

var knownMetadataKeys = map[string]bool{
	"source":            true,
	"escalation_reason": true,
	"escalations":       true,
}

// MarshalJSON flattens Extra alongside the known fields.
func (m AlertMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		if !knownMetadataKeys[k] {
			out[k] = v
		}
	}
	if m.Source != "" {
		out["source"] = m.Source
	}
	if m.EscalationReason != "" {
		out["escalation_reason"] = m.EscalationReason
	}
	if len(m.Escalations) > 0 {
		out["escalations"] = m.Escalations
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits known fields from the passthrough bag.
func (m *AlertMetadata) UnmarshalJSON(data []byte) error {
	var known alertMetadataKnown
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Source = known.Source
	m.EscalationReason = known.EscalationReason
	m.Escalations = known.Escalations
	m.Extra = nil
	for k, v := range raw {
		if knownMetadataKeys[k] {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = v
	}
	return nil
}

// AlertFilter narrows alert listings. Zero values are ignored.
type AlertFilter struct {
	Status      AlertStatus
	Severity    Severity
	Type        string
	AssignedTo  string
	CustomerID  string
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
	Offset      int
}

// AlertUpdate is a partial field set applied uniformly by bulk updates.
type AlertUpdate struct {
	Status          *AlertStatus
	AssignedTo      *string
	ResolutionNotes *string
}

// Empty reports whether no field is set.
func (u AlertUpdate) Empty() bool {
	return u.Status == nil && u.AssignedTo == nil && u.ResolutionNotes == nil
}

// Apply applies the update to a. Notes are only accepted together with a
// terminal status or on an already terminal alert.
func (u AlertUpdate) Apply(a *Alert, now time.Time) (bool, error) {
	changed := false

	if u.Status != nil {
		c, err := a.SetStatus(*u.Status, u.ResolutionNotes, now)
		if err != nil {
			return false, err
		}
		changed = changed || c
	} else if u.ResolutionNotes != nil {
		if !a.Status.Terminal() {
			return false, fmt.Errorf("%w: resolution notes require a terminal status (alert %s is %s)", ErrInvalidTransition, a.AlertID, a.Status)
		}
		if a.ResolutionNotes != *u.ResolutionNotes {
			a.ResolutionNotes = *u.ResolutionNotes
			a.UpdatedAt = now
			changed = true
		}
	}

	if u.AssignedTo != nil {
		changed = a.Assign(*u.AssignedTo, now) || changed
	}

	return changed, nil
}
