// Package alerts owns the alert workflow: creation with auto-assignment,
// status transitions, severity escalation and bulk remediation.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
)

// Store is the persistence the manager needs.
type Store interface {
	domain.AlertStore
	LeastRecentlyActiveUser(ctx context.Context, roles []string) (*domain.User, error)
}

// Manager applies alert lifecycle rules on top of the store.
type Manager struct {
	store   Store
	bus     domain.EventBus
	metrics *metrics.Collector
	now     func() time.Time
}

// NewManager creates a manager. bus and m may be nil.
func NewManager(store Store, eventBus domain.EventBus, m *metrics.Collector) *Manager {
	return &Manager{
		store:   store,
		bus:     eventBus,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new open alert and auto-assigns it to the least recently
// active eligible user. Failing to find an assignee never fails creation.
// An existing business key returns domain.ErrDuplicateAlert.
func (m *Manager) Create(ctx context.Context, a *domain.Alert) (*domain.Alert, error) {
	if err := validateNew(a); err != nil {
		return nil, err
	}

	a.Status = domain.AlertOpen
	a.ResolvedAt = nil
	a.ResolutionNotes = ""
	if a.TriggeredRules == nil {
		a.TriggeredRules = []string{}
	}

	if a.AssignedTo == "" {
		a.AssignedTo = m.pickAssignee(ctx, a.AlertID)
	}

	if err := m.store.CreateAlert(ctx, a); err != nil {
		if errors.Is(err, domain.ErrDuplicateAlert) {
			m.metrics.AlertDuplicate()
		}
		return nil, err
	}

	m.metrics.AlertCreated(string(a.Severity))
	slog.Info("alert created",
		"alert_id", a.AlertID,
		"customer_id", a.CustomerID,
		"severity", a.Severity,
		"assigned_to", a.AssignedTo,
	)
	m.publish(ctx, domain.TopicAlertCreated, domain.AlertEvent{
		AlertID:    a.AlertID,
		CustomerID: a.CustomerID,
		Severity:   a.Severity,
		AssignedTo: a.AssignedTo,
	})

	return a, nil
}

func (m *Manager) pickAssignee(ctx context.Context, alertID string) string {
	user, err := m.store.LeastRecentlyActiveUser(ctx, domain.AssignableRoles())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			slog.Warn("auto-assignment lookup failed", "alert_id", alertID, "error", err)
		}
		return ""
	}
	return user.ID
}

// Get returns one alert.
func (m *Manager) Get(ctx context.Context, alertID string) (*domain.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert id is required", domain.ErrInvalidInput)
	}
	return m.store.GetAlert(ctx, alertID)
}

// List returns alerts matching filter, newest first.
func (m *Manager) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, filter.Status)
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, fmt.Errorf("%w: unknown severity %q", domain.ErrInvalidInput, filter.Severity)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", domain.ErrInvalidInput)
	}
	return m.store.ListAlerts(ctx, filter)
}

// SetStatus moves an alert to status. Setting the current status again is
// a no-op. Terminal statuses stamp resolved_at and record notes.
func (m *Manager) SetStatus(ctx context.Context, alertID string, status domain.AlertStatus, notes *string) (*domain.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert id is required", domain.ErrInvalidInput)
	}
	now := m.now()
	return m.store.MutateAlert(ctx, alertID, func(a *domain.Alert) (bool, error) {
		return a.SetStatus(status, notes, now)
	})
}

// Escalate raises the alert's severity one step. Critical alerts stay
// critical but are still stamped. Status never changes.
func (m *Manager) Escalate(ctx context.Context, alertID, reason string) (*domain.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert id is required", domain.ErrInvalidInput)
	}
	now := m.now()
	a, err := m.store.MutateAlert(ctx, alertID, func(a *domain.Alert) (bool, error) {
		a.Escalate(reason, now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	m.escalated(ctx, a, reason)
	return a, nil
}

// BulkEscalate escalates every existing alert in alertIDs in one store
// transaction and returns how many were escalated.
func (m *Manager) BulkEscalate(ctx context.Context, alertIDs []string, reason string) (int, error) {
	if len(alertIDs) == 0 {
		return 0, fmt.Errorf("%w: alert ids are required", domain.ErrInvalidInput)
	}

	now := m.now()
	var escalated []*domain.Alert
	n, err := m.store.MutateAlerts(ctx, alertIDs, func(a *domain.Alert) (bool, error) {
		a.Escalate(reason, now)
		escalated = append(escalated, a)
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	for _, a := range escalated {
		m.escalated(ctx, a, reason)
	}
	return n, nil
}

// Assign sets the assignee. It is permitted in every status.
func (m *Manager) Assign(ctx context.Context, alertID, userID string) (*domain.Alert, error) {
	if alertID == "" {
		return nil, fmt.Errorf("%w: alert id is required", domain.ErrInvalidInput)
	}
	now := m.now()
	return m.store.MutateAlert(ctx, alertID, func(a *domain.Alert) (bool, error) {
		return a.Assign(userID, now), nil
	})
}

// BulkUpdate is a uniform partial update over a set of alerts.
type BulkUpdate struct {
	AlertIDs []string
	domain.AlertUpdate
}

// BulkUpdate applies the same field set to every existing alert in one
// store transaction and returns how many alerts changed. Unknown ids are
// not counted. Any invalid transition rolls the whole batch back.
func (m *Manager) BulkUpdate(ctx context.Context, req BulkUpdate) (int, error) {
	if len(req.AlertIDs) == 0 {
		return 0, fmt.Errorf("%w: alert ids are required", domain.ErrInvalidInput)
	}
	if req.Empty() {
		return 0, fmt.Errorf("%w: no fields to update", domain.ErrInvalidInput)
	}
	if req.Status != nil && !req.Status.Valid() {
		return 0, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, *req.Status)
	}

	now := m.now()
	n, err := m.store.MutateAlerts(ctx, req.AlertIDs, func(a *domain.Alert) (bool, error) {
		return req.Apply(a, now)
	})
	if err != nil {
		return 0, err
	}

	slog.Info("bulk alert update", "requested", len(req.AlertIDs), "modified", n)
	return n, nil
}

func (m *Manager) escalated(ctx context.Context, a *domain.Alert, reason string) {
	slog.Info("alert escalated", "alert_id", a.AlertID, "severity", a.Severity, "reason", reason)
	m.publish(ctx, domain.TopicAlertEscalated, domain.AlertEvent{
		AlertID:    a.AlertID,
		CustomerID: a.CustomerID,
		Severity:   a.Severity,
		AssignedTo: a.AssignedTo,
		Reason:     reason,
	})
}

func (m *Manager) publish(ctx context.Context, topic string, event any) {
	if err := bus.PublishJSON(ctx, m.bus, topic, event); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}

func validateNew(a *domain.Alert) error {
	if a == nil {
		return fmt.Errorf("%w: alert is required", domain.ErrInvalidInput)
	}
	if a.AlertID == "" {
		return fmt.Errorf("%w: alert_id is required", domain.ErrInvalidInput)
	}
	if a.CustomerID == "" {
		return fmt.Errorf("%w: alert %s has no customer", domain.ErrInvalidInput, a.AlertID)
	}
	if a.Type == "" {
		return fmt.Errorf("%w: alert %s has no type", domain.ErrInvalidInput, a.AlertID)
	}
	if !a.Severity.Valid() {
		return fmt.Errorf("%w: alert %s has unknown severity %q", domain.ErrInvalidInput, a.AlertID, a.Severity)
	}
	return nil
}
