package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/heron/internal/alerts"
	"github.com/opensource-finance/heron/internal/domain"
)

// ListAlerts handles GET /alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AlertFilter{
		Status:     domain.AlertStatus(q.Get("status")),
		Severity:   domain.Severity(q.Get("severity")),
		Type:       q.Get("type"),
		AssignedTo: q.Get("assigned_to"),
		CustomerID: q.Get("customer_id"),
	}

	var err error
	if filter.CreatedFrom, err = queryTime(r, "created_from"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.CreatedTo, err = queryTime(r, "created_to"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		h.writeError(w, r, err)
		return
	}

	list, err := h.deps.Alerts.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Alert{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": list,
		"count":  len(list),
	})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.deps.Alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// StatusRequest is the request body for PUT /alerts/{id}/status.
type StatusRequest struct {
	Status domain.AlertStatus `json:"status" validate:"required"`
	Notes  *string            `json:"notes,omitempty"`
}

// UpdateAlertStatus handles PUT /alerts/{id}/status.
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.deps.Alerts.SetStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Notes)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// EscalateRequest is the request body for POST /alerts/{id}/escalate.
type EscalateRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// EscalateAlert handles POST /alerts/{id}/escalate.
func (h *Handler) EscalateAlert(w http.ResponseWriter, r *http.Request) {
	var req EscalateRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.deps.Alerts.Escalate(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// AssignRequest is the request body for POST /alerts/{id}/assign.
type AssignRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// AssignAlert handles POST /alerts/{id}/assign.
func (h *Handler) AssignAlert(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.deps.Alerts.Assign(r.Context(), chi.URLParam(r, "id"), req.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// BulkUpdateRequest is the request body for POST /alerts/bulk.
type BulkUpdateRequest struct {
	AlertIDs   []string            `json:"alertIds" validate:"required,min=1,dive,required"`
	Status     *domain.AlertStatus `json:"status,omitempty"`
	AssignedTo *string             `json:"assignedTo,omitempty"`
	Notes      *string             `json:"notes,omitempty"`
}

// BulkUpdateAlerts handles POST /alerts/bulk.
func (h *Handler) BulkUpdateAlerts(w http.ResponseWriter, r *http.Request) {
	var req BulkUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}

	n, err := h.deps.Alerts.BulkUpdate(r.Context(), alerts.BulkUpdate{
		AlertIDs: req.AlertIDs,
		AlertUpdate: domain.AlertUpdate{
			Status:          req.Status,
			AssignedTo:      req.AssignedTo,
			ResolutionNotes: req.Notes,
		},
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

// BulkEscalateRequest is the request body for POST /alerts/escalate.
type BulkEscalateRequest struct {
	AlertIDs []string `json:"alertIds" validate:"required,min=1,dive,required"`
	Reason   string   `json:"reason" validate:"required"`
}

// BulkEscalateAlerts handles POST /alerts/escalate.
func (h *Handler) BulkEscalateAlerts(w http.ResponseWriter, r *http.Request) {
	var req BulkEscalateRequest
	if !h.decode(w, r, &req) {
		return
	}

	n, err := h.deps.Alerts.BulkEscalate(r.Context(), req.AlertIDs, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"escalated": n})
}

// AlertSummary handles GET /alerts/summary.
func (h *Handler) AlertSummary(w http.ResponseWriter, r *http.Request) {
	s, err := h.deps.Analytics.Summary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// AlertAnalytics handles GET /alerts/analytics?start=&end=.
func (h *Handler) AlertAnalytics(w http.ResponseWriter, r *http.Request) {
	start, err := optionalTime(r, "start")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := optionalTime(r, "end")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	report, err := h.deps.Analytics.Analytics(r.Context(), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func optionalTime(r *http.Request, name string) (*time.Time, error) {
	t, err := queryTime(r, name)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}
