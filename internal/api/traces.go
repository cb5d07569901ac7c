package api

import (
	"net/http"
	"time"

	"github.com/opensource-finance/heron/internal/docstore"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/normalize"
)

type traceItem struct {
	ID          string              `json:"id"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
	Trace       *normalize.Trace    `json:"trace,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// ListTraces handles GET /traces. Each trace is returned with its
// normalized transaction, or the reason it cannot be normalized.
func (h *Handler) ListTraces(w http.ResponseWriter, r *http.Request) {
	if h.deps.Traces == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "document store not configured"})
		return
	}

	q, err := traceQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	records, err := h.deps.Traces.FindTraces(r.Context(), q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	items := make([]traceItem, 0, len(records))
	for _, rec := range records {
		item := traceItem{ID: rec.ID, Trace: rec.Trace}
		if rec.Err != nil {
			item.Error = rec.Err.Error()
		} else if tx, err := normalize.TraceTransaction(rec.Trace); err != nil {
			item.Error = err.Error()
		} else {
			item.Transaction = tx
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"traces": items,
		"count":  len(items),
	})
}

// IngestRequest is the request body for POST /traces/ingest.
type IngestRequest struct {
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	StatusCode string     `json:"statusCode,omitempty"`
	Search     string     `json:"search,omitempty"`
	Limit      int        `json:"limit,omitempty" validate:"gte=0,lte=1000"`
	Offset     int        `json:"offset,omitempty" validate:"gte=0"`
	Submit     bool       `json:"submit"`
}

// IngestTraces handles POST /traces/ingest.
func (h *Handler) IngestTraces(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if !h.decode(w, r, &req) {
		return
	}

	q := docstore.Query{
		StatusCode: req.StatusCode,
		Search:     req.Search,
		Limit:      req.Limit,
		Offset:     req.Offset,
	}
	if req.From != nil {
		q.From = *req.From
	}
	if req.To != nil {
		q.To = *req.To
	}

	report, err := h.deps.Pipeline.IngestTraces(r.Context(), q, req.Submit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func traceQuery(r *http.Request) (docstore.Query, error) {
	var q docstore.Query
	var err error

	if q.From, err = queryTime(r, "from"); err != nil {
		return q, err
	}
	if q.To, err = queryTime(r, "to"); err != nil {
		return q, err
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		return q, err
	}
	if q.Offset, err = queryInt(r, "offset"); err != nil {
		return q, err
	}
	q.StatusCode = r.URL.Query().Get("status")
	q.Search = r.URL.Query().Get("search")
	return q, nil
}
