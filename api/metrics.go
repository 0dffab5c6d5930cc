package api

import (
	"net/http"
	"strconv"

	"github.com/garnizeh/taskgate/internal/apperr"
	"github.com/garnizeh/taskgate/internal/metrics"
)

type MetricsHandler struct {
	agg *metrics.Aggregator
}

func NewMetricsHandler(agg *metrics.Aggregator) *MetricsHandler {
	return &MetricsHandler{agg: agg}
}

// UserMetrics returns a user's daily rows. Workers may only read their own.
func (h *MetricsHandler) UserMetrics(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	userID, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if userID != actor.UserID && !actor.CanAudit() && !actor.CanOperate() {
		writeError(w, r, apperr.Denied(apperr.ReasonForbiddenRole, "workers may only read their own metrics", 0))
		return
	}
	q := r.URL.Query()
	s, err := h.agg.UserMetrics(r.Context(), userID, q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, s, http.StatusOK)
}

func (h *MetricsHandler) ListFlags(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	if err := actor.Require(actor.CanAudit(), "list flags"); err != nil {
		writeError(w, r, err)
		return
	}

	var resolved *bool
	if raw := r.URL.Query().Get("resolved"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, apperr.Validation("invalid_query", "resolved must be true or false"))
			return
		}
		resolved = &v
	}
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if offset < 0 {
		offset = 0
	}

	flags, err := h.agg.ListFlags(r.Context(), resolved, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	visible := flags[:0]
	for _, f := range flags {
		if actor.InScope(f.CategoryID) {
			visible = append(visible, f)
		}
	}
	writeJSON(w, map[string]any{"limit": limit, "offset": offset, "items": visible}, http.StatusOK)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (h *MetricsHandler) ResolveFlag(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := h.agg.ResolveFlag(r.Context(), actor, id, req.Resolution)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, f, http.StatusOK)
}
