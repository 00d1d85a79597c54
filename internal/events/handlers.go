package events

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-quoting/internal/common"
)

// Handler exposes the event history for staff tooling.
type Handler struct {
	Store *PGStore
}

// List handles GET /api/v1/staff/quotes/{quoteID}/events.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "event store not configured", nil)
		return
	}
	quoteID := strings.TrimSpace(chi.URLParam(r, "quoteID"))
	if quoteID == "" {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "quote id is required", nil)
		return
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 1000 {
			common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be between 1 and 1000", nil)
			return
		}
		limit = parsed
	}
	list, err := h.Store.ListByAggregate(r.Context(), quoteID, limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	if list == nil {
		list = []DomainEvent{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": list})
}
