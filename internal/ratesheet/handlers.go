package ratesheet

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-quoting/internal/common"
	"github.com/noah-isme/backend-quoting/internal/pricing"
)

// Handler exposes rate sheet endpoints.
type Handler struct {
	Service *Service
}

// Get handles GET /api/v1/ratesheets/{styleNumber}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "ratesheet service not configured", nil)
		return
	}
	sheet, err := h.Service.Get(r.Context(), chi.URLParam(r, "styleNumber"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sheet})
}

// Refresh handles POST /api/v1/staff/ratesheets/{styleNumber}/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "ratesheet service not configured", nil)
		return
	}
	sheet, err := h.Service.Refresh(r.Context(), chi.URLParam(r, "styleNumber"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": sheet})
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrStyleNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "no rate sheet for style", nil)
	case errors.Is(err, ErrOriginUnavailable):
		common.JSONError(w, http.StatusBadGateway, "ORIGIN_UNAVAILABLE", "pricing origin unavailable", nil)
	case errors.Is(err, pricing.ErrTierTableEmpty), errors.Is(err, pricing.ErrTableMalformed):
		common.JSONError(w, http.StatusUnprocessableEntity, "MALFORMED_SHEET", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
