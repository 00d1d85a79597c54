package quote

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/backend-quoting/internal/common"
	"github.com/noah-isme/backend-quoting/internal/pricing"
	"github.com/noah-isme/backend-quoting/internal/ratesheet"
)

// Handler wires the quote service to HTTP.
type Handler struct {
	Svc      *Service
	Validate *validator.Validate
}

// Price handles POST /api/v1/quotes/price: an ephemeral computation with
// no side effects.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote service not configured", nil)
		return
	}
	var req PriceRequest
	if !h.decode(w, r, &req) {
		return
	}
	breakdown, err := h.Svc.Price(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": breakdown})
}

// Create handles POST /api/v1/quotes.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote service not configured", nil)
		return
	}
	var req CreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	quote, err := h.Svc.Create(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": quote})
}

// Get handles GET /api/v1/quotes/{quoteID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	quote, err := h.Svc.Get(r.Context(), chi.URLParam(r, "quoteID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

// AddLine handles POST /api/v1/quotes/{quoteID}/lines.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	var line LineInput
	if !h.decode(w, r, &line) {
		return
	}
	quote, err := h.Svc.AddLine(r.Context(), chi.URLParam(r, "quoteID"), line)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

// UpdateLine handles PUT /api/v1/quotes/{quoteID}/lines/{lineNumber}.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	lineNumber, ok := h.lineNumber(w, r)
	if !ok {
		return
	}
	var line LineInput
	if !h.decode(w, r, &line) {
		return
	}
	quote, err := h.Svc.UpdateLine(r.Context(), chi.URLParam(r, "quoteID"), lineNumber, line)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

// RemoveLine handles DELETE /api/v1/quotes/{quoteID}/lines/{lineNumber}.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	lineNumber, ok := h.lineNumber(w, r)
	if !ok {
		return
	}
	quote, err := h.Svc.RemoveLine(r.Context(), chi.URLParam(r, "quoteID"), lineNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

// Finalize handles POST /api/v1/quotes/{quoteID}/finalize.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	quote, err := h.Svc.Finalize(r.Context(), chi.URLParam(r, "quoteID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

// SetFees handles PUT /api/v1/staff/quotes/{quoteID}/fees: staff apply
// rush/art/sample charges or a discount and the quote re-prices.
func (h *Handler) SetFees(w http.ResponseWriter, r *http.Request) {
	var extras pricing.ExtraFees
	if !h.decode(w, r, &extras) {
		return
	}
	if extras.RushFee < 0 || extras.ArtCharge < 0 || extras.SampleFee < 0 || extras.Discount < 0 {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "fee amounts must be non-negative", nil)
		return
	}
	quote, err := h.Svc.SetExtras(r.Context(), chi.URLParam(r, "quoteID"), extras)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": quote})
}

// List handles GET /api/v1/staff/quotes.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20)
	filter := ListFilter{
		Status:  Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		Email:   strings.TrimSpace(r.URL.Query().Get("email")),
		Page:    page,
		PerPage: perPage,
	}
	sessions, total, err := h.Svc.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":       sessions,
		"pagination": common.Pagination{Page: page, PerPage: perPage, TotalItems: int(total)},
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON", nil)
		return false
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(dst); err != nil {
			var verrs validator.ValidationErrors
			details := map[string]any{}
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					details[fe.Field()] = fe.Tag()
				}
			}
			common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "request validation failed", details)
			return false
		}
	}
	return true
}

func (h *Handler) lineNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, "lineNumber"))
	if err != nil || n < 1 {
		common.JSONError(w, http.StatusBadRequest, "INVALID_INPUT", "line number must be a positive integer", nil)
		return 0, false
	}
	return n, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := appErr.Code
		if code == "" {
			code = "INTERNAL"
		}
		common.JSONError(w, status, code, appErr.Message, appErr.Details)
		return
	}
	switch {
	case errors.Is(err, ratesheet.ErrStyleNotFound):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNKNOWN_STYLE", "no rate sheet for style", nil)
	case errors.Is(err, ratesheet.ErrOriginUnavailable):
		common.JSONError(w, http.StatusBadGateway, "ORIGIN_UNAVAILABLE", "pricing origin unavailable", nil)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "quote not found", nil)
	case errors.Is(err, ErrNotEditable):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "quote is not editable", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
