package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-quoting/internal/common"
	"github.com/noah-isme/backend-quoting/internal/quote"
)

// QuoteSource loads a quote with its saved breakdown.
type QuoteSource interface {
	Get(ctx context.Context, quoteID string) (*quote.Quote, error)
}

// Handler serves the printable quote document.
type Handler struct {
	Quotes QuoteSource
}

// Document handles GET /api/v1/quotes/{quoteID}/document.
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Quotes == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "export handler not configured", nil)
		return
	}
	q, err := h.Quotes.Get(r.Context(), chi.URLParam(r, "quoteID"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", q.Session.QuoteID+".txt"))
	_, _ = io.WriteString(w, Document(q))
}

func writeError(w http.ResponseWriter, err error) {
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
	if errors.Is(err, quote.ErrNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "quote not found", nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
