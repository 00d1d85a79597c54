package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/noah-isme/backend-quoting/internal/common"
)

// Handler serves the staff account endpoints. Tokens ride in HttpOnly
// cookies for the storefront admin and in the JSON body for API
// clients that prefer bearer headers.
type Handler struct {
	Service           *Service
	AccessCookieName  string
	RefreshCookieName string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) serviceReady(w http.ResponseWriter) bool {
	if h.Service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "auth service not configured", nil)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return false
	}
	return true
}

// Register handles POST /api/v1/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	if !h.serviceReady(w) {
		return
	}
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := h.Service.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": user})
}

// Login handles POST /api/v1/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if !h.serviceReady(w) {
		return
	}
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.Service.Login(r.Context(), req.Email, req.Password, r.UserAgent(), clientIP(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.setTokenCookies(w, result.AccessToken, result.AccessExpiry, result.RefreshToken, result.RefreshExpiry)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"user":                    result.User,
			"access_token":            result.AccessToken,
			"access_token_expires_at": result.AccessExpiry,
		},
	})
}

// Refresh handles POST /api/v1/auth/refresh. A failed rotation clears
// both cookies so a stolen refresh token cannot be retried from the
// same browser session.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !h.serviceReady(w) {
		return
	}
	refreshToken := h.refreshTokenFromRequest(r)
	if refreshToken == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing refresh token", nil)
		return
	}
	result, err := h.Service.Refresh(r.Context(), refreshToken)
	if err != nil {
		h.clearAuthCookies(w)
		h.writeError(w, err)
		return
	}
	h.setTokenCookies(w, result.AccessToken, result.AccessExpiry, result.RefreshToken, result.RefreshExpiry)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"access_token":            result.AccessToken,
			"access_token_expires_at": result.AccessExpiry,
		},
	})
}

// Logout handles POST /api/v1/auth/logout. Revocation is best effort;
// cookies are cleared regardless.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if !h.serviceReady(w) {
		return
	}
	if refreshToken := h.refreshTokenFromRequest(r); refreshToken != "" {
		_ = h.Service.Logout(r.Context(), refreshToken)
	}
	h.clearAuthCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	if !h.serviceReady(w) {
		return
	}
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token", nil)
		return
	}
	user, err := h.Service.Me(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": user})
}

// ForgotPassword handles POST /api/v1/auth/password/forgot. The
// response never reveals whether the email exists; when email sending
// is disabled the token rides in meta for manual handover.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if !h.serviceReady(w) {
		return
	}
	var req forgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.Service.InitiatePasswordReset(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	response := map[string]any{"data": map[string]any{"message": "if the email exists, a reset link has been sent"}}
	if result.Token != "" {
		response["meta"] = map[string]any{"reset_token": result.Token, "expires_at": result.ExpiresAt}
	}
	common.JSON(w, http.StatusAccepted, response)
}

// ResetPassword handles POST /api/v1/auth/password/reset.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if !h.serviceReady(w) {
		return
	}
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "token is required", nil)
		return
	}
	if err := h.Service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		h.writeError(w, err)
		return
	}
	h.clearAuthCookies(w)
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{"message": "password updated"}})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if !errors.As(err, &appErr) {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
		return
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	code := appErr.Code
	if code == "" {
		code = "INTERNAL"
	}
	message := appErr.Message
	if message == "" {
		message = "internal error"
	}
	common.JSONError(w, status, code, message, appErr.Details)
}

func (h *Handler) setTokenCookies(w http.ResponseWriter, access string, accessExpiry time.Time, refresh string, refreshExpiry time.Time) {
	h.writeCookie(w, h.AccessCookieName, access, accessExpiry)
	h.writeCookie(w, h.RefreshCookieName, refresh, refreshExpiry)
}

func (h *Handler) clearAuthCookies(w http.ResponseWriter) {
	h.writeCookie(w, h.AccessCookieName, "", time.Time{})
	h.writeCookie(w, h.RefreshCookieName, "", time.Time{})
}

// writeCookie sets or clears one auth cookie. An empty value clears.
func (h *Handler) writeCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	if name == "" {
		return
	}
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Domain:   h.CookieDomain,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: h.CookieSameSite,
	}
	if value == "" {
		cookie.MaxAge = -1
	} else {
		cookie.Expires = expires
	}
	http.SetCookie(w, cookie)
}

func (h *Handler) refreshTokenFromRequest(r *http.Request) string {
	if h.RefreshCookieName == "" {
		return ""
	}
	if cookie, err := r.Cookie(h.RefreshCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host := strings.TrimSpace(r.RemoteAddr)
	if colon := strings.LastIndex(host, ":"); colon >= 0 {
		return host[:colon]
	}
	return host
}
