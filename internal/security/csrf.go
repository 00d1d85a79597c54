package security

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CSRF applies double-submit protection to the cookie-based staff
// auth flow: mutating requests must echo the CSRF cookie in a header.
// Bearer-token requests are exempt; they cannot be forged by a
// browser.
type CSRF struct {
	Header string
}

func (c CSRF) Middleware(next http.Handler) http.Handler {
	name := strings.TrimSpace(c.Header)
	if name == "" {
		name = "X-CSRF-Token"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethod(r.Method) || hasBearer(r) {
			next.ServeHTTP(w, r)
			return
		}
		token := strings.TrimSpace(r.Header.Get(name))
		if token == "" {
			http.Error(w, "missing csrf token", http.StatusForbidden)
			return
		}
		cookie, err := r.Cookie(name)
		if err != nil || strings.TrimSpace(cookie.Value) == "" {
			http.Error(w, "missing csrf cookie", http.StatusForbidden)
			return
		}
		if !tokensEqual(token, cookie.Value) {
			http.Error(w, "invalid csrf token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func safeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

func hasBearer(r *http.Request) bool {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	return strings.HasPrefix(strings.ToLower(auth), "bearer ")
}

func tokensEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	if a == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
