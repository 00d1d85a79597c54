package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func csrfHandler(status int) http.Handler {
	return CSRF{Header: "X-CSRF-Token"}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
}

func TestCSRFBlocksMissingToken(t *testing.T) {
	rr := httptest.NewRecorder()
	csrfHandler(http.StatusOK).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCSRFAcceptsMatchingPair(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("X-CSRF-Token", "tok-1")
	req.AddCookie(&http.Cookie{Name: "X-CSRF-Token", Value: "tok-1"})
	rr := httptest.NewRecorder()
	csrfHandler(http.StatusOK).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCSRFRejectsMismatch(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("X-CSRF-Token", "tok-1")
	req.AddCookie(&http.Cookie{Name: "X-CSRF-Token", Value: "tok-2"})
	rr := httptest.NewRecorder()
	csrfHandler(http.StatusOK).ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCSRFSkipsBearerRequests(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/staff/quotes/SP0829-1/fees", nil)
	req.Header.Set("Authorization", "Bearer abc.def")
	rr := httptest.NewRecorder()
	csrfHandler(http.StatusAccepted).ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 for bearer request, got %d", rr.Code)
	}
}

func TestCSRFSkipsReads(t *testing.T) {
	rr := httptest.NewRecorder()
	csrfHandler(http.StatusOK).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/quotes/SP0829-1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected GET to pass, got %d", rr.Code)
	}
}
