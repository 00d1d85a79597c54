package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"
)

type tokenEnvelope struct {
	Data struct {
		AccessToken string `json:"access_token"`
	} `json:"data"`
}

func seedStaffUser(t *testing.T, store *fakeStore, email, password string) StaffUser {
	t.Helper()
	hash, err := argon2id.CreateHash(password, argon2id.DefaultParams)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	now := time.Now()
	user := StaffUser{
		ID:           uuid.New(),
		Name:         "Test Staff",
		Email:        email,
		PasswordHash: hash,
		Roles:        []string{"staff"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	store.addUser(user)
	return user
}

func TestRefreshRotateAndLogout(t *testing.T) {
	store := newFakeStore()
	seedStaffUser(t, store, "staff@example.com", "password123")

	svc, err := NewService(Config{
		Store:           store,
		Secret:          "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		ResetTokenTTL:   time.Hour,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	handler := &Handler{
		Service:           svc,
		RefreshCookieName: "rt",
		CookieSameSite:    http.SameSiteLaxMode,
	}

	// Login to obtain refresh cookie.
	loginBody := bytes.NewBufferString(`{"email":"staff@example.com","password":"password123"}`)
	loginReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", loginBody)
	loginRec := httptest.NewRecorder()
	handler.Login(loginRec, loginReq)
	loginRes := loginRec.Result()
	if loginRes.StatusCode != http.StatusOK {
		t.Fatalf("unexpected login status: %d", loginRes.StatusCode)
	}
	var loginPayload tokenEnvelope
	if err := json.NewDecoder(loginRes.Body).Decode(&loginPayload); err != nil {
		t.Fatalf("decode login payload: %v", err)
	}
	_ = loginRes.Body.Close()
	if loginPayload.Data.AccessToken == "" {
		t.Fatalf("expected access token in login response")
	}

	cookie := findCookie(loginRes.Cookies(), "rt")
	if cookie == nil {
		t.Fatalf("expected refresh cookie after login")
	}
	originalRefresh := cookie.Value
	originalHashed := hashRefreshToken(originalRefresh)
	if !store.hasSessionToken(originalHashed) {
		t.Fatalf("expected session stored for initial refresh token")
	}

	// Perform refresh to rotate token.
	refreshReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	refreshReq.AddCookie(cookie)
	refreshRec := httptest.NewRecorder()
	handler.Refresh(refreshRec, refreshReq)
	refreshRes := refreshRec.Result()
	if refreshRes.StatusCode != http.StatusOK {
		t.Fatalf("unexpected refresh status: %d", refreshRes.StatusCode)
	}
	var refreshPayload tokenEnvelope
	if err := json.NewDecoder(refreshRes.Body).Decode(&refreshPayload); err != nil {
		t.Fatalf("decode refresh payload: %v", err)
	}
	_ = refreshRes.Body.Close()
	if refreshPayload.Data.AccessToken == "" {
		t.Fatalf("expected access token in refresh response")
	}
	rotatedCookie := findCookie(refreshRes.Cookies(), "rt")
	if rotatedCookie == nil {
		t.Fatalf("expected rotated refresh cookie")
	}
	if rotatedCookie.Value == originalRefresh {
		t.Fatalf("expected refresh token rotation")
	}
	rotatedHashed := hashRefreshToken(rotatedCookie.Value)
	if !store.hasSessionToken(rotatedHashed) {
		t.Fatalf("expected session stored for rotated token")
	}
	if store.hasSessionToken(originalHashed) {
		t.Fatalf("expected old session token invalidated after rotation")
	}

	// Attempt reuse of old refresh token should fail.
	reuseReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	reuseReq.AddCookie(&http.Cookie{Name: "rt", Value: originalRefresh})
	reuseRec := httptest.NewRecorder()
	handler.Refresh(reuseRec, reuseReq)
	reuseRes := reuseRec.Result()
	if reuseRes.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized on token reuse, got %d", reuseRes.StatusCode)
	}
	_ = reuseRes.Body.Close()

	// Logout should revoke session and clear cookie.
	logoutReq := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	logoutReq.AddCookie(rotatedCookie)
	logoutRec := httptest.NewRecorder()
	handler.Logout(logoutRec, logoutReq)
	logoutRes := logoutRec.Result()
	if logoutRes.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected logout status: %d", logoutRes.StatusCode)
	}
	clearedCookie := findCookie(logoutRes.Cookies(), "rt")
	if clearedCookie == nil {
		t.Fatalf("expected cookie clearing on logout")
	}
	if clearedCookie.MaxAge != -1 {
		t.Fatalf("expected logout cookie MaxAge -1, got %d", clearedCookie.MaxAge)
	}
	if store.hasSessionToken(rotatedHashed) {
		t.Fatalf("expected session removed after logout")
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
