package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

func staffToken(t *testing.T, mutate func(b *jwt.Builder)) jwt.Token {
	t.Helper()
	now := time.Now()
	b := jwt.NewBuilder().
		Issuer("backend-quoting").
		Audience([]string{"quoting-staff"}).
		Subject("staff-7").
		IssuedAt(now).
		NotBefore(now).
		Expiration(now.Add(time.Minute))
	if mutate != nil {
		mutate(b)
	}
	token, err := b.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	return token
}

func TestTokenValidatorValidateSuccess(t *testing.T) {
	now := time.Now()
	token := staffToken(t, nil)

	validator := TokenValidator{Issuer: "backend-quoting", Audience: "quoting-staff", ClockSkew: time.Second, Algorithm: jwa.HS256}
	if err := validator.Validate(token, jwa.HS256, now); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestTokenValidatorIssuerMismatch(t *testing.T) {
	now := time.Now()
	token := staffToken(t, func(b *jwt.Builder) {
		b.Issuer("someone-else")
	})

	validator := TokenValidator{Issuer: "backend-quoting", Audience: "quoting-staff", Algorithm: jwa.HS256}
	if err := validator.Validate(token, jwa.HS256, now); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestTokenValidatorExpiry(t *testing.T) {
	now := time.Now()
	token := staffToken(t, func(b *jwt.Builder) {
		b.IssuedAt(now.Add(-2 * time.Hour)).
			NotBefore(now.Add(-2 * time.Hour)).
			Expiration(now.Add(-time.Minute))
	})

	validator := TokenValidator{Issuer: "backend-quoting", Audience: "quoting-staff", Algorithm: jwa.HS256}
	if err := validator.Validate(token, jwa.HS256, now); err == nil {
		t.Fatal("expected expiration error")
	}
}

func TestTokenValidatorNotBefore(t *testing.T) {
	now := time.Now()
	token := staffToken(t, func(b *jwt.Builder) {
		b.NotBefore(now.Add(5 * time.Minute)).
			Expiration(now.Add(10 * time.Minute))
	})

	validator := TokenValidator{Issuer: "backend-quoting", Audience: "quoting-staff", Algorithm: jwa.HS256, ClockSkew: time.Second}
	if err := validator.Validate(token, jwa.HS256, now); err == nil {
		t.Fatal("expected not-before validation error")
	}
}

func TestTokenValidatorAlgorithmMismatch(t *testing.T) {
	now := time.Now()
	token := staffToken(t, nil)

	validator := TokenValidator{Issuer: "backend-quoting", Audience: "quoting-staff", Algorithm: jwa.HS256}
	if err := validator.Validate(token, jwa.RS256, now); err == nil {
		t.Fatal("expected algorithm mismatch error")
	}
}

func TestTokenValidatorNilToken(t *testing.T) {
	validator := TokenValidator{Issuer: "backend-quoting", Algorithm: jwa.HS256}
	if err := validator.Validate(nil, jwa.HS256, time.Now()); err == nil {
		t.Fatal("expected nil token error")
	}
}
