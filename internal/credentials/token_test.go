package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Email: "ada@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: "user-1",
		},
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	tests := []struct {
		name   string
		token  string
		want   time.Time
		wantOK bool
	}{
		{"jwt with exp", signedToken(t, exp), exp, true},
		{"jwt without exp", signedToken(t, time.Time{}), time.Time{}, false},
		{"opaque", "not-a-jwt", time.Time{}, false},
		{"empty", "", time.Time{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TokenExpiry(tt.token)
			if ok != tt.wantOK || !got.Equal(tt.want) {
				t.Errorf("TokenExpiry = (%v, %v), want (%v, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestExpiresWithin(t *testing.T) {
	now := time.Now()
	soon := signedToken(t, now.Add(time.Minute))
	later := signedToken(t, now.Add(time.Hour))

	if !ExpiresWithin(soon, now, 2*time.Minute) {
		t.Error("token expiring in 1m should be within a 2m skew")
	}
	if ExpiresWithin(later, now, 2*time.Minute) {
		t.Error("token expiring in 1h should not be within a 2m skew")
	}
	if ExpiresWithin("opaque", now, time.Hour) {
		t.Error("opaque tokens never report expiry")
	}
}

func TestParseClaimsSkipsVerification(t *testing.T) {
	claims, err := ParseClaims(signedToken(t, time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("ParseClaims: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "ada@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestTokenSourceReadsStoreEveryCall(t *testing.T) {
	store := NewMemoryStore()
	ts := NewTokenSource(store)

	if _, err := ts.Token(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Token on empty store = %v, want ErrNoSession", err)
	}

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	first := signedToken(t, exp)
	if err := store.Save(context.Background(), &Session{AccessToken: first, RefreshToken: "r1"}); err != nil {
		t.Fatal(err)
	}
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != first || tok.TokenType != "Bearer" || !tok.Expiry.Equal(exp) {
		t.Errorf("token = %+v", tok)
	}

	if err := store.Save(context.Background(), &Session{AccessToken: "rotated", RefreshToken: "r2"}); err != nil {
		t.Fatal(err)
	}
	tok, err = ts.Token()
	if err != nil || tok.AccessToken != "rotated" || tok.RefreshToken != "r2" {
		t.Fatalf("rotated token = %+v, %v", tok, err)
	}
}
