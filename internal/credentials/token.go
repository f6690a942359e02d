package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Claims are the access-token claims the client reads. Tokens are parsed
// without verification; the server remains the authority.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes the claims of a JWT access token.
func ParseClaims(token string) (*Claims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("empty token")
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return claims, nil
}

// TokenExpiry returns the exp claim. ok is false for opaque tokens and
// tokens without an expiry.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims, err := ParseClaims(token)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ExpiresWithin reports whether token expires before now+skew. Tokens
// without a readable expiry never do.
func ExpiresWithin(token string, now time.Time, skew time.Duration) bool {
	exp, ok := TokenExpiry(token)
	if !ok {
		return false
	}
	return exp.Before(now.Add(skew))
}

// TokenSource adapts a Store to oauth2.TokenSource. Every call reads the
// store, so rotated credentials are picked up on the next connect.
type TokenSource struct {
	store Store
}

// NewTokenSource creates a token source over store.
func NewTokenSource(store Store) *TokenSource {
	return &TokenSource{store: store}
}

// Token implements oauth2.TokenSource.
func (t *TokenSource) Token() (*oauth2.Token, error) {
	session, err := t.store.Load(context.Background())
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{
		AccessToken:  session.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: session.RefreshToken,
	}
	if exp, ok := TokenExpiry(session.AccessToken); ok {
		tok.Expiry = exp
	}
	return tok, nil
}

var _ oauth2.TokenSource = (*TokenSource)(nil)
