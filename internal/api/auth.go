package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/haasonsaas/eventlive/internal/credentials"
	"github.com/haasonsaas/eventlive/pkg/models"
)

// Signup creates an account and stores the returned session.
func (c *Client) Signup(ctx context.Context, in models.SignupRequest) (*models.AuthResult, error) {
	return c.authenticate(ctx, "/api/Auth/signup", in)
}

// Login authenticates and stores the returned session.
func (c *Client) Login(ctx context.Context, email, password string) (*models.AuthResult, error) {
	return c.authenticate(ctx, "/api/Auth/login", models.LoginRequest{Email: email, Password: password})
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*models.AuthResult, error) {
	var res models.AuthResult
	if err := c.do(ctx, request{method: http.MethodPost, route: path, path: path, body: body, noRefresh: true, anonymous: true}, &res); err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, errors.New("authentication returned no access token")
	}
	if err := c.store.Save(ctx, credentials.SessionFromAuth(&res)); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return &res, nil
}

// Logout revokes the refresh token server-side when possible and always
// clears the local session. Only a failure to clear is returned.
func (c *Client) Logout(ctx context.Context) error {
	session, err := c.store.Load(ctx)
	if err == nil && session.RefreshToken != "" {
		if err := c.do(ctx, request{
			method:    http.MethodPost,
			route:     "/api/Auth/logout",
			path:      "/api/Auth/logout",
			body:      models.RefreshRequest{RefreshToken: session.RefreshToken},
			noRefresh: true,
		}, nil); err != nil {
			c.logger.Warn("server logout failed", "error", err)
		}
	}
	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// CurrentUser returns the stored profile, or nil when signed out.
func (c *Client) CurrentUser(ctx context.Context) (*models.User, error) {
	session, err := c.store.Load(ctx)
	if errors.Is(err, credentials.ErrNoSession) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if session.User == nil {
		return nil, errors.New("stored session has no user profile")
	}
	return session.User, nil
}
