// Package api is the REST client for the ticketing API: auth, events and
// registrations, with bearer credentials and one refresh-and-replay on 401.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/eventlive/internal/credentials"
	"github.com/haasonsaas/eventlive/internal/observability"
	"github.com/haasonsaas/eventlive/pkg/models"
)

const maxResponseBytes = 4 << 20

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. http://localhost:5000.
	BaseURL string
	// Store holds the session; required.
	Store credentials.Store

	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil (default 30s).
	Timeout time.Duration
	// PageSize is used when paging through registrations (default 50).
	PageSize int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Client talks to the ticketing REST API.
type Client struct {
	baseURL    *url.URL
	store      credentials.Store
	httpClient *http.Client
	pageSize   int
	logger     *slog.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer

	refreshMu sync.Mutex
}

// NewClient validates cfg and creates a client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Store == nil {
		return nil, errors.New("credential store is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    base,
		store:      cfg.Store,
		httpClient: httpClient,
		pageSize:   pageSize,
		logger:     observability.Component(logger, "api"),
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
	}, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// request describes one API call. route is the path template used for
// metrics and spans.
type request struct {
	method    string
	route     string
	path      string
	query     url.Values
	body      any
	noRefresh bool
	anonymous bool
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	var payload []byte
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = data
	}

	var token string
	if !req.anonymous {
		token = c.accessToken(ctx)
	}
	status, body, err := c.send(ctx, req, payload, token)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && !req.noRefresh {
		if err := c.refreshAfter(ctx, token); err != nil {
			c.logger.Warn("session refresh failed", "error", err)
			if clearErr := c.store.Clear(ctx); clearErr != nil {
				c.logger.Warn("clear session failed", "error", clearErr)
			}
			return fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		status, body, err = c.send(ctx, req, payload, c.accessToken(ctx))
		if err != nil {
			return err
		}
	}
	return decodeResponse(status, body, out)
}

func (c *Client) send(ctx context.Context, req request, payload []byte, token string) (int, []byte, error) {
	endpoint := c.baseURL.JoinPath(req.path)
	if len(req.query) > 0 {
		endpoint.RawQuery = req.query.Encode()
	}

	ctx, span := c.tracer.TraceAPIRequest(ctx, req.method, req.route)
	defer span.End()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint.String(), body)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	c.tracer.InjectHTTP(ctx, httpReq.Header)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.tracer.RecordError(span, err)
		c.metrics.RecordAPIRequest(req.method, req.route, "error", elapsed)
		c.metrics.RecordError("api", "transport")
		return 0, nil, fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.tracer.RecordError(span, err)
		return 0, nil, fmt.Errorf("read response: %w", err)
	}

	code := strconv.Itoa(resp.StatusCode)
	c.metrics.RecordAPIRequest(req.method, req.route, code, elapsed)
	c.tracer.SetAttributes(span, "http.status_code", resp.StatusCode)
	c.logger.Debug("api request", "method", req.method, "path", req.path, "status", resp.StatusCode, "duration_ms", int64(elapsed*1000), "trace_id", observability.GetTraceID(ctx))
	return resp.StatusCode, data, nil
}

func decodeResponse(status int, body []byte, out any) error {
	var env models.Envelope[json.RawMessage]
	decodeErr := json.Unmarshal(body, &env)

	if status < 200 || status >= 300 {
		se := &StatusError{StatusCode: status}
		if decodeErr == nil {
			se.Message = env.Message
			se.Errors = env.Errors
		}
		return se
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if !env.Success {
		return &StatusError{StatusCode: status, Message: env.Message, Errors: env.Errors}
	}
	if out == nil || len(env.Results) == 0 || string(env.Results) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Results, out); err != nil {
		return fmt.Errorf("decode results: %w", err)
	}
	return nil
}

func (c *Client) accessToken(ctx context.Context) string {
	session, err := c.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, credentials.ErrNoSession) {
			c.logger.Warn("load session failed", "error", err)
		}
		return ""
	}
	return session.AccessToken
}

// refreshAfter refreshes the session unless another caller already rotated
// it away from failedToken.
func (c *Client) refreshAfter(ctx context.Context, failedToken string) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	session, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	if session.AccessToken != "" && session.AccessToken != failedToken {
		return nil
	}
	_, err = c.refreshLocked(ctx, session)
	return err
}

// Refresh exchanges the stored refresh token for a new token pair and
// persists it.
func (c *Client) Refresh(ctx context.Context) (*models.AuthResult, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	session, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	return c.refreshLocked(ctx, session)
}

func (c *Client) refreshLocked(ctx context.Context, session *credentials.Session) (*models.AuthResult, error) {
	if session.RefreshToken == "" {
		return nil, errors.New("no refresh token")
	}
	var res models.AuthResult
	err := c.do(ctx, request{
		method:    http.MethodPost,
		route:     "/api/Auth/refresh",
		path:      "/api/Auth/refresh",
		body:      models.RefreshRequest{RefreshToken: session.RefreshToken},
		noRefresh: true,
		anonymous: true,
	}, &res)
	if err != nil {
		return nil, err
	}
	if res.AccessToken == "" {
		return nil, errors.New("refresh returned no access token")
	}

	next := &credentials.Session{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken, User: session.User}
	if res.UserID != "" {
		user := res.User()
		next.User = &user
	}
	if next.RefreshToken == "" {
		next.RefreshToken = session.RefreshToken
	}
	if err := c.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("persist refreshed session: %w", err)
	}
	c.logger.Debug("session refreshed")
	return &res, nil
}
