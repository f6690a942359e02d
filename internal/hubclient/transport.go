package hubclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/haasonsaas/eventlive/internal/backoff"
)

// Transport owns one wire connection to the hub. A transport is started at
// most once; the Client builds a fresh one for every Start.
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	State() State
	ConnectionID() string
}

// TransportHandlers receive lifecycle and inbound events. They are called
// from a single goroutine per transport and must not call Stop synchronously.
type TransportHandlers struct {
	OnEvent        func(name string, payload json.RawMessage)
	OnReconnecting func(err error)
	OnReconnected  func(connectionID string)
	OnClose        func(err error)
}

// TransportConfig configures a transport instance.
type TransportConfig struct {
	// URL is the hub endpoint, e.g. https://tickets.example.com/eventhub.
	URL string

	// TokenSource supplies the bearer credential. It is read on every
	// connect attempt so rotated tokens are picked up.
	TokenSource oauth2.TokenSource

	// HTTPClient is used for negotiation; its cookie jar is shared with the
	// websocket dial.
	HTTPClient *http.Client

	ReconnectSchedule backoff.Schedule
	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	ServerTimeout     time.Duration

	Logger   *slog.Logger
	Handlers TransportHandlers
}

// TransportFactory builds a transport for one connection lifecycle.
type TransportFactory func(cfg TransportConfig) Transport

func (h TransportHandlers) event(name string, payload json.RawMessage) {
	if h.OnEvent != nil {
		h.OnEvent(name, payload)
	}
}

func (h TransportHandlers) reconnecting(err error) {
	if h.OnReconnecting != nil {
		h.OnReconnecting(err)
	}
}

func (h TransportHandlers) reconnected(id string) {
	if h.OnReconnected != nil {
		h.OnReconnected(id)
	}
}

func (h TransportHandlers) closed(err error) {
	if h.OnClose != nil {
		h.OnClose(err)
	}
}

func bearerToken(ts oauth2.TokenSource) (string, error) {
	if ts == nil {
		return "", nil
	}
	tok, err := ts.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
