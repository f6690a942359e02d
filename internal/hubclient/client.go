// Package hubclient manages the single persistent push-channel connection
// to the event hub and turns transport activity into ActivityEvents.
package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/haasonsaas/eventlive/internal/backoff"
	"github.com/haasonsaas/eventlive/internal/observability"
)

// Config configures a Client.
type Config struct {
	// URL is the hub endpoint, e.g. https://tickets.example.com/eventhub.
	URL string

	// TokenSource supplies the bearer credential on every connect attempt.
	TokenSource oauth2.TokenSource

	// HTTPClient is shared by negotiation and the websocket dial.
	HTTPClient *http.Client

	// ReconnectSchedule is used by the transport after unexpected drops
	// (default 0, 2s, 5s, 10s, 30s).
	ReconnectSchedule backoff.Schedule

	// StartRetryDelay is the fixed delay before retrying a failed Start (default 5s).
	StartRetryDelay time.Duration

	HandshakeTimeout  time.Duration
	KeepAliveInterval time.Duration
	ServerTimeout     time.Duration

	// InvokeTimeout bounds Invoke when the caller's context has no deadline.
	InvokeTimeout time.Duration

	// ExtraEvents are bound in addition to the core and extension names.
	ExtraEvents []string

	// Factory builds transports (default: websocket).
	Factory TransportFactory

	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// EventHandler receives every ActivityEvent in receipt order.
type EventHandler func(ActivityEvent)

// StateHandler receives the connection snapshot after every state change.
type StateHandler func(Connection)

type eventSubscription struct {
	id int
	fn EventHandler
}

type stateSubscription struct {
	id int
	fn StateHandler
}

// Client owns exactly one transport at a time. Start and Stop are
// idempotent; a failed Start schedules a single retry until Stop.
type Client struct {
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	now     func() time.Time

	mu           sync.Mutex
	transport    Transport
	state        State
	connectionID string
	lastErr      error
	stopping     bool
	retryTimer   *time.Timer
	cancelStart  context.CancelFunc
	// generation increments on Stop so stale retries and callbacks are ignored.
	generation uint64

	bindings map[string]func(name string, payload json.RawMessage)

	listenerMu     sync.RWMutex
	nextListenerID int
	eventHandlers  []eventSubscription
	stateHandlers  []stateSubscription

	// dispatchMu serializes delivery so listeners never run concurrently.
	dispatchMu sync.Mutex
}

// NewClient creates a hub client. A nil logger uses slog.Default.
func NewClient(config Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if config.StartRetryDelay <= 0 {
		config.StartRetryDelay = 5 * time.Second
	}
	if len(config.ReconnectSchedule) == 0 {
		config.ReconnectSchedule = backoff.DefaultReconnectSchedule()
	}
	if config.InvokeTimeout <= 0 {
		config.InvokeTimeout = 30 * time.Second
	}
	if config.Factory == nil {
		config.Factory = NewWebSocketFactory()
	}

	c := &Client{
		config:  config,
		logger:  observability.Component(logger, "hubclient"),
		metrics: config.Metrics,
		tracer:  config.Tracer,
		now:     time.Now,
	}

	c.bindings = make(map[string]func(string, json.RawMessage))
	names := append(append(append([]string{}, CoreEventNames...), ExtensionEventNames...), config.ExtraEvents...)
	for _, name := range names {
		c.bindings[name] = c.appendEvent
	}
	c.bindings[EventConnected] = c.handleConnectedEvent
	return c
}

// Subscribe registers fn for every ActivityEvent. The returned function
// removes the subscription.
func (c *Client) Subscribe(fn EventHandler) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.eventHandlers = append(c.eventHandlers, eventSubscription{id: id, fn: fn})
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		c.eventHandlers = slices.DeleteFunc(c.eventHandlers, func(s eventSubscription) bool { return s.id == id })
	}
}

// OnStateChange registers fn for connection state changes. Handlers must not
// call Stop synchronously.
func (c *Client) OnStateChange(fn StateHandler) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.stateHandlers = append(c.stateHandlers, stateSubscription{id: id, fn: fn})
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		c.stateHandlers = slices.DeleteFunc(c.stateHandlers, func(s stateSubscription) bool { return s.id == id })
	}
}

// Start connects to the hub. It returns immediately when already Connected
// or Connecting. On failure the state returns to Disconnected, a System
// "Connection failed" event is appended and one retry is scheduled after
// StartRetryDelay.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return nil
	}
	c.stopRetryLocked()
	gen := c.generation

	startCtx, cancel := context.WithCancel(ctx)
	c.cancelStart = cancel
	transport := c.config.Factory(c.transportConfig(gen))
	c.transport = transport
	snap, changed := c.setStateLocked(StateConnecting)
	c.mu.Unlock()
	defer cancel()

	if changed {
		c.emitState(snap)
	}

	ctx, span := c.tracer.TraceHubConnect(startCtx, c.config.URL)
	err := transport.Start(ctx)
	c.tracer.RecordError(span, err)
	span.End()

	c.mu.Lock()
	c.cancelStart = nil
	if c.generation != gen || c.transport != transport {
		c.mu.Unlock()
		_ = transport.Stop(context.Background()) //nolint:errcheck // best-effort cleanup
		return ErrStopped
	}

	if err != nil {
		c.transport = nil
		c.lastErr = asFault("start", "", err)
		fault := c.lastErr
		snap, changed := c.setStateLocked(StateDisconnected)
		c.scheduleRetryLocked(gen)
		delay := c.config.StartRetryDelay
		c.mu.Unlock()

		c.logger.Error("hub connection failed", "error", err, "retry_in", delay)
		c.metrics.RecordStartFailure()
		c.metrics.RecordError("hub", "start")
		if changed {
			c.emitState(snap)
		}
		c.emitSystem(SystemPayload{Message: SystemConnectionFailed, Error: err.Error()})
		return fault
	}

	c.connectionID = transport.ConnectionID()
	c.lastErr = nil
	id := c.connectionID
	snap, changed = c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("connected to hub", "connection_id", id)
	if changed {
		c.emitState(snap)
	}
	c.emitSystem(SystemPayload{Message: SystemConnected, ConnectionID: id})
	return nil
}

// Stop cancels any pending retry, shuts the transport down gracefully and
// always leaves the client Disconnected. Shutdown failures are logged and
// absorbed. Safe to call repeatedly.
func (c *Client) Stop(ctx context.Context) {
	c.mu.Lock()
	c.stopRetryLocked()
	c.generation++
	if c.cancelStart != nil {
		c.cancelStart()
		c.cancelStart = nil
	}
	transport := c.transport
	c.stopping = true
	c.mu.Unlock()

	if transport != nil {
		if st := transport.State(); st != StateDisconnected && st != StateDisconnecting {
			if err := transport.Stop(ctx); err != nil {
				c.logger.Warn("hub shutdown failed", "error", err)
			}
		}
	}

	c.mu.Lock()
	c.transport = nil
	c.connectionID = ""
	c.stopping = false
	snap, changed := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if changed {
		c.emitState(snap)
	}
}

// Invoke calls a hub method and waits for its completion.
func (c *Client) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	transport := c.transport
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || transport == nil {
		c.metrics.RecordInvocation(method, "not_connected", 0)
		return nil, ErrNotConnected
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.InvokeTimeout)
		defer cancel()
	}
	ctx, span := c.tracer.TraceHubInvoke(ctx, method)
	defer span.End()

	start := time.Now()
	result, err := transport.Invoke(ctx, method, args...)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		if errors.Is(err, ErrNotConnected) {
			c.metrics.RecordInvocation(method, "not_connected", elapsed)
			return nil, err
		}
		fault := asFault("invoke", method, err)
		c.tracer.RecordError(span, fault)
		c.metrics.RecordInvocation(method, "error", elapsed)
		c.mu.Lock()
		c.lastErr = fault
		c.mu.Unlock()
		return nil, fault
	}
	c.metrics.RecordInvocation(method, "success", elapsed)
	return result, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stopping reports whether Stop is in progress.
func (c *Client) Stopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// HasConnection reports whether a transport exists.
func (c *Client) HasConnection() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport != nil
}

// LastError returns the last recorded fault, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connection returns a snapshot of the connection.
func (c *Client) Connection() Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() Connection {
	conn := Connection{ID: c.connectionID, State: c.state}
	if c.lastErr != nil {
		conn.LastError = c.lastErr.Error()
	}
	return conn
}

func (c *Client) setStateLocked(state State) (Connection, bool) {
	if c.state == state {
		return Connection{}, false
	}
	c.state = state
	c.metrics.SetHubState(state.String())
	return c.snapshotLocked(), true
}

func (c *Client) scheduleRetryLocked(gen uint64) {
	if c.retryTimer != nil {
		return
	}
	c.retryTimer = time.AfterFunc(c.config.StartRetryDelay, func() {
		c.mu.Lock()
		if c.generation != gen {
			c.mu.Unlock()
			return
		}
		c.retryTimer = nil
		c.mu.Unlock()

		c.logger.Info("retrying hub connection")
		_ = c.Start(context.Background()) //nolint:errcheck // failure schedules the next retry
	})
}

func (c *Client) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) transportConfig(gen uint64) TransportConfig {
	return TransportConfig{
		URL:               c.config.URL,
		TokenSource:       c.config.TokenSource,
		HTTPClient:        c.config.HTTPClient,
		ReconnectSchedule: c.config.ReconnectSchedule,
		HandshakeTimeout:  c.config.HandshakeTimeout,
		KeepAliveInterval: c.config.KeepAliveInterval,
		ServerTimeout:     c.config.ServerTimeout,
		Logger:            c.logger,
		Handlers: TransportHandlers{
			OnEvent:        func(name string, payload json.RawMessage) { c.onEvent(gen, name, payload) },
			OnReconnecting: func(err error) { c.onReconnecting(gen, err) },
			OnReconnected:  func(id string) { c.onReconnected(gen, id) },
			OnClose:        func(err error) { c.onClose(gen, err) },
		},
	}
}

// current reports whether callbacks tagged with gen still belong to the
// live transport. Stop keeps the generation of its own shutdown callbacks
// valid until the transport is released.
func (c *Client) current(gen uint64) bool {
	return c.generation == gen || (c.stopping && c.generation == gen+1)
}

func (c *Client) onEvent(gen uint64, name string, payload json.RawMessage) {
	c.mu.Lock()
	ok := c.current(gen)
	c.mu.Unlock()
	if !ok {
		return
	}

	handler, bound := c.bindings[name]
	if !bound {
		c.logger.Debug("unbound hub event", "name", name)
		handler = c.appendEvent
	}
	handler(name, payload)
}

func (c *Client) onReconnecting(gen uint64, err error) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.lastErr = asFault("connection", "", err)
	}
	snap, changed := c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	c.logger.Warn("hub reconnecting", "error", err)
	c.metrics.RecordReconnect("reconnecting")
	if changed {
		c.emitState(snap)
	}
	payload := SystemPayload{Message: SystemReconnecting}
	if err != nil {
		payload.Error = err.Error()
	}
	c.emitSystem(payload)
}

func (c *Client) onReconnected(gen uint64, id string) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	c.lastErr = nil
	c.connectionID = id
	snap, changed := c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("hub reconnected", "connection_id", id)
	c.metrics.RecordReconnect("reconnected")
	if changed {
		c.emitState(snap)
	}
	c.emitSystem(SystemPayload{Message: SystemReconnected, ConnectionID: id})
}

func (c *Client) onClose(gen uint64, err error) {
	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	c.connectionID = ""
	if !c.stopping {
		c.transport = nil
	}
	if err != nil {
		c.lastErr = asFault("connection", "", err)
	}
	snap, changed := c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("hub connection closed", "error", err)
	} else {
		c.logger.Info("hub connection closed")
	}
	if changed {
		c.emitState(snap)
	}
	payload := SystemPayload{Message: SystemDisconnected}
	if err != nil {
		payload.Error = err.Error()
	}
	c.emitSystem(payload)
}

func (c *Client) handleConnectedEvent(name string, payload json.RawMessage) {
	var body struct {
		ConnectionID string `json:"connectionId"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.ConnectionID != "" {
		c.mu.Lock()
		c.connectionID = body.ConnectionID
		c.mu.Unlock()
	}
	c.appendEvent(name, payload)
}

func (c *Client) appendEvent(name string, payload json.RawMessage) {
	ev := ActivityEvent{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    payload,
		ReceivedAt: c.now(),
	}
	c.metrics.RecordActivityEvent(name)

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.listenerMu.RLock()
	handlers := slices.Clone(c.eventHandlers)
	c.listenerMu.RUnlock()
	for _, h := range handlers {
		h.fn(ev)
	}
}

func (c *Client) emitSystem(payload SystemPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("encode system event", "error", err)
		return
	}
	c.appendEvent(EventSystem, data)
}

func (c *Client) emitState(conn Connection) {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()
	c.listenerMu.RLock()
	handlers := slices.Clone(c.stateHandlers)
	c.listenerMu.RUnlock()
	for _, h := range handlers {
		h.fn(conn)
	}
}
