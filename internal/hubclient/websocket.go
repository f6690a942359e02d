package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/eventlive/internal/backoff"
	"github.com/haasonsaas/eventlive/internal/observability"
)

const (
	hubProtocolVersion = 1
	hubMaxPayloadBytes = 1 << 20
	hubWriteWait       = 10 * time.Second

	defaultHandshakeTimeout  = 15 * time.Second
	defaultKeepAliveInterval = 15 * time.Second
	defaultServerTimeout     = 30 * time.Second
)

// WebSocketTransport speaks the JSON hub protocol over a websocket:
// negotiate, dial, handshake, then invocation/completion/ping/close records
// terminated by 0x1E. Unexpected drops are retried on the reconnect schedule
// until Stop.
type WebSocketTransport struct {
	cfg        TransportConfig
	logger     *slog.Logger
	httpClient *http.Client
	dialer     *websocket.Dialer

	// ctx is cancelled by Stop and bounds every connect attempt.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	conn         *websocket.Conn
	connectionID string
	started      bool
	pending      map[string]chan invocationResult
	nextID       uint64
	loopDone     chan struct{}

	writeMu  sync.Mutex
	stopOnce sync.Once
}

type invocationResult struct {
	result json.RawMessage
	err    error
}

type hubSession struct {
	conn     *websocket.Conn
	id       string
	leftover [][]byte
}

// closeFrameError reports a close record sent by the server.
type closeFrameError struct {
	message        string
	allowReconnect bool
}

func (e *closeFrameError) Error() string {
	if e.message == "" {
		return "server closed the connection"
	}
	return "server closed the connection: " + e.message
}

func (e *closeFrameError) cause() error {
	if e.message == "" {
		return nil
	}
	return &HubError{Message: e.message}
}

// NewWebSocketTransport creates a transport for cfg. Zero timeouts and an
// empty schedule take the protocol defaults.
func NewWebSocketTransport(cfg TransportConfig) *WebSocketTransport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = defaultKeepAliveInterval
	}
	if cfg.ServerTimeout <= 0 {
		cfg.ServerTimeout = defaultServerTimeout
	}
	if len(cfg.ReconnectSchedule) == 0 {
		cfg.ReconnectSchedule = backoff.DefaultReconnectSchedule()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, _ := cookiejar.New(nil) //nolint:errcheck // nil options never fail
		httpClient = &http.Client{Jar: jar, Timeout: cfg.HandshakeTimeout}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketTransport{
		cfg:        cfg,
		logger:     observability.Component(logger, "hub-transport"),
		httpClient: httpClient,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
			Jar:              httpClient.Jar,
			ReadBufferSize:   8192,
			WriteBufferSize:  8192,
		},
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan invocationResult),
	}
}

// NewWebSocketFactory returns a TransportFactory producing websocket transports.
func NewWebSocketFactory() TransportFactory {
	return func(cfg TransportConfig) Transport {
		return NewWebSocketTransport(cfg)
	}
}

// State returns the transport state.
func (t *WebSocketTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ConnectionID returns the identifier assigned by the last negotiation.
func (t *WebSocketTransport) ConnectionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connectionID
}

// Start negotiates, dials and completes the handshake. It returns once the
// connection is usable; reading continues in the background.
func (t *WebSocketTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return errors.New("hub transport already started")
	}
	t.started = true
	t.state = StateConnecting
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	session, err := t.connect(ctx)
	if err != nil {
		t.mu.Lock()
		if t.state == StateConnecting {
			t.state = StateDisconnected
		}
		t.mu.Unlock()
		if t.ctx.Err() != nil {
			return ErrTransportClosed
		}
		return err
	}

	t.mu.Lock()
	if t.ctx.Err() != nil {
		t.mu.Unlock()
		_ = session.conn.Close() //nolint:errcheck // best-effort cleanup
		return ErrTransportClosed
	}
	t.conn = session.conn
	t.connectionID = session.id
	t.state = StateConnected
	t.loopDone = make(chan struct{})
	done := t.loopDone
	t.mu.Unlock()

	t.logger.Debug("hub connected", "connection_id", session.id)
	go t.run(session, done)
	return nil
}

// Stop closes the socket gracefully, waits for the read loop and reports
// OnClose(nil). Safe to call more than once.
func (t *WebSocketTransport) Stop(ctx context.Context) error {
	err := ErrTransportClosed
	t.stopOnce.Do(func() {
		err = t.shutdown(ctx)
	})
	if errors.Is(err, ErrTransportClosed) {
		return nil
	}
	return err
}

func (t *WebSocketTransport) shutdown(ctx context.Context) error {
	t.mu.Lock()
	prev := t.state
	t.state = StateDisconnecting
	conn := t.conn
	done := t.loopDone
	t.mu.Unlock()

	t.cancel()

	var err error
	if conn != nil {
		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		err = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(hubWriteWait))
		t.writeMu.Unlock()
		_ = conn.Close() //nolint:errcheck // best-effort cleanup
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	t.failPending(ErrTransportClosed)

	t.mu.Lock()
	t.state = StateDisconnected
	t.conn = nil
	t.connectionID = ""
	t.mu.Unlock()

	if prev != StateDisconnected {
		t.cfg.Handlers.closed(nil)
	}
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Invoke sends an invocation record and waits for its completion.
func (t *WebSocketTransport) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}

	t.mu.Lock()
	if t.state != StateConnected || t.conn == nil {
		t.mu.Unlock()
		return nil, ErrNotConnected
	}
	t.nextID++
	id := strconv.FormatUint(t.nextID, 10)
	ch := make(chan invocationResult, 1)
	t.pending[id] = ch
	conn := t.conn
	t.mu.Unlock()

	data, err := encodeRecord(invocationFrame{
		Type:         frameInvocation,
		InvocationID: id,
		Target:       method,
		Arguments:    args,
	})
	if err != nil {
		t.dropPending(id)
		return nil, fmt.Errorf("encode invocation: %w", err)
	}
	if err := t.write(conn, data); err != nil {
		t.dropPending(id)
		return nil, err
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		t.dropPending(id)
		return nil, ctx.Err()
	case <-t.ctx.Done():
		t.dropPending(id)
		return nil, ErrTransportClosed
	}
}

func (t *WebSocketTransport) connect(ctx context.Context) (*hubSession, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	token, err := bearerToken(t.cfg.TokenSource)
	if err != nil {
		return nil, &TransportFault{Op: "token", Err: err}
	}

	neg, err := t.negotiate(ctx, token)
	if err != nil {
		return nil, &TransportFault{Op: "negotiate", Err: err}
	}

	wsURL, err := websocketURL(t.cfg.URL, neg.token())
	if err != nil {
		return nil, &TransportFault{Op: "dial", Err: err}
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := t.dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close() //nolint:errcheck // best-effort cleanup
	}
	if err != nil {
		return nil, &TransportFault{Op: "dial", Err: err}
	}
	conn.SetReadLimit(hubMaxPayloadBytes)

	leftover, err := t.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close() //nolint:errcheck // best-effort cleanup
		return nil, &TransportFault{Op: "handshake", Err: err}
	}
	return &hubSession{conn: conn, id: neg.ConnectionID, leftover: leftover}, nil
}

func (t *WebSocketTransport) negotiate(ctx context.Context, token string) (negotiateResponse, error) {
	var neg negotiateResponse

	endpoint, err := url.Parse(strings.TrimRight(t.cfg.URL, "/") + "/negotiate")
	if err != nil {
		return neg, err
	}
	query := endpoint.Query()
	query.Set("negotiateVersion", "1")
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), nil)
	if err != nil {
		return neg, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return neg, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck // best-effort error context
		return neg, fmt.Errorf("negotiate failed (%s): %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, hubMaxPayloadBytes)).Decode(&neg); err != nil {
		return neg, fmt.Errorf("decode negotiate response: %w", err)
	}
	if neg.Error != "" {
		return neg, &HubError{Message: neg.Error}
	}
	if neg.ConnectionID == "" {
		return neg, errors.New("negotiate response missing connectionId")
	}
	return neg, nil
}

func (t *WebSocketTransport) handshake(ctx context.Context, conn *websocket.Conn) ([][]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close() //nolint:errcheck // unblocks the handshake read
	})
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline) //nolint:errcheck
		_ = conn.SetReadDeadline(deadline)  //nolint:errcheck
	}

	req, err := encodeRecord(handshakeRequest{Protocol: "json", Version: hubProtocolVersion})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, err
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		records := splitRecords(data)
		if len(records) == 0 {
			continue
		}
		if err := parseHandshake(records[0]); err != nil {
			return nil, err
		}
		_ = conn.SetReadDeadline(time.Time{}) //nolint:errcheck
		return records[1:], nil
	}
}

// run serves the connection and reconnects after unexpected drops until
// the transport is stopped or the server refuses reconnection.
func (t *WebSocketTransport) run(session *hubSession, done chan struct{}) {
	defer close(done)

	conn := session.conn
	leftover := session.leftover
	for {
		err := t.serve(conn, leftover)
		leftover = nil
		_ = conn.Close() //nolint:errcheck // best-effort cleanup
		if t.ctx.Err() != nil {
			return
		}

		var closeErr *closeFrameError
		if errors.As(err, &closeErr) && !closeErr.allowReconnect {
			t.logger.Info("hub closed the connection", "error", closeErr.message)
			t.mu.Lock()
			t.state = StateDisconnected
			t.conn = nil
			t.connectionID = ""
			t.mu.Unlock()
			t.failPending(ErrConnectionLost)
			t.cfg.Handlers.closed(closeErr.cause())
			return
		}

		t.mu.Lock()
		t.state = StateReconnecting
		t.conn = nil
		t.mu.Unlock()
		t.failPending(ErrConnectionLost)
		t.logger.Warn("hub connection lost, reconnecting", "error", err)
		t.cfg.Handlers.reconnecting(err)

		next, ok := t.reconnect()
		if !ok {
			return
		}
		conn = next.conn
		leftover = next.leftover
		t.cfg.Handlers.reconnected(next.id)
	}
}

func (t *WebSocketTransport) reconnect() (*hubSession, bool) {
	for attempt := 0; ; attempt++ {
		if err := backoff.SleepWithSchedule(t.ctx, nil, t.cfg.ReconnectSchedule, attempt); err != nil {
			return nil, false
		}
		session, err := t.connect(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return nil, false
			}
			t.logger.Warn("hub reconnect attempt failed",
				"attempt", attempt+1,
				"next_delay", t.cfg.ReconnectSchedule.Delay(attempt+1),
				"error", err)
			continue
		}

		t.mu.Lock()
		if t.ctx.Err() != nil {
			t.mu.Unlock()
			_ = session.conn.Close() //nolint:errcheck // best-effort cleanup
			return nil, false
		}
		t.conn = session.conn
		t.connectionID = session.id
		t.state = StateConnected
		t.mu.Unlock()
		t.logger.Info("hub reconnected", "connection_id", session.id, "attempts", attempt+1)
		return session, true
	}
}

func (t *WebSocketTransport) serve(conn *websocket.Conn, leftover [][]byte) error {
	pingDone := make(chan struct{})
	defer close(pingDone)
	go t.keepAlive(conn, pingDone)

	for _, record := range leftover {
		if err := t.handleRecord(record); err != nil {
			return err
		}
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ServerTimeout)) //nolint:errcheck
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("server timeout elapsed after %s without receiving a message: %w", t.cfg.ServerTimeout, err)
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		for _, record := range splitRecords(data) {
			if err := t.handleRecord(record); err != nil {
				return err
			}
		}
	}
}

func (t *WebSocketTransport) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(t.cfg.KeepAliveInterval)
	defer ticker.Stop()

	ping, err := encodeRecord(pingFrame{Type: framePing})
	if err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			if err := t.write(conn, ping); err != nil {
				t.logger.Debug("hub keep-alive failed", "error", err)
				return
			}
		}
	}
}

func (t *WebSocketTransport) handleRecord(record []byte) error {
	frame, err := decodeFrame(record)
	if err != nil {
		t.logger.Warn("dropping invalid hub frame", "error", err)
		return nil
	}

	switch frame.Type {
	case frameInvocation:
		t.cfg.Handlers.event(frame.Target, eventPayload(frame.Arguments))
	case frameCompletion:
		t.complete(frame)
	case framePing:
	case frameClose:
		return &closeFrameError{message: frame.Error, allowReconnect: frame.AllowReconnect}
	case frameStreamItem, frameStreamInvocation, frameCancelInvocation:
		t.logger.Debug("ignoring unsupported hub frame", "type", frame.Type)
	}
	return nil
}

func (t *WebSocketTransport) complete(frame *hubFrame) {
	t.mu.Lock()
	ch := t.pending[frame.InvocationID]
	delete(t.pending, frame.InvocationID)
	t.mu.Unlock()

	if ch == nil {
		t.logger.Debug("completion for unknown invocation", "invocation_id", frame.InvocationID)
		return
	}
	if frame.Error != "" {
		ch <- invocationResult{err: &HubError{Message: frame.Error}}
		return
	}
	ch <- invocationResult{result: frame.Result}
}

func (t *WebSocketTransport) write(conn *websocket.Conn, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(hubWriteWait)) //nolint:errcheck
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *WebSocketTransport) dropPending(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *WebSocketTransport) failPending(err error) {
	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[string]chan invocationResult)
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- invocationResult{err: err}
	}
}

// websocketURL rewrites an http(s) hub URL to ws(s) and attaches the
// connection token.
func websocketURL(hubURL, token string) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub URL scheme %q", u.Scheme)
	}
	query := u.Query()
	query.Set("id", token)
	u.RawQuery = query.Encode()
	return u.String(), nil
}
