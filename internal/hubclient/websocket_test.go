package hubclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/haasonsaas/eventlive/internal/backoff"
)

type hubConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hubConn) send(t *testing.T, record string) {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(record+"\x1e")); err != nil {
		t.Errorf("hub write: %v", err)
	}
}

// testHub is a minimal JSON hub protocol server.
type testHub struct {
	t        *testing.T
	upgrader websocket.Upgrader

	mu            sync.Mutex
	negotiates    int
	authHeaders   []string
	negotiateBody string

	conns   chan *hubConn
	invoked chan string
}

func newTestHub(t *testing.T) (*testHub, *httptest.Server) {
	t.Helper()
	hub := &testHub{
		t:       t,
		conns:   make(chan *hubConn, 8),
		invoked: make(chan string, 16),
	}
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return hub, server
}

func (h *testHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/eventhub/negotiate":
		if r.Method != http.MethodPost || r.URL.Query().Get("negotiateVersion") != "1" {
			http.Error(w, "bad negotiate", http.StatusBadRequest)
			return
		}
		h.mu.Lock()
		h.negotiates++
		n := h.negotiates
		h.authHeaders = append(h.authHeaders, r.Header.Get("Authorization"))
		body := h.negotiateBody
		h.mu.Unlock()
		if body == "" {
			body = fmt.Sprintf(`{"connectionId":"cid-%d","connectionToken":"tok-%d","negotiateVersion":1}`, n, n)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	case "/eventhub":
		if !strings.HasPrefix(r.URL.Query().Get("id"), "tok-") {
			http.Error(w, "missing connection token", http.StatusBadRequest)
			return
		}
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil || !strings.Contains(string(data), `"protocol":"json"`) {
			_ = conn.Close()
			return
		}
		hc := &hubConn{conn: conn}
		hc.send(h.t, "{}")
		h.conns <- hc
		h.serve(hc)
	default:
		http.NotFound(w, r)
	}
}

func (h *testHub) serve(hc *hubConn) {
	for {
		_, data, err := hc.conn.ReadMessage()
		if err != nil {
			return
		}
		for _, record := range splitRecords(data) {
			var frame hubFrame
			if err := json.Unmarshal(record, &frame); err != nil || frame.Type != frameInvocation {
				continue
			}
			h.invoked <- frame.Target
			if frame.Target == "Hang" || frame.InvocationID == "" {
				continue
			}
			if frame.Target == "Fail" {
				hc.send(h.t, fmt.Sprintf(`{"type":3,"invocationId":%q,"error":"denied"}`, frame.InvocationID))
				continue
			}
			hc.send(h.t, fmt.Sprintf(`{"type":3,"invocationId":%q,"result":true}`, frame.InvocationID))
		}
	}
}

func (h *testHub) nextConn(t *testing.T) *hubConn {
	t.Helper()
	select {
	case hc := <-h.conns:
		return hc
	case <-time.After(2 * time.Second):
		t.Fatal("hub connection not established")
		return nil
	}
}

func (h *testHub) negotiateCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.negotiates
}

type receivedEvent struct {
	name    string
	payload json.RawMessage
}

type transportRecorder struct {
	events       chan receivedEvent
	reconnecting chan error
	reconnected  chan string
	closed       chan error
}

func newTransportRecorder() *transportRecorder {
	return &transportRecorder{
		events:       make(chan receivedEvent, 16),
		reconnecting: make(chan error, 16),
		reconnected:  make(chan string, 16),
		closed:       make(chan error, 16),
	}
}

func (r *transportRecorder) handlers() TransportHandlers {
	return TransportHandlers{
		OnEvent:        func(name string, payload json.RawMessage) { r.events <- receivedEvent{name, payload} },
		OnReconnecting: func(err error) { r.reconnecting <- err },
		OnReconnected:  func(id string) { r.reconnected <- id },
		OnClose:        func(err error) { r.closed <- err },
	}
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func newTestTransport(t *testing.T, serverURL string, rec *transportRecorder, mutate func(*TransportConfig)) *WebSocketTransport {
	t.Helper()
	cfg := TransportConfig{
		URL:               serverURL + "/eventhub",
		TokenSource:       oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "access-123"}),
		ReconnectSchedule: backoff.Schedule{10 * time.Millisecond},
		HandshakeTimeout:  2 * time.Second,
		Handlers:          rec.handlers(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	transport := NewWebSocketTransport(cfg)
	t.Cleanup(func() { _ = transport.Stop(context.Background()) })
	return transport
}

func TestWebSocketTransportConnectInvokeAndStop(t *testing.T) {
	hub, server := newTestHub(t)
	rec := newTransportRecorder()
	transport := newTestTransport(t, server.URL, rec, nil)

	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hc := hub.nextConn(t)

	if transport.State() != StateConnected || transport.ConnectionID() != "cid-1" {
		t.Fatalf("state=%v id=%q", transport.State(), transport.ConnectionID())
	}
	hub.mu.Lock()
	auth := hub.authHeaders[0]
	hub.mu.Unlock()
	if auth != "Bearer access-123" {
		t.Fatalf("negotiate Authorization = %q", auth)
	}

	result, err := transport.Invoke(context.Background(), "JoinEvent", "evt-1", "user-1")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(result) != "true" {
		t.Fatalf("result = %s", result)
	}

	_, err = transport.Invoke(context.Background(), "Fail")
	var hubErr *HubError
	if !errors.As(err, &hubErr) || hubErr.Message != "denied" {
		t.Fatalf("Invoke error = %v, want HubError denied", err)
	}

	hc.send(t, `{"type":1,"target":"UserJoined","arguments":[{"userId":"u2","connectionId":"c2","currentViewers":4}]}`)
	ev := receive(t, rec.events, "UserJoined")
	if ev.name != "UserJoined" || !strings.Contains(string(ev.payload), `"currentViewers":4`) {
		t.Fatalf("event = %s %s", ev.name, ev.payload)
	}

	if err := transport.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := receive(t, rec.closed, "close"); err != nil {
		t.Fatalf("OnClose error = %v, want nil", err)
	}
	if err := transport.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	select {
	case <-rec.closed:
		t.Fatal("OnClose fired twice")
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := transport.Invoke(context.Background(), "JoinEvent"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Invoke after Stop = %v, want ErrNotConnected", err)
	}
}

func TestWebSocketTransportDropsInvalidFrames(t *testing.T) {
	hub, server := newTestHub(t)
	rec := newTransportRecorder()
	transport := newTestTransport(t, server.URL, rec, nil)
	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hc := hub.nextConn(t)

	hc.send(t, `{"type":1}`)
	hc.send(t, `{"type":42,"target":"X"}`)
	hc.send(t, `not json`)
	hc.send(t, `{"type":1,"target":"LeftEvent","arguments":[]}`)

	ev := receive(t, rec.events, "LeftEvent")
	if ev.name != "LeftEvent" || ev.payload != nil {
		t.Fatalf("event = %s %s", ev.name, ev.payload)
	}
	if transport.State() != StateConnected {
		t.Fatalf("invalid frames should not drop the connection, state=%v", transport.State())
	}
}

func TestWebSocketTransportReconnectsAfterDrop(t *testing.T) {
	hub, server := newTestHub(t)
	rec := newTransportRecorder()
	transport := newTestTransport(t, server.URL, rec, nil)
	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first := hub.nextConn(t)

	_ = first.conn.Close()

	if err := receive(t, rec.reconnecting, "reconnecting"); err == nil {
		t.Fatal("OnReconnecting should carry the drop error")
	}
	if id := receive(t, rec.reconnected, "reconnected"); id != "cid-2" {
		t.Fatalf("reconnected id = %q, want cid-2", id)
	}
	second := hub.nextConn(t)
	if transport.ConnectionID() != "cid-2" || transport.State() != StateConnected {
		t.Fatalf("state=%v id=%q", transport.State(), transport.ConnectionID())
	}

	second.send(t, `{"type":1,"target":"UserLeft","arguments":[{"connectionId":"c9","currentViewers":1}]}`)
	if ev := receive(t, rec.events, "UserLeft"); ev.name != "UserLeft" {
		t.Fatalf("event = %s", ev.name)
	}
}

func TestWebSocketTransportFailsPendingOnDrop(t *testing.T) {
	hub, server := newTestHub(t)
	rec := newTransportRecorder()
	transport := newTestTransport(t, server.URL, rec, func(cfg *TransportConfig) {
		cfg.ReconnectSchedule = backoff.Schedule{time.Hour}
	})
	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hc := hub.nextConn(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := transport.Invoke(context.Background(), "Hang")
		errCh <- err
	}()
	if target := receive(t, hub.invoked, "invocation"); target != "Hang" {
		t.Fatalf("invoked %q", target)
	}

	_ = hc.conn.Close()

	if err := receive(t, errCh, "invoke result"); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("Invoke error = %v, want ErrConnectionLost", err)
	}
	if transport.State() != StateReconnecting {
		t.Fatalf("state = %v, want reconnecting", transport.State())
	}
}

func TestWebSocketTransportCloseFrameEndsTransport(t *testing.T) {
	hub, server := newTestHub(t)
	rec := newTransportRecorder()
	transport := newTestTransport(t, server.URL, rec, nil)
	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hc := hub.nextConn(t)

	hc.send(t, `{"type":7,"error":"bye"}`)

	err := receive(t, rec.closed, "close")
	var hubErr *HubError
	if !errors.As(err, &hubErr) || hubErr.Message != "bye" {
		t.Fatalf("OnClose error = %v, want HubError bye", err)
	}
	if transport.State() != StateDisconnected {
		t.Fatalf("state = %v", transport.State())
	}
	time.Sleep(50 * time.Millisecond)
	if n := hub.negotiateCount(); n != 1 {
		t.Fatalf("negotiations = %d, want no reconnect", n)
	}

	if err := transport.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-rec.closed:
		t.Fatal("Stop after server close should not fire OnClose again")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketTransportCloseFrameAllowReconnect(t *testing.T) {
	hub, server := newTestHub(t)
	rec := newTransportRecorder()
	transport := newTestTransport(t, server.URL, rec, nil)
	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hc := hub.nextConn(t)

	hc.send(t, `{"type":7,"error":"restarting","allowReconnect":true}`)

	receive(t, rec.reconnecting, "reconnecting")
	if id := receive(t, rec.reconnected, "reconnected"); id != "cid-2" {
		t.Fatalf("reconnected id = %q", id)
	}
}

func TestWebSocketTransportServerTimeout(t *testing.T) {
	hub, server := newTestHub(t)
	rec := newTransportRecorder()
	transport := newTestTransport(t, server.URL, rec, func(cfg *TransportConfig) {
		cfg.KeepAliveInterval = 20 * time.Millisecond
		cfg.ServerTimeout = 100 * time.Millisecond
		cfg.ReconnectSchedule = backoff.Schedule{time.Hour}
	})
	if err := transport.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	hub.nextConn(t)

	err := receive(t, rec.reconnecting, "reconnecting")
	if err == nil || !strings.Contains(err.Error(), "server timeout") {
		t.Fatalf("reconnecting error = %v, want server timeout", err)
	}
}

func TestWebSocketTransportNegotiateError(t *testing.T) {
	hub, server := newTestHub(t)
	hub.mu.Lock()
	hub.negotiateBody = `{"error":"Unauthorized"}`
	hub.mu.Unlock()
	rec := newTransportRecorder()
	transport := newTestTransport(t, server.URL, rec, nil)

	err := transport.Start(context.Background())
	var fault *TransportFault
	if !errors.As(err, &fault) || fault.Op != "negotiate" {
		t.Fatalf("Start error = %v, want negotiate fault", err)
	}
	var hubErr *HubError
	if !errors.As(err, &hubErr) || hubErr.Message != "Unauthorized" {
		t.Fatalf("Start error = %v, want HubError", err)
	}
	if transport.State() != StateDisconnected {
		t.Fatalf("state = %v", transport.State())
	}
}

func TestWebSocketTransportStopDuringConnect(t *testing.T) {
	blocked := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(blocked)
		<-r.Context().Done()
	}))
	defer server.Close()

	rec := newTransportRecorder()
	transport := newTestTransport(t, server.URL, rec, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- transport.Start(context.Background()) }()
	<-blocked

	if err := transport.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := receive(t, errCh, "start result"); !errors.Is(err, ErrTransportClosed) {
		t.Fatalf("Start error = %v, want ErrTransportClosed", err)
	}
	if err := receive(t, rec.closed, "close"); err != nil {
		t.Fatalf("OnClose error = %v", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:5000/eventhub", want: "ws://localhost:5000/eventhub?id=tok"},
		{in: "https://tickets.example.com/eventhub", want: "wss://tickets.example.com/eventhub?id=tok"},
		{in: "wss://hub.example.com/eventhub", want: "wss://hub.example.com/eventhub?id=tok"},
		{in: "ftp://nope/eventhub", wantErr: true},
	}
	for _, tt := range tests {
		got, err := websocketURL(tt.in, "tok")
		if tt.wantErr {
			if err == nil {
				t.Errorf("websocketURL(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("websocketURL(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestNegotiateToken(t *testing.T) {
	v1 := negotiateResponse{ConnectionID: "id", ConnectionToken: "token", NegotiateVersion: 1}
	if v1.token() != "token" {
		t.Errorf("v1 token = %q", v1.token())
	}
	v0 := negotiateResponse{ConnectionID: "id"}
	if v0.token() != "id" {
		t.Errorf("v0 token = %q", v0.token())
	}
}

func TestEventPayload(t *testing.T) {
	if p := eventPayload(nil); p != nil {
		t.Errorf("no arguments should yield nil payload, got %s", p)
	}
	one := eventPayload([]json.RawMessage{json.RawMessage(`{"a":1}`)})
	if string(one) != `{"a":1}` {
		t.Errorf("single argument = %s", one)
	}
	many := eventPayload([]json.RawMessage{json.RawMessage(`1`), json.RawMessage(`"x"`)})
	if string(many) != `[1,"x"]` {
		t.Errorf("multiple arguments = %s", many)
	}
}

func TestSplitRecords(t *testing.T) {
	records := splitRecords([]byte("{}\x1e{\"type\":6}\x1e\x1e"))
	if len(records) != 2 || string(records[1]) != `{"type":6}` {
		t.Fatalf("records = %q", records)
	}
}
