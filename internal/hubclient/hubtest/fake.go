// Package hubtest provides an in-memory hub transport for tests of the hub
// client and its consumers.
package hubtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/haasonsaas/eventlive/internal/hubclient"
)

// InvokeFunc answers invocations made through a fake transport.
type InvokeFunc func(ctx context.Context, method string, args []any) (json.RawMessage, error)

// Invocation records one call to Transport.Invoke.
type Invocation struct {
	Method string
	Args   []any
}

// Factory builds fake transports and remembers each one it created. Use
// Factory.New as a hubclient.TransportFactory.
type Factory struct {
	mu         sync.Mutex
	startErrs  []error
	invoke     InvokeFunc
	gate       chan struct{}
	transports []*Transport
	nextID     int
}

// NewFactory creates a factory whose transports connect successfully.
func NewFactory() *Factory {
	return &Factory{}
}

// FailStarts queues errors returned by the next Start calls, one per call.
func (f *Factory) FailStarts(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startErrs = append(f.startErrs, errs...)
}

// SetInvoke installs the invocation responder for current and future transports.
func (f *Factory) SetInvoke(fn InvokeFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invoke = fn
}

// BlockStarts makes Start wait until the returned release function is
// called or the start context is cancelled.
func (f *Factory) BlockStarts() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// New implements hubclient.TransportFactory.
func (f *Factory) New(cfg hubclient.TransportConfig) hubclient.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &Transport{factory: f, cfg: cfg}
	f.transports = append(f.transports, t)
	return t
}

// Transports returns every transport built so far.
func (f *Factory) Transports() []*Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Transport(nil), f.transports...)
}

// Last returns the most recently built transport, or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

// Invocations returns the invocations made across all transports.
func (f *Factory) Invocations() []Invocation {
	var out []Invocation
	for _, t := range f.Transports() {
		out = append(out, t.Invocations()...)
	}
	return out
}

func (f *Factory) nextStart() (string, chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.startErrs) > 0 {
		err = f.startErrs[0]
		f.startErrs = f.startErrs[1:]
	}
	f.nextID++
	return fmt.Sprintf("conn-%d", f.nextID), f.gate, err
}

func (f *Factory) responder() InvokeFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoke
}

// Transport is a scriptable hubclient.Transport.
type Transport struct {
	factory *Factory
	cfg     hubclient.TransportConfig

	mu          sync.Mutex
	state       hubclient.State
	id          string
	invocations []Invocation
	stopCalls   int
}

// Config returns the configuration the client passed to the factory.
func (t *Transport) Config() hubclient.TransportConfig {
	return t.cfg
}

func (t *Transport) Start(ctx context.Context) error {
	id, gate, err := t.factory.nextStart()

	t.setState(hubclient.StateConnecting)
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			t.setState(hubclient.StateDisconnected)
			return ctx.Err()
		}
	}
	if err != nil {
		t.setState(hubclient.StateDisconnected)
		return err
	}

	t.mu.Lock()
	t.state = hubclient.StateConnected
	t.id = id
	t.mu.Unlock()
	return nil
}

func (t *Transport) Stop(context.Context) error {
	t.mu.Lock()
	t.stopCalls++
	prev := t.state
	t.state = hubclient.StateDisconnected
	t.id = ""
	t.mu.Unlock()

	if prev != hubclient.StateDisconnected && t.cfg.Handlers.OnClose != nil {
		t.cfg.Handlers.OnClose(nil)
	}
	return nil
}

func (t *Transport) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	t.mu.Lock()
	if t.state != hubclient.StateConnected {
		t.mu.Unlock()
		return nil, hubclient.ErrNotConnected
	}
	t.invocations = append(t.invocations, Invocation{Method: method, Args: args})
	t.mu.Unlock()

	if fn := t.factory.responder(); fn != nil {
		return fn(ctx, method, args)
	}
	return nil, nil
}

func (t *Transport) State() hubclient.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) ConnectionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Invocations returns the invocations made on this transport.
func (t *Transport) Invocations() []Invocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Invocation(nil), t.invocations...)
}

// StopCalls reports how many times Stop was called.
func (t *Transport) StopCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopCalls
}

// Emit delivers a server event. payload is JSON-encoded unless it is
// already a json.RawMessage.
func (t *Transport) Emit(name string, payload any) {
	var raw json.RawMessage
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case nil:
	default:
		data, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("hubtest: encode payload: %v", err))
		}
		raw = data
	}
	if t.cfg.Handlers.OnEvent != nil {
		t.cfg.Handlers.OnEvent(name, raw)
	}
}

// Drop simulates an unexpected connection loss.
func (t *Transport) Drop(err error) {
	t.setState(hubclient.StateReconnecting)
	if t.cfg.Handlers.OnReconnecting != nil {
		t.cfg.Handlers.OnReconnecting(err)
	}
}

// Reconnect completes a reconnect with a new connection identifier.
func (t *Transport) Reconnect(id string) {
	t.mu.Lock()
	t.state = hubclient.StateConnected
	t.id = id
	t.mu.Unlock()
	if t.cfg.Handlers.OnReconnected != nil {
		t.cfg.Handlers.OnReconnected(id)
	}
}

// Close simulates the server ending the connection.
func (t *Transport) Close(err error) {
	t.mu.Lock()
	t.state = hubclient.StateDisconnected
	t.id = ""
	t.mu.Unlock()
	if t.cfg.Handlers.OnClose != nil {
		t.cfg.Handlers.OnClose(err)
	}
}

func (t *Transport) setState(s hubclient.State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}
