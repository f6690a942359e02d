package livesession_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/eventlive/internal/api"
	"github.com/haasonsaas/eventlive/internal/hubclient"
	"github.com/haasonsaas/eventlive/internal/hubclient/hubtest"
	"github.com/haasonsaas/eventlive/internal/livesession"
	"github.com/haasonsaas/eventlive/internal/presence"
	"github.com/haasonsaas/eventlive/pkg/models"
)

var now = time.Date(2026, 6, 12, 19, 30, 0, 0, time.UTC)

type fakeDirectory struct {
	mu            sync.Mutex
	events        map[string]*models.Event
	registrations map[string]*models.Registration
	eventErr      error
	regErr        error
	lookups       int
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		events:        make(map[string]*models.Event),
		registrations: make(map[string]*models.Registration),
	}
}

func (d *fakeDirectory) addLiveEvent(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events[id] = &models.Event{ID: id, Title: "Event " + id, StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour)}
}

func (d *fakeDirectory) register(eventID, userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registrations[eventID+"/"+userID] = &models.Registration{ID: "reg-" + eventID, EventID: eventID, UserID: userID}
}

func (d *fakeDirectory) GetEvent(_ context.Context, eventID string) (*models.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	if d.eventErr != nil {
		return nil, d.eventErr
	}
	ev, ok := d.events[eventID]
	if !ok {
		return nil, fmt.Errorf("get event %s: %w", eventID, api.ErrNotFound)
	}
	return ev, nil
}

func (d *fakeDirectory) FindRegistration(_ context.Context, eventID, userID string) (*models.Registration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.regErr != nil {
		return nil, d.regErr
	}
	return d.registrations[eventID+"/"+userID], nil
}

func signedIn(user *models.User) livesession.MemberFunc {
	return func(context.Context) (*models.User, error) { return user, nil }
}

var ada = &models.User{UserID: "user-1", Email: "ada@example.com", FirstName: "Ada"}

type harness struct {
	factory    *hubtest.Factory
	client     *hubclient.Client
	directory  *fakeDirectory
	controller *livesession.Controller
}

func newHarness(t *testing.T, member livesession.MemberFunc) *harness {
	t.Helper()
	factory := hubtest.NewFactory()
	client := hubclient.NewClient(hubclient.Config{
		URL:             "http://hub.test/eventhub",
		StartRetryDelay: 20 * time.Millisecond,
		Factory:         factory.New,
	}, nil)
	dir := newDirectory()
	ctrl := livesession.NewController(client, dir, member, livesession.Config{
		LeaveGrace: time.Millisecond,
		Presence:   presence.Config{LeaveTimeout: 200 * time.Millisecond},
		Now:        func() time.Time { return now },
	}, nil)
	t.Cleanup(func() {
		ctrl.Close()
		client.Stop(context.Background())
	})
	return &harness{factory: factory, client: client, directory: dir, controller: ctrl}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (h *harness) invocations(method string) []hubtest.Invocation {
	var out []hubtest.Invocation
	for _, inv := range h.factory.Invocations() {
		if inv.Method == method {
			out = append(out, inv)
		}
	}
	return out
}

func (h *harness) waitActive(t *testing.T) {
	t.Helper()
	waitFor(t, "active session", func() bool { return h.controller.State() == livesession.StateActive })
}

func TestEnterDeniesWithoutCallingStart(t *testing.T) {
	loadErr := errors.New("connection refused")

	tests := []struct {
		name       string
		member     livesession.MemberFunc
		setup      func(d *fakeDirectory)
		wantReason string
		wantErr    error
	}{
		{
			name:       "no registration",
			member:     signedIn(ada),
			setup:      func(d *fakeDirectory) { d.addLiveEvent("evt-1") },
			wantReason: livesession.ReasonNotRegistered,
		},
		{
			name:   "outside event window",
			member: signedIn(ada),
			setup: func(d *fakeDirectory) {
				d.events["evt-1"] = &models.Event{ID: "evt-1", StartDate: now.Add(time.Hour), EndDate: now.Add(2 * time.Hour)}
				d.registrations["evt-1/user-1"] = &models.Registration{ID: "r", EventID: "evt-1", UserID: "user-1"}
			},
			wantReason: livesession.ReasonNotLive,
		},
		{
			name:       "event not found",
			member:     signedIn(ada),
			setup:      func(*fakeDirectory) {},
			wantReason: livesession.ReasonNotFound,
		},
		{
			name:       "event lookup fails",
			member:     signedIn(ada),
			setup:      func(d *fakeDirectory) { d.eventErr = loadErr },
			wantReason: livesession.ReasonLoadFailed,
			wantErr:    loadErr,
		},
		{
			name:       "signed out",
			member:     signedIn(nil),
			setup:      func(d *fakeDirectory) { d.addLiveEvent("evt-1") },
			wantReason: livesession.ReasonNotLoggedIn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.member)
			tt.setup(h.directory)

			err := h.controller.Enter(context.Background(), "evt-1")
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Enter: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Enter = %v, want %v", err, tt.wantErr)
			}

			snap := h.controller.Snapshot()
			if snap.State != livesession.StateDenied {
				t.Fatalf("state = %s, want denied", snap.State)
			}
			if snap.DenialReason != tt.wantReason {
				t.Errorf("reason = %q, want %q", snap.DenialReason, tt.wantReason)
			}
			if n := len(h.factory.Transports()); n != 0 {
				t.Errorf("hub was started %d times", n)
			}
		})
	}
}

func TestEnterJoinsOnce(t *testing.T) {
	h := newHarness(t, signedIn(ada))
	h.directory.addLiveEvent("evt-1")
	h.directory.register("evt-1", "user-1")

	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	h.waitActive(t)

	// Re-running entry while active is a no-op.
	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("second Enter: %v", err)
	}
	if err := h.controller.Enter(context.Background(), "evt-2"); !errors.Is(err, livesession.ErrSessionActive) {
		t.Fatalf("Enter other event = %v, want ErrSessionActive", err)
	}

	joins := h.invocations(presence.MethodJoin)
	if len(joins) != 1 {
		t.Fatalf("JoinEvent invocations = %d, want 1", len(joins))
	}
	if joins[0].Args[0] != "evt-1" || joins[0].Args[1] != "user-1" {
		t.Errorf("JoinEvent args = %v", joins[0].Args)
	}
	if len(h.factory.Transports()) != 1 {
		t.Errorf("transports = %d, want 1", len(h.factory.Transports()))
	}

	snap := h.controller.Snapshot()
	if !snap.Joined || snap.Connection.State != hubclient.StateConnected {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestPresenceFlowsIntoSnapshot(t *testing.T) {
	h := newHarness(t, signedIn(ada))
	h.directory.addLiveEvent("evt-1")
	h.directory.register("evt-1", "user-1")

	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	h.waitActive(t)

	h.factory.Last().Emit(hubclient.EventUserJoined, map[string]any{
		"userId": "user-2", "connectionId": "c-2", "currentViewers": 7,
	})

	snap := h.controller.Snapshot()
	if !snap.HasViewers || snap.Viewers != 7 {
		t.Fatalf("viewers = %d (%v), want 7", snap.Viewers, snap.HasViewers)
	}
	if len(snap.Events) == 0 || snap.Events[0].Name != hubclient.EventUserJoined {
		t.Fatalf("latest event = %+v", snap.Events)
	}
}

func TestJoinFailureRetriesOnNextConnect(t *testing.T) {
	h := newHarness(t, signedIn(ada))
	h.directory.addLiveEvent("evt-1")
	h.directory.register("evt-1", "user-1")

	var calls int
	var mu sync.Mutex
	h.factory.SetInvoke(func(_ context.Context, method string, _ []any) (json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		if method == presence.MethodJoin {
			calls++
			if calls == 1 {
				return nil, &hubclient.HubError{Message: "group unavailable"}
			}
		}
		return nil, nil
	})

	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	waitFor(t, "failed join", func() bool {
		snap := h.controller.Snapshot()
		return snap.State == livesession.StateConnecting && snap.LastError != ""
	})
	if h.controller.Snapshot().Joined {
		t.Fatal("join flag should be cleared after a failed join")
	}

	transport := h.factory.Last()
	transport.Drop(errors.New("network blip"))
	transport.Reconnect("conn-2")
	h.waitActive(t)

	if n := len(h.invocations(presence.MethodJoin)); n != 2 {
		t.Fatalf("JoinEvent invocations = %d, want 2", n)
	}
}

func TestLeave(t *testing.T) {
	h := newHarness(t, signedIn(ada))
	h.directory.addLiveEvent("evt-1")
	h.directory.register("evt-1", "user-1")

	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	h.waitActive(t)
	h.factory.Last().Emit(hubclient.EventUserJoined, map[string]any{"connectionId": "c-9", "currentViewers": 3})

	h.controller.Leave(context.Background())
	h.controller.Leave(context.Background())

	leaves := h.invocations(presence.MethodLeave)
	if len(leaves) != 1 {
		t.Fatalf("LeaveEvent invocations = %d, want 1", len(leaves))
	}

	snap := h.controller.Snapshot()
	if snap.State != livesession.StateIdle {
		t.Errorf("state = %s, want idle", snap.State)
	}
	if snap.Connection.State != hubclient.StateDisconnected {
		t.Errorf("hub state = %s, want disconnected", snap.Connection.State)
	}
	if len(snap.Events) != 0 || h.controller.Coordinator().ProcessedCount() != 0 {
		t.Errorf("activity log should be cleared, got %d events", len(snap.Events))
	}
	if snap.Joined {
		t.Error("join flag should be cleared")
	}
}

func TestLeaveWithoutJoinSkipsLeaveEvent(t *testing.T) {
	h := newHarness(t, signedIn(ada))
	h.directory.addLiveEvent("evt-1")

	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	h.controller.Leave(context.Background())

	if n := len(h.invocations(presence.MethodLeave)); n != 0 {
		t.Fatalf("LeaveEvent invocations = %d, want 0", n)
	}
	if h.controller.State() != livesession.StateIdle {
		t.Fatalf("state = %s, want idle", h.controller.State())
	}

	// Leaving a denied session allows a fresh attempt.
	h.directory.register("evt-1", "user-1")
	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	h.waitActive(t)
}

func TestLeaveIsBoundedWhenHubHangs(t *testing.T) {
	h := newHarness(t, signedIn(ada))
	h.directory.addLiveEvent("evt-1")
	h.directory.register("evt-1", "user-1")

	release := make(chan struct{})
	defer close(release)
	h.factory.SetInvoke(func(ctx context.Context, method string, _ []any) (json.RawMessage, error) {
		if method == presence.MethodLeave {
			<-release
		}
		return nil, nil
	})

	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	h.waitActive(t)

	start := time.Now()
	h.controller.Leave(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Leave took %s", elapsed)
	}
	if h.controller.State() != livesession.StateIdle {
		t.Fatalf("state = %s, want idle", h.controller.State())
	}
}

func TestUnload(t *testing.T) {
	h := newHarness(t, signedIn(ada))
	h.directory.addLiveEvent("evt-1")
	h.directory.register("evt-1", "user-1")

	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	h.waitActive(t)

	done := h.controller.Unload()
	if h.controller.State() != livesession.StateIdle {
		t.Fatalf("state = %s, want idle immediately", h.controller.State())
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unload teardown did not finish")
	}
	if n := len(h.invocations(presence.MethodLeave)); n != 1 {
		t.Fatalf("LeaveEvent invocations = %d, want 1", n)
	}
	if h.client.State() != hubclient.StateDisconnected {
		t.Fatalf("hub state = %s", h.client.State())
	}
}

func TestEnterAfterUnloadWaitsForTeardown(t *testing.T) {
	h := newHarness(t, signedIn(ada))
	h.directory.addLiveEvent("evt-1")
	h.directory.register("evt-1", "user-1")

	h.factory.SetInvoke(func(ctx context.Context, method string, _ []any) (json.RawMessage, error) {
		if method == presence.MethodLeave {
			select {
			case <-time.After(80 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, nil
	})

	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	h.waitActive(t)

	done := h.controller.Unload()
	if again := h.controller.Unload(); again != done {
		t.Fatal("second Unload should return the pending teardown")
	}
	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter after Unload: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("Enter returned before the unload teardown finished")
	}

	h.waitActive(t)
	if h.client.State() != hubclient.StateConnected {
		t.Fatalf("hub state = %s, want connected", h.client.State())
	}
	if n := len(h.invocations(presence.MethodJoin)); n != 2 {
		t.Fatalf("JoinEvent invocations = %d, want 2", n)
	}
	if n := len(h.invocations(presence.MethodLeave)); n != 1 {
		t.Fatalf("LeaveEvent invocations = %d, want 1", n)
	}
	m, ok := h.controller.Coordinator().Membership("evt-1", "user-1")
	if !ok || !m.Joined {
		t.Fatalf("membership = %+v, %v; want joined", m, ok)
	}
}

func TestDeniedIsTerminalForSameEvent(t *testing.T) {
	h := newHarness(t, signedIn(ada))
	h.directory.addLiveEvent("evt-1")
	h.directory.addLiveEvent("evt-2")
	h.directory.register("evt-2", "user-1")

	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	lookups := h.directory.lookups
	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter again: %v", err)
	}
	if h.directory.lookups != lookups {
		t.Fatal("re-entering a denied event should not authorize again")
	}

	if err := h.controller.Enter(context.Background(), "evt-2"); err != nil {
		t.Fatalf("Enter evt-2: %v", err)
	}
	h.waitActive(t)
	if got := h.controller.Snapshot().EventID; got != "evt-2" {
		t.Fatalf("event = %q", got)
	}
}

func TestUpdatesSignal(t *testing.T) {
	h := newHarness(t, signedIn(ada))
	h.directory.addLiveEvent("evt-1")

	if err := h.controller.Enter(context.Background(), "evt-1"); err != nil {
		t.Fatalf("Enter: %v", err)
	}
	select {
	case <-h.controller.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update signalled")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state livesession.State
		want  string
	}{
		{livesession.StateIdle, "idle"},
		{livesession.StateAuthorizing, "authorizing"},
		{livesession.StateDenied, "denied"},
		{livesession.StateConnecting, "connecting"},
		{livesession.StateJoining, "joining"},
		{livesession.StateActive, "active"},
		{livesession.StateLeaving, "leaving"},
		{livesession.State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
