// Package livesession sequences authorization, connect, join, leave and
// disconnect for one member watching one live event.
package livesession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/eventlive/internal/api"
	"github.com/haasonsaas/eventlive/internal/backoff"
	"github.com/haasonsaas/eventlive/internal/hubclient"
	"github.com/haasonsaas/eventlive/internal/observability"
	"github.com/haasonsaas/eventlive/internal/presence"
	"github.com/haasonsaas/eventlive/pkg/models"
)

// ErrSessionActive is returned by Enter while another event's session is
// still running.
var ErrSessionActive = errors.New("live session already active")

// Hub is the push-channel client the controller drives.
type Hub interface {
	presence.Channel
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Connection() hubclient.Connection
	Subscribe(fn hubclient.EventHandler) func()
	OnStateChange(fn hubclient.StateHandler) func()
}

// Directory looks up the event window and the member's registration.
type Directory interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	// FindRegistration returns nil without error when the user has no
	// registration for the event.
	FindRegistration(ctx context.Context, eventID, userID string) (*models.Registration, error)
}

// MemberFunc returns the signed-in member, or nil when nobody is signed in.
type MemberFunc func(ctx context.Context) (*models.User, error)

// Config tunes the controller.
type Config struct {
	// LeaveGrace is waited between LeaveEvent settling and stopping the
	// hub (default 100ms).
	LeaveGrace time.Duration

	Presence presence.Config
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer

	// Now overrides the clock used for the live-window check.
	Now func() time.Time
}

// Snapshot is a consistent view of the session for rendering.
type Snapshot struct {
	State        State
	EventID      string
	Event        *models.Event
	Member       *models.User
	DenialReason string
	Joined       bool
	Connection   hubclient.Connection
	Viewers      int
	HasViewers   bool
	Events       []hubclient.ActivityEvent
	LastError    string
}

// Controller owns one hub connection and one presence coordinator.
type Controller struct {
	hub         Hub
	directory   Directory
	member      MemberFunc
	coordinator *presence.Coordinator
	config      Config
	logger      *slog.Logger
	metrics     *observability.Metrics
	tracer      *observability.Tracer

	mu        sync.Mutex
	state     State
	eventID   string
	event     *models.Event
	user      *models.User
	reason    string
	hasJoined bool
	lastErr   error
	// attemptedConn is the connection a failed join was tried on; the
	// next attempt waits for a different connection.
	attemptedConn string
	// generation increments per Enter so late join results are ignored.
	generation uint64
	// teardown is closed when the background work of the last Unload
	// finishes; Enter waits for it.
	teardown   chan struct{}
	cancel     context.CancelFunc
	sessionCtx context.Context

	updates chan struct{}
	unsubs  []func()
}

// NewController wires a controller to hub. A nil logger uses slog.Default.
func NewController(hub Hub, directory Directory, member MemberFunc, config Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if config.LeaveGrace <= 0 {
		config.LeaveGrace = 100 * time.Millisecond
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Presence.Metrics == nil {
		config.Presence.Metrics = config.Metrics
	}

	c := &Controller{
		hub:       hub,
		directory: directory,
		member:    member,
		config:    config,
		logger:    observability.Component(logger, "livesession"),
		metrics:   config.Metrics,
		tracer:    config.Tracer,
		updates:   make(chan struct{}, 1),
	}
	c.coordinator = presence.NewCoordinator(hub, config.Presence, logger)
	c.unsubs = append(c.unsubs,
		hub.Subscribe(c.onActivity),
		hub.OnStateChange(c.onConnection),
	)
	return c
}

// Enter authorizes the member for eventID and, when allowed, starts the
// hub. Joining happens once the hub reports Connected. Denials are not
// errors; they leave the controller in StateDenied with a reason. Lookup
// failures other than not-found also deny and are returned.
func (c *Controller) Enter(ctx context.Context, eventID string) error {
	c.mu.Lock()
	for c.teardown != nil {
		pending := c.teardown
		c.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
		if c.teardown == pending {
			c.teardown = nil
		}
	}
	switch c.state {
	case StateIdle:
	case StateDenied:
		if c.eventID == eventID {
			c.mu.Unlock()
			return nil
		}
	default:
		same := c.eventID == eventID
		c.mu.Unlock()
		if same {
			return nil
		}
		return ErrSessionActive
	}
	c.generation++
	gen := c.generation
	c.eventID = eventID
	c.event = nil
	c.user = nil
	c.reason = ""
	c.lastErr = nil
	c.attemptedConn = ""
	c.transitionLocked(StateAuthorizing)
	c.mu.Unlock()
	c.notify()

	ctx, span := c.tracer.TraceSessionEnter(ctx, eventID)
	defer span.End()

	user, event, reason, err := c.authorize(ctx, eventID)
	if err != nil {
		c.tracer.RecordError(span, err)
	}

	c.mu.Lock()
	if c.generation != gen || c.state != StateAuthorizing {
		c.mu.Unlock()
		return nil
	}
	c.user = user
	c.event = event
	if reason != "" {
		c.reason = reason
		c.lastErr = err
		c.transitionLocked(StateDenied)
		c.mu.Unlock()
		c.notify()
		c.logger.Info("live session denied", "event_id", eventID, "reason", reason)
		c.tracer.SetAttributes(span, "session.denied", reason)
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.sessionCtx = sessionCtx
	c.cancel = cancel
	c.transitionLocked(StateConnecting)
	c.mu.Unlock()
	c.notify()

	if err := c.hub.Start(ctx); err != nil {
		// The hub retries on its own; the join follows its next Connected state.
		c.logger.Warn("hub start failed", "event_id", eventID, "error", err)
		c.tracer.AddEvent(span, "hub.start_failed", "error", err.Error())
		return nil
	}
	c.tryJoin(gen)
	return nil
}

func (c *Controller) authorize(ctx context.Context, eventID string) (*models.User, *models.Event, string, error) {
	user, err := c.member(ctx)
	if err != nil {
		return nil, nil, ReasonNotLoggedIn, fmt.Errorf("load member: %w", err)
	}
	if user == nil {
		return nil, nil, ReasonNotLoggedIn, nil
	}

	event, err := c.directory.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return user, nil, ReasonNotFound, nil
		}
		return user, nil, ReasonLoadFailed, fmt.Errorf("load event: %w", err)
	}
	if event == nil {
		return user, nil, ReasonNotFound, nil
	}

	reg, err := c.directory.FindRegistration(ctx, eventID, user.UserID)
	if err != nil {
		return user, event, ReasonNotRegistered, fmt.Errorf("check registration: %w", err)
	}
	if reg == nil {
		return user, event, ReasonNotRegistered, nil
	}
	if !event.IsLive(c.config.Now()) {
		return user, event, ReasonNotLive, nil
	}
	return user, event, "", nil
}

func (c *Controller) onConnection(conn hubclient.Connection) {
	c.notify()
	if conn.State != hubclient.StateConnected {
		return
	}
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	// State listeners run on the hub's dispatch path; joining waits for a
	// completion delivered on that path.
	go c.tryJoin(gen)
}

func (c *Controller) onActivity(ev hubclient.ActivityEvent) {
	c.coordinator.Record(ev)
	c.notify()
}

// tryJoin issues the single join for the current session. The join flag
// is set before the call and cleared on failure.
func (c *Controller) tryJoin(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.hasJoined || c.coordinator.Leaving() || c.state != StateConnecting || c.user == nil {
		c.mu.Unlock()
		return
	}
	conn := c.hub.Connection()
	if conn.State != hubclient.StateConnected || (c.attemptedConn != "" && conn.ID == c.attemptedConn) {
		c.mu.Unlock()
		return
	}
	c.attemptedConn = conn.ID
	c.hasJoined = true
	c.transitionLocked(StateJoining)
	ctx := c.sessionCtx
	eventID, memberID := c.eventID, c.user.UserID
	c.mu.Unlock()
	c.notify()

	err := c.coordinator.JoinRoom(ctx, eventID, memberID)

	c.mu.Lock()
	if c.generation != gen || c.state != StateJoining {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.hasJoined = false
		c.lastErr = err
		c.transitionLocked(StateConnecting)
		c.mu.Unlock()
		c.notify()
		c.logger.Error("join failed", "event_id", eventID, "error", err)
		return
	}
	c.lastErr = nil
	c.attemptedConn = ""
	c.transitionLocked(StateActive)
	c.mu.Unlock()
	c.notify()
	c.logger.Info("live session active", "event_id", eventID)
}

// Leave tears the session down: LeaveEvent when joined, the leave grace,
// then hub stop and a full presence reset. Failures are logged and
// absorbed. Calling Leave again while a leave runs does nothing.
func (c *Controller) Leave(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateLeaving {
		c.mu.Unlock()
		return
	}
	gen := c.generation
	joined := c.hasJoined && c.coordinator.BeginLeave()
	eventID := c.eventID
	var memberID string
	if c.user != nil {
		memberID = c.user.UserID
	}
	c.transitionLocked(StateLeaving)
	c.mu.Unlock()
	c.notify()

	if joined {
		c.coordinator.LeaveRoom(ctx, eventID, memberID)
		c.mu.Lock()
		c.hasJoined = false
		c.mu.Unlock()
		if err := backoff.SleepWithContext(ctx, c.config.LeaveGrace); err != nil {
			c.logger.Debug("leave grace interrupted", "error", err)
		}
	}

	c.hub.Stop(ctx)
	c.coordinator.Reset()

	c.mu.Lock()
	if c.generation == gen {
		c.finishLocked()
	}
	c.mu.Unlock()
	c.notify()
	c.logger.Info("live session left", "event_id", eventID, "joined", joined)
}

// Unload moves straight to Idle. A best-effort LeaveEvent is fired without
// waiting, followed by hub stop; the returned channel closes when that
// background teardown finishes. A later Enter waits for it.
func (c *Controller) Unload() <-chan struct{} {
	c.mu.Lock()
	if c.teardown != nil && c.state == StateIdle {
		pending := c.teardown
		c.mu.Unlock()
		return pending
	}
	done := make(chan struct{})
	c.teardown = done
	joined := c.hasJoined && c.hub.State() == hubclient.StateConnected
	eventID := c.eventID
	var memberID string
	if c.user != nil {
		memberID = c.user.UserID
	}
	c.generation++
	c.hasJoined = false
	c.finishLocked()
	c.mu.Unlock()
	c.notify()

	go func() {
		_ = observability.WithSpan(context.Background(), c.tracer, "session.unload", func(ctx context.Context, span trace.Span) error {
			c.tracer.SetAttributes(span, "session.room", eventID, "session.joined", joined)
			if joined {
				c.coordinator.LeaveRoom(ctx, eventID, memberID)
			}
			c.hub.Stop(ctx)
			c.coordinator.Reset()
			return nil
		})

		c.mu.Lock()
		if c.teardown == done {
			c.teardown = nil
		}
		c.mu.Unlock()
		close(done)
	}()
	return done
}

func (c *Controller) finishLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.sessionCtx = nil
	c.transitionLocked(StateIdle)
}

// Close detaches the controller from the hub.
func (c *Controller) Close() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

// Updates signals after any change visible in Snapshot. Signals coalesce.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		State:        c.state,
		EventID:      c.eventID,
		Event:        c.event,
		Member:       c.user,
		DenialReason: c.reason,
		Joined:       c.hasJoined,
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	snap.Connection = c.hub.Connection()
	snap.Viewers, snap.HasViewers = c.coordinator.ViewerCount()
	snap.Events = c.coordinator.Events()
	return snap
}

// Coordinator exposes the presence coordinator.
func (c *Controller) Coordinator() *presence.Coordinator {
	return c.coordinator
}

func (c *Controller) transitionLocked(to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.metrics.RecordSessionTransition(from.String(), to.String())
	c.logger.Debug("session transition", "from", from.String(), "to", to.String())
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}
