// Package presence turns the hub's activity stream into a de-duplicated
// view of room membership and viewer count.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/eventlive/internal/cache"
	"github.com/haasonsaas/eventlive/internal/hubclient"
	"github.com/haasonsaas/eventlive/internal/observability"
)

// Hub methods invoked by the coordinator.
const (
	MethodJoin  = "JoinEvent"
	MethodLeave = "LeaveEvent"
)

// ErrLeaveTimeout is logged when LeaveEvent does not complete in time.
var ErrLeaveTimeout = errors.New("leave invocation timed out")

// Discard reasons reported to metrics.
const (
	discardDuplicate = "duplicate"
	discardRemount   = "remount"
	discardLeaving   = "leaving"
	discardInvalid   = "invalid"
)

// Channel is the part of the hub client the coordinator drives.
type Channel interface {
	State() hubclient.State
	Stopping() bool
	HasConnection() bool
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error)
}

// Config tunes the coordinator. Zero values take the defaults.
type Config struct {
	// LogCapacity bounds the activity log (default 100).
	LogCapacity int
	// RemountWindow suppresses a UserLeft that follows the same
	// connection's UserJoined this quickly (default 500ms).
	RemountWindow time.Duration
	// RecentJoinTTL prunes recent-join stamps (default 2s).
	RecentJoinTTL time.Duration
	// LeaveTimeout bounds LeaveRoom (default 3s).
	LeaveTimeout time.Duration

	Metrics *observability.Metrics
}

// Membership is the join state for one (room, member) pair.
type Membership struct {
	RoomID       string
	MemberID     string
	Joined       bool
	Confirmed    bool
	PendingLeave bool
}

type membershipKey struct {
	room   string
	member string
}

// Coordinator owns the activity log, processed-id memory, recent-join
// stamps and room memberships for one live session.
type Coordinator struct {
	channel Channel
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	log         []hubclient.ActivityEvent
	processed   map[string]struct{}
	recentJoins *cache.StampCache
	viewers     int
	hasViewers  bool
	leaving     bool
	lastErr     error
	memberships map[membershipKey]*Membership
	room        string
}

// NewCoordinator creates a coordinator over channel. A nil logger uses
// slog.Default.
func NewCoordinator(channel Channel, config Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.LogCapacity <= 0 {
		config.LogCapacity = 100
	}
	if config.RemountWindow <= 0 {
		config.RemountWindow = 500 * time.Millisecond
	}
	if config.RecentJoinTTL <= 0 {
		config.RecentJoinTTL = 2 * time.Second
	}
	if config.LeaveTimeout <= 0 {
		config.LeaveTimeout = 3 * time.Second
	}

	return &Coordinator{
		channel:   channel,
		config:    config,
		logger:    observability.Component(logger, "presence"),
		metrics:   config.Metrics,
		processed: make(map[string]struct{}),
		recentJoins: cache.NewStampCache(cache.StampCacheOptions{
			TTL:     config.RecentJoinTTL,
			MaxSize: config.LogCapacity,
		}),
		memberships: make(map[membershipKey]*Membership),
	}
}

// Record processes one activity event. Re-delivered events are ignored.
func (c *Coordinator) Record(ev hubclient.ActivityEvent) {
	at := ev.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, seen := c.processed[ev.ID]; seen {
		c.metrics.RecordPresenceDiscard(discardDuplicate)
		return
	}
	c.appendLocked(ev)
	if n := c.recentJoins.Prune(at); n > 0 {
		c.logger.Debug("pruned recent joins", "removed", n, "remaining", c.recentJoins.Size())
	}

	switch ev.Name {
	case hubclient.EventUserJoined:
		payload, ok := c.presenceLocked(ev)
		if !ok || payload.CurrentViewers == nil {
			return
		}
		c.recentJoins.Touch(payload.ConnectionID, at)
		c.setViewersLocked(*payload.CurrentViewers)

	case hubclient.EventUserLeft:
		payload, ok := c.presenceLocked(ev)
		if !ok || payload.CurrentViewers == nil {
			return
		}
		if payload.ConnectionID != "" && c.recentJoins.SeenWithin(payload.ConnectionID, at, c.config.RemountWindow) {
			c.recentJoins.Remove(payload.ConnectionID)
			c.metrics.RecordPresenceDiscard(discardRemount)
			c.logger.Debug("ignoring remount leave", "connection_id", payload.ConnectionID)
			return
		}
		if c.leaving {
			c.metrics.RecordPresenceDiscard(discardLeaving)
			return
		}
		c.recentJoins.Remove(payload.ConnectionID)
		c.setViewersLocked(*payload.CurrentViewers)

	case hubclient.EventJoinedEvent:
		ack := decodeRoomAck(ev.Payload)
		for key, m := range c.memberships {
			if m.Joined && ack.matches(key) {
				m.Confirmed = true
			}
		}
	}
}

// appendLocked inserts ev most-recent-first and forgets evicted ids.
func (c *Coordinator) appendLocked(ev hubclient.ActivityEvent) {
	c.processed[ev.ID] = struct{}{}
	c.log = append(c.log, hubclient.ActivityEvent{})
	copy(c.log[1:], c.log)
	c.log[0] = ev
	for len(c.log) > c.config.LogCapacity {
		evicted := c.log[len(c.log)-1]
		c.log = c.log[:len(c.log)-1]
		delete(c.processed, evicted.ID)
	}
}

func (c *Coordinator) presenceLocked(ev hubclient.ActivityEvent) (*presencePayload, bool) {
	payload, err := decodePresence(ev.Payload)
	if err != nil {
		c.metrics.RecordPresenceDiscard(discardInvalid)
		c.logger.Warn("invalid presence payload", "event", ev.Name, "error", err)
		return nil, false
	}
	return payload, true
}

func (c *Coordinator) setViewersLocked(count int) {
	c.viewers = count
	c.hasViewers = true
	c.metrics.SetViewers(c.room, count)
}

// JoinRoom issues JoinEvent for (roomID, memberID). A second call while a
// join is outstanding is a no-op. Faults are recorded and returned.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID, memberID string) error {
	key := membershipKey{room: roomID, member: memberID}

	c.mu.Lock()
	if m := c.memberships[key]; m != nil && m.Joined {
		c.mu.Unlock()
		return nil
	}
	if c.channel.State() != hubclient.StateConnected {
		c.mu.Unlock()
		return hubclient.ErrNotConnected
	}
	c.memberships[key] = &Membership{RoomID: roomID, MemberID: memberID, Joined: true}
	c.room = roomID
	c.mu.Unlock()

	if _, err := c.channel.Invoke(ctx, MethodJoin, roomID, memberID); err != nil {
		c.mu.Lock()
		delete(c.memberships, key)
		c.lastErr = err
		c.mu.Unlock()
		c.metrics.RecordError("presence", "join")
		c.logger.Error("join room failed", "room", roomID, "error", err)
		return err
	}

	c.logger.Info("joined room", "room", roomID, "member", memberID)
	return nil
}

// LeaveRoom issues LeaveEvent racing LeaveTimeout. It never returns an
// error: with no live connection it does nothing, and timeouts or faults
// are logged and absorbed.
func (c *Coordinator) LeaveRoom(ctx context.Context, roomID, memberID string) {
	key := membershipKey{room: roomID, member: memberID}

	if !c.channel.HasConnection() || c.channel.Stopping() || c.channel.State() != hubclient.StateConnected {
		c.logger.Debug("skipping leave without a live connection", "room", roomID)
		c.mu.Lock()
		delete(c.memberships, key)
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	m := c.memberships[key]
	if m == nil || !m.Joined || m.PendingLeave {
		c.mu.Unlock()
		return
	}
	m.PendingLeave = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.config.LeaveTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.channel.Invoke(ctx, MethodLeave, roomID, memberID)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			c.logger.Warn("leave room failed", "room", roomID, "error", err)
		} else {
			c.logger.Info("left room", "room", roomID, "member", memberID)
		}
	case <-ctx.Done():
		c.logger.Warn("leave room failed", "room", roomID, "error", ErrLeaveTimeout)
	}

	c.mu.Lock()
	delete(c.memberships, key)
	c.mu.Unlock()
}

// BeginLeave sets the leaving flag. It returns false if a leave is already
// in progress.
func (c *Coordinator) BeginLeave() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaving {
		return false
	}
	c.leaving = true
	return true
}

// Leaving reports whether the leaving flag is set.
func (c *Coordinator) Leaving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaving
}

// Reset clears everything the coordinator owns.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = nil
	c.processed = make(map[string]struct{})
	c.recentJoins.Clear()
	c.memberships = make(map[membershipKey]*Membership)
	c.viewers = 0
	c.hasViewers = false
	c.leaving = false
	c.lastErr = nil
	c.room = ""
}

// Events returns the activity log, most recent first.
func (c *Coordinator) Events() []hubclient.ActivityEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hubclient.ActivityEvent(nil), c.log...)
}

// ViewerCount returns the last authoritative viewer count, and false when
// none has been received.
func (c *Coordinator) ViewerCount() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewers, c.hasViewers
}

// ProcessedCount returns the size of the processed-id memory.
func (c *Coordinator) ProcessedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.processed)
}

// Membership returns the membership for (roomID, memberID).
func (c *Coordinator) Membership(roomID, memberID string) (Membership, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.memberships[membershipKey{room: roomID, member: memberID}]
	if !ok {
		return Membership{}, false
	}
	return *m, true
}

// LastError returns the last join fault.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}
