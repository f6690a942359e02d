package hubclient

import (
	"encoding/json"
	"time"
)

// Inbound event names bound by default.
const (
	EventConnected   = "Connected"
	EventJoinedEvent = "JoinedEvent"
	EventLeftEvent   = "LeftEvent"
	EventUserJoined  = "UserJoined"
	EventUserLeft    = "UserLeft"

	EventRegistrationCreated   = "RegistrationCreated"
	EventRegistrationCancelled = "RegistrationCancelled"
	EventAttendeeCheckedIn     = "AttendeeCheckedIn"
	EventCapacityUpdate        = "CapacityUpdate"
	EventUpdated               = "EventUpdated"
	EventDeleted               = "EventDeleted"

	// EventSystem is synthesized locally for connection lifecycle changes.
	EventSystem = "System"
)

// Messages carried by System events.
const (
	SystemConnected        = "Connected to hub"
	SystemConnectionFailed = "Connection failed"
	SystemReconnecting     = "Reconnecting..."
	SystemReconnected      = "Reconnected"
	SystemDisconnected     = "Disconnected"
)

// CoreEventNames are the presence and room events every client binds.
var CoreEventNames = []string{
	EventConnected,
	EventJoinedEvent,
	EventLeftEvent,
	EventUserJoined,
	EventUserLeft,
}

// ExtensionEventNames are the platform's domain events bound by default.
var ExtensionEventNames = []string{
	EventRegistrationCreated,
	EventRegistrationCancelled,
	EventAttendeeCheckedIn,
	EventCapacityUpdate,
	EventUpdated,
	EventDeleted,
}

// ActivityEvent is a single notification received from the hub, or a
// synthesized System event. It is immutable once created.
type ActivityEvent struct {
	// ID is generated locally for de-duplication.
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

// SystemPayload is the payload of a System event.
type SystemPayload struct {
	Message      string `json:"message"`
	Error        string `json:"error,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// DecodePayload unmarshals the event payload into v.
func (e ActivityEvent) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Payload, v)
}
