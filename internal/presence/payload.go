package presence

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const presencePayloadSchema = `{
  "type": "object",
  "properties": {
    "userId": { "type": ["string", "null"] },
    "connectionId": { "type": ["string", "null"] },
    "currentViewers": { "type": "integer", "minimum": 0 }
  }
}`

var (
	payloadSchemaOnce sync.Once
	payloadSchema     *jsonschema.Schema
	payloadSchemaErr  error
)

// presencePayload is the body of UserJoined and UserLeft.
type presencePayload struct {
	UserID         string `json:"userId"`
	ConnectionID   string `json:"connectionId"`
	CurrentViewers *int   `json:"currentViewers"`
}

func decodePresence(raw json.RawMessage) (*presencePayload, error) {
	payloadSchemaOnce.Do(func() {
		payloadSchema, payloadSchemaErr = jsonschema.CompileString("presence_payload", presencePayloadSchema)
	})
	if payloadSchemaErr != nil {
		return nil, payloadSchemaErr
	}
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := payloadSchema.Validate(doc); err != nil {
		return nil, err
	}
	var payload presencePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// roomAck identifies which membership a JoinedEvent acknowledges. Empty
// fields match anything.
type roomAck struct {
	EventID string
	UserID  string
}

// decodeRoomAck reads a JoinedEvent body. The body is either an object
// carrying eventId and userId, or the bare event id. Anything else yields
// an empty ack.
func decodeRoomAck(raw json.RawMessage) roomAck {
	if len(raw) == 0 {
		return roomAck{}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return roomAck{}
	}
	if obj, ok := doc.(map[string]any); ok {
		return roomAck{EventID: idString(obj["eventId"]), UserID: idString(obj["userId"])}
	}
	return roomAck{EventID: idString(doc)}
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func (a roomAck) matches(key membershipKey) bool {
	if a.EventID != "" && a.EventID != key.room {
		return false
	}
	return a.UserID == "" || a.UserID == key.member
}
