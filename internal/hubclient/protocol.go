package hubclient

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// recordSeparator terminates every JSON hub protocol record.
const recordSeparator = 0x1e

// Hub protocol message types.
const (
	frameInvocation       = 1
	frameStreamItem       = 2
	frameCompletion       = 3
	frameStreamInvocation = 4
	frameCancelInvocation = 5
	framePing             = 6
	frameClose            = 7
)

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// hubFrame is an inbound record.
type hubFrame struct {
	Type           int               `json:"type"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type invocationFrame struct {
	Type         int    `json:"type"`
	InvocationID string `json:"invocationId,omitempty"`
	Target       string `json:"target"`
	Arguments    []any  `json:"arguments"`
}

type pingFrame struct {
	Type int `json:"type"`
}

type negotiateResponse struct {
	ConnectionID     string `json:"connectionId"`
	ConnectionToken  string `json:"connectionToken"`
	NegotiateVersion int    `json:"negotiateVersion"`
	Error            string `json:"error"`
}

// token returns the value passed as ?id= when dialing.
func (n negotiateResponse) token() string {
	if n.NegotiateVersion >= 1 && n.ConnectionToken != "" {
		return n.ConnectionToken
	}
	return n.ConnectionID
}

// encodeRecord marshals v and appends the record separator.
func encodeRecord(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

// splitRecords splits a websocket message into its JSON records.
func splitRecords(data []byte) [][]byte {
	var records [][]byte
	for _, part := range bytes.Split(data, []byte{recordSeparator}) {
		if len(bytes.TrimSpace(part)) == 0 {
			continue
		}
		records = append(records, part)
	}
	return records
}

// eventPayload collapses invocation arguments into a single payload: the
// first argument when there is exactly one, the array otherwise.
func eventPayload(args []json.RawMessage) json.RawMessage {
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	default:
		data, err := json.Marshal(args)
		if err != nil {
			return nil
		}
		return data
	}
}

// parseHandshake validates the first record sent by the server.
func parseHandshake(record []byte) error {
	var resp handshakeResponse
	if err := json.Unmarshal(record, &resp); err != nil {
		return fmt.Errorf("invalid handshake response: %w", err)
	}
	if resp.Error != "" {
		return &HubError{Message: resp.Error}
	}
	return nil
}
