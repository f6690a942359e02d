package hubclient

import "testing"

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "invocation", raw: `{"type":1,"target":"UserJoined","arguments":[{}]}`},
		{name: "completion", raw: `{"type":3,"invocationId":"1","result":true}`},
		{name: "ping", raw: `{"type":6}`},
		{name: "close", raw: `{"type":7,"error":"bye","allowReconnect":false}`},
		{name: "invocation without target", raw: `{"type":1}`, wantErr: true},
		{name: "completion without id", raw: `{"type":3}`, wantErr: true},
		{name: "unknown type", raw: `{"type":9}`, wantErr: true},
		{name: "missing type", raw: `{"target":"X"}`, wantErr: true},
		{name: "arguments not array", raw: `{"type":1,"target":"X","arguments":{}}`, wantErr: true},
		{name: "not json", raw: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := decodeFrame([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeFrame: %v", err)
			}
			if frame.Type == 0 {
				t.Fatal("frame type not decoded")
			}
		})
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		StateDisconnected:  "disconnected",
		StateConnecting:    "connecting",
		StateConnected:     "connected",
		StateReconnecting:  "reconnecting",
		StateDisconnecting: "disconnecting",
		State(99):          "unknown",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
