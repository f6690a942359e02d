package hubclient

// State is the lifecycle state of the push-channel connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateDisconnecting is only reported by transports while a graceful
	// shutdown is running.
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Connection is a point-in-time view of the push-channel session.
type Connection struct {
	// ID is the server-assigned connection identifier, empty when not connected.
	ID        string
	State     State
	LastError string
}

func (c Connection) IsConnected() bool    { return c.State == StateConnected }
func (c Connection) IsConnecting() bool   { return c.State == StateConnecting }
func (c Connection) IsReconnecting() bool { return c.State == StateReconnecting }

// ShortID returns the first eight characters of the connection identifier.
func (c Connection) ShortID() string {
	if len(c.ID) <= 8 {
		return c.ID
	}
	return c.ID[:8]
}
