package hubclient

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a Connected channel.
	ErrNotConnected = errors.New("hub connection is not connected")

	// ErrStopped is returned by Start when Stop interrupted the attempt.
	ErrStopped = errors.New("hub client stopped")

	// ErrConnectionLost fails invocations still waiting when the socket drops.
	ErrConnectionLost = errors.New("hub connection lost")

	// ErrTransportClosed is returned by a transport after Stop.
	ErrTransportClosed = errors.New("hub transport closed")
)

// TransportFault wraps any failure reported by the underlying channel.
type TransportFault struct {
	Op     string
	Method string
	Err    error
}

func (e *TransportFault) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("hub %s %s: %v", e.Op, e.Method, e.Err)
	}
	return fmt.Sprintf("hub %s: %v", e.Op, e.Err)
}

func (e *TransportFault) Unwrap() error { return e.Err }

// HubError is an error reported by the server in a completion or close frame.
type HubError struct {
	Message string
}

func (e *HubError) Error() string { return e.Message }

func asFault(op, method string, err error) error {
	if err == nil {
		return nil
	}
	var fault *TransportFault
	if errors.As(err, &fault) {
		return err
	}
	return &TransportFault{Op: op, Method: method, Err: err}
}
