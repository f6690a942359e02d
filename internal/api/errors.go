package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound matches 404 responses.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized matches 401 responses that survived the refresh.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSessionExpired means the session could not be refreshed and has
	// been cleared; the user must log in again.
	ErrSessionExpired = errors.New("session expired, please log in again")
)

// StatusError is a non-successful API response.
type StatusError struct {
	StatusCode int
	Message    string
	Errors     []string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	if e.StatusCode == 0 {
		return msg
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, msg)
}

// Is lets errors.Is match ErrNotFound and ErrUnauthorized by status.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}
