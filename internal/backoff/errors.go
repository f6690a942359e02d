package backoff

import "errors"

// ErrInterrupted is returned when a sleep is cut short by its done channel.
var ErrInterrupted = errors.New("backoff sleep interrupted")
