// Package backoff provides reconnect delay schedules and cancellable sleeps.
package backoff

import (
	"fmt"
	"time"
)

// Schedule is an ordered list of delays applied after consecutive failures.
// Once the attempts run past the end of the list the final delay is held
// indefinitely.
type Schedule []time.Duration

// DefaultReconnectSchedule returns the push-channel reconnect schedule:
// 0ms, 2s, 5s, 10s, 30s, then 30s forever.
func DefaultReconnectSchedule() Schedule {
	return Schedule{
		0,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		30 * time.Second,
	}
}

// Delay returns the delay before the given retry attempt.
// Attempts start at 0; negative attempts are treated as 0.
// An empty schedule never waits.
func (s Schedule) Delay(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(s) {
		return s[len(s)-1]
	}
	return s[attempt]
}

// Validate reports negative delays.
func (s Schedule) Validate() error {
	for i, d := range s {
		if d < 0 {
			return fmt.Errorf("backoff delay %d is negative: %s", i, d)
		}
	}
	return nil
}

// Milliseconds renders the schedule as integer milliseconds, the unit used on
// the wire and in logs.
func (s Schedule) Milliseconds() []int64 {
	out := make([]int64, len(s))
	for i, d := range s {
		out[i] = d.Milliseconds()
	}
	return out
}
