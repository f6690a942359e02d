package backoff

import (
	"context"
	"time"
)

// SleepWithContext sleeps for the specified duration, respecting context cancellation.
// Returns nil if the sleep completed, or ctx.Err() if the context was cancelled.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	return SleepUntilDone(ctx, nil, duration)
}

// SleepUntilDone sleeps for duration unless ctx is cancelled or done is closed
// first. A closed done channel returns ErrInterrupted.
func SleepUntilDone(ctx context.Context, done <-chan struct{}, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if duration <= 0 {
		select {
		case <-done:
			return ErrInterrupted
		default:
			return nil
		}
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrInterrupted
	case <-timer.C:
		return nil
	}
}

// SleepWithSchedule sleeps for the schedule's delay at the given attempt.
func SleepWithSchedule(ctx context.Context, done <-chan struct{}, schedule Schedule, attempt int) error {
	return SleepUntilDone(ctx, done, schedule.Delay(attempt))
}
