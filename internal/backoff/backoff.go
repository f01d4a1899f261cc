// Package backoff provides a fixed-schedule backoff policy shared by the
// hub reconnect loop and the top-level run supervision.
package backoff

import (
	"context"
	"time"
)

// Policy is an ordered sequence of retry delays. Attempts beyond the end of
// the schedule reuse the last delay, so the schedule caps rather than gives
// up.
type Policy struct {
	delays []time.Duration
}

// New returns a policy with the given delay schedule. An empty schedule
// retries immediately on every attempt.
func New(delays ...time.Duration) Policy {
	return Policy{delays: delays}
}

// Fixed returns a policy that waits the same delay on every attempt.
func Fixed(d time.Duration) Policy {
	return Policy{delays: []time.Duration{d}}
}

// Delay returns the wait before the given retry attempt (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	if len(p.delays) == 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(p.delays) {
		attempt = len(p.delays) - 1
	}
	return p.delays[attempt]
}

// Wait sleeps for the attempt's delay, returning early with the context
// error if the context is cancelled first.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	d := p.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
