package resilience

import (
	"time"
)

// ReconnectPolicy describes how a long-lived stream retries after an
// unexpected disconnect. Attempt numbers start at 1.
type ReconnectPolicy struct {
	MaxAttempts    int           // Attempts before giving up for good
	InitialBackoff time.Duration // Delay unit; attempt n waits InitialBackoff * Multiplier^n
	Multiplier     float64
	MaxBackoff     time.Duration // Cap on a single delay
}

// DefaultReconnectPolicy returns the streaming reconnect policy:
// min(2^n, 10) seconds, tolerating several hundred attempts so multi-hour
// sessions survive long outages.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:    300,
		InitialBackoff: 1 * time.Second,
		Multiplier:     2.0,
		MaxBackoff:     10 * time.Second,
	}
}

// Delay returns the wait before the given attempt.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return CalculateBackoff(attempt, p.InitialBackoff, p.MaxBackoff, p.Multiplier)
}

// Exhausted reports whether attempts already made reach the cap.
func (p ReconnectPolicy) Exhausted(attemptsMade int) bool {
	return p.MaxAttempts > 0 && attemptsMade >= p.MaxAttempts
}
