package executor

import (
	"math/rand"
	"time"
)

// RetryStrategy calculates the delay before a retry attempt.
type RetryStrategy interface {
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff doubles (or multiplies) the delay per attempt up to a
// cap, with optional jitter.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction of the delay randomized, 0..1
}

// NextRetry calculates the delay for the given attempt (1-based).
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= s.Multiplier
	}
	if delay > float64(s.MaxDelay) {
		delay = float64(s.MaxDelay)
	}
	if s.Jitter > 0 {
		delay += delay * s.Jitter * (rand.Float64()*2 - 1)
		if delay < 0 {
			delay = 0
		}
	}
	return time.Duration(delay)
}

// DefaultBackoff matches the transient-error policy: five retries starting
// at one second, capped at ten.
func DefaultBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}
