package httpx

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes exponential retry delays with optional jitter.
type Backoff struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64
}

// NewBackoff returns a Backoff with defaults applied to non-positive values.
func NewBackoff(base, max time.Duration, jitter float64) Backoff {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if max <= 0 {
		max = time.Second
	}
	if max < base {
		max = base
	}
	return Backoff{
		BaseDelay: base,
		MaxDelay:  max,
		Jitter:    math.Max(0, math.Min(jitter, 1)),
	}
}

// ForAttempt returns the delay before retry number attempt (0-indexed).
func (b Backoff) ForAttempt(attempt int) time.Duration {
	delay := b.BaseDelay
	if attempt > 0 {
		// Cap the shift so the multiplication cannot overflow.
		shift := min(attempt, 30)
		delay = time.Duration(float64(b.BaseDelay) * float64(uint64(1)<<uint(shift)))
		if delay <= 0 || delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}
	if b.Jitter == 0 || delay <= 0 {
		return delay
	}
	factor := 1 + (rand.Float64()*2-1)*b.Jitter
	return time.Duration(float64(delay) * factor)
}
