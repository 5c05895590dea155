package dispatch

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes delivery retry delays with exponential growth.
type Backoff struct {
	Initial    time.Duration // Delay for attempt 0 (default: 1m)
	Max        time.Duration // Maximum delay, 0 for no cap
	Multiplier float64       // Multiplier per attempt (default: 2.0)
	Jitter     float64       // Jitter factor 0-1 (default: 0, keeps delays strictly increasing)
}

// DefaultBackoff returns the 2^n minutes schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    time.Minute,
		Multiplier: 2.0,
	}
}

// Delay returns the delay before the retry following attempt failures:
// Initial * Multiplier^attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = time.Minute
	}
	multiplier := b.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt))

	// Cap at maximum
	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// Apply jitter: delay * (1 + random(-jitter, +jitter))
	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay = delay + (rand.Float64()*2-1)*jitterRange
	}

	// Ensure non-negative
	if delay < 0 {
		delay = float64(initial)
	}

	return time.Duration(delay)
}
