package service

import "time"

// Backoff returns the delay before the retry that follows a failed attempt.
// attempt is 1-based: the delay after the first failure is Delay(1).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ExponentialBackoff doubles from Initial and never exceeds Max.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is min(1s * 2^(attempt-1), 5m).
var DefaultBackoff = ExponentialBackoff{Initial: time.Second, Max: 5 * time.Minute}

func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Initial
	for i := 1; i < attempt; i++ {
		if d >= b.Max {
			break
		}
		d *= 2
	}
	if d > b.Max {
		return b.Max
	}
	return d
}
