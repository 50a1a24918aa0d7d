package conn

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: min(base*2^n + jitter, max).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration
}

// BaseDelay is the delay for attempt n without jitter. It is non-decreasing
// in n and never exceeds Max.
func (b Backoff) BaseDelay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 62 || b.Base > b.Max>>attempt {
		return b.Max
	}
	return b.Base << attempt
}

// Delay is BaseDelay plus a random jitter in [0, Jitter), capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.BaseDelay(attempt)
	if b.Jitter > 0 {
		j := rand.N(b.Jitter)
		if d > b.Max-j {
			return b.Max
		}
		d += j
	}
	return d
}
