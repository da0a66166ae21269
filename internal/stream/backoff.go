package stream

import "time"

// Backoff produces capped exponential delays: base * 2^attempt.
// Not safe for concurrent use.
type Backoff struct {
	Base    time.Duration
	Max     time.Duration
	attempt int
}

// Next returns the delay for the current attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	d := backoffDelay(b.Base, b.Max, b.attempt)
	b.attempt++
	return d
}

// Attempt returns the number of delays handed out since the last reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset zeroes the attempt counter.
func (b *Backoff) Reset() {
	b.attempt = 0
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}
