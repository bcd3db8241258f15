package service

import "time"

// Backoff is the reconnect delay policy: exponential growth from Base by
// Factor, capped at Max. Pure state machine, no timers, so the supervisor
// can be tested without real waiting.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64

	attempt int
}

func NewBackoff(base, max time.Duration, factor float64) *Backoff {
	if base <= 0 {
		base = time.Second
	}
	if factor < 1 {
		factor = 2
	}
	if max < base {
		max = base
	}
	return &Backoff{Base: base, Max: max, Factor: factor}
}

// Next returns the delay before the next attempt and advances the policy.
// The first call after a Reset returns Base.
func (b *Backoff) Next() time.Duration {
	d := float64(b.Base)
	for i := 0; i < b.attempt; i++ {
		d *= b.Factor
		if d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}
	b.attempt++
	return time.Duration(d)
}

// Attempts returns how many delays have been handed out since the last
// reset.
func (b *Backoff) Attempts() int {
	return b.attempt
}

// Reset returns the policy to its base delay. Called after a connection
// stays up past the stability threshold.
func (b *Backoff) Reset() {
	b.attempt = 0
}
