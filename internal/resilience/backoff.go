package resilience

import "time"

// Backoff yields capped exponential retry delays: initial, 2x, 4x, up to max.
// Not safe for concurrent use; each retry loop owns its own Backoff.
type Backoff struct {
	initial time.Duration
	max     time.Duration
	next    time.Duration
}

// NewBackoff creates a Backoff starting at initial and capped at max.
// Non-positive arguments take 1 s and 30 s.
func NewBackoff(initial, max time.Duration) *Backoff {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &Backoff{initial: initial, max: max, next: initial}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > b.max {
		b.next = b.max
	}
	return d
}

// Reset rewinds the sequence to its initial delay. Call after a successful
// attempt.
func (b *Backoff) Reset() {
	b.next = b.initial
}
