package util

import "time"

// Backoff yields exponentially growing retry delays capped at a maximum.
// A Backoff belongs to a single retry loop.
type Backoff struct {
	next     time.Duration
	maxDelay time.Duration
}

// NewBackoff returns a Backoff that starts at initial and doubles up to maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{next: min(initial, maxDelay), maxDelay: maxDelay}
}

// Next returns the delay to wait now and doubles the one after it.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = min(2*b.next, b.maxDelay)
	return d
}
