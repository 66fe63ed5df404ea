package client

import (
	"sync"
	"time"
)

// Backoff computes reconnect delays. Each failed attempt doubles the
// delay up to Max; a successful login resets it to Min. Next and Reset
// are called from different goroutines (the reconnect scheduler and
// the read loop) and are safe to use concurrently.
type Backoff struct {
	Min time.Duration
	Max time.Duration

	mu  sync.Mutex
	cur time.Duration
}

// NewBackoff returns a backoff starting at min and capped at max
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	return &Backoff{Min: min, Max: max}
}

// Next returns the delay to wait before the next attempt and advances
// the internal state
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cur == 0 {
		b.cur = b.Min
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.Max {
		b.cur = b.Max
	}
	return d
}

// Reset returns the backoff to its initial delay
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.cur = 0
	b.mu.Unlock()
}
