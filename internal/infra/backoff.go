package infra

import (
	"time"
)

// Backoff is a capped exponential reconnect delay: Base * 2^n, at most Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used by the feed workers.
var DefaultBackoff = Backoff{Base: 1 * time.Second, Max: 60 * time.Second}

// Delay returns the wait before retry n. Negative n yields Base.
func (b Backoff) Delay(n int) time.Duration {
	if n < 0 {
		return b.Base
	}
	// 2^30 seconds is far past any sane Max
	if n > 30 {
		return b.Max
	}
	d := b.Base * time.Duration(1<<n)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}
