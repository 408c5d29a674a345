package infra

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket. Safe for concurrent use; the clock is
// injectable for tests.
type RateLimiter struct {
	mu    sync.Mutex
	now   func() time.Time
	burst float64
	rate  float64 // tokens per second
	have  float64
	at    time.Time // when have was last brought up to date
}

// NewRateLimiter allows bursts of burst and refills perSecond tokens.
func NewRateLimiter(burst int, perSecond float64) *RateLimiter {
	return NewRateLimiterWithClock(burst, perSecond, time.Now)
}

func NewRateLimiterWithClock(burst int, perSecond float64, now func() time.Time) *RateLimiter {
	return &RateLimiter{now: now, burst: float64(burst), rate: perSecond, have: float64(burst), at: now()}
}

// take spends one token if available. Otherwise it returns how long until
// one will be. r.mu must be held.
func (r *RateLimiter) take() (time.Duration, bool) {
	now := r.now()
	if dt := now.Sub(r.at).Seconds(); dt > 0 {
		r.have = min(r.burst, r.have+dt*r.rate)
		r.at = now
	}
	if r.have >= 1 {
		r.have--
		return 0, true
	}
	if r.rate <= 0 {
		return time.Hour, false
	}
	return time.Duration((1 - r.have) / r.rate * float64(time.Second)), false
}

// TryAcquire spends a token without blocking.
func (r *RateLimiter) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.take()
	return ok
}

// Wait blocks until a token is spent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		wait, ok := r.take()
		r.mu.Unlock()
		if ok {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// KeyedThrottle enforces a minimum interval between actions per key,
// measured on caller-supplied timestamps.
type KeyedThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	last     map[string]time.Time
}

func NewKeyedThrottle(interval time.Duration) *KeyedThrottle {
	return &KeyedThrottle{interval: interval, last: make(map[string]time.Time)}
}

// Allow reports whether key may act at now, and records it if so.
func (k *KeyedThrottle) Allow(key string, now time.Time) bool {
	if k.interval <= 0 {
		return true
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if last, ok := k.last[key]; ok && now.Sub(last) < k.interval {
		return false
	}
	k.last[key] = now
	return true
}
