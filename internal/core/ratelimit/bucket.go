// Package ratelimit provides an in-process token bucket keyed by caller id,
// used to throttle WhatsApp ingest clients and outgoing calls to optional
// extraction services.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter is a set of token buckets, one per key. Buckets refill continuously
// based on a monotonic clock, so wall-clock jumps never grant extra tokens.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	ratePerSec float64
	burst      float64
	now        func() time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a limiter refilling ratePerMinute tokens per minute with
// the given burst capacity. A non-positive rate disables limiting entirely.
func NewLimiter(ratePerMinute, burst float64) *Limiter {
	if burst <= 0 {
		burst = ratePerMinute
	}
	return &Limiter{
		buckets:    make(map[string]*bucket),
		ratePerSec: ratePerMinute / 60.0,
		burst:      burst,
		now:        time.Now,
	}
}

// Enabled reports whether the limiter actually limits anything.
func (l *Limiter) Enabled() bool {
	return l != nil && l.ratePerSec > 0
}

// Allow consumes one token for key. When the bucket is empty it returns
// false and the duration the caller should wait before retrying.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	return l.AllowN(key, 1)
}

// AllowN consumes n tokens for key.
func (l *Limiter) AllowN(key string, n float64) (bool, time.Duration) {
	if !l.Enabled() {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[key] = b
	}

	// Refill based on elapsed monotonic time.
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(l.burst, b.tokens+elapsed*l.ratePerSec)
		b.lastFill = now
	}

	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}

	missing := n - b.tokens
	wait := time.Duration(missing / l.ratePerSec * float64(time.Second))
	if wait <= 0 {
		wait = time.Second
	}
	return false, wait
}

// Reset drops the bucket for key, restoring a full burst on next use.
func (l *Limiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Size returns the number of tracked keys.
func (l *Limiter) Size() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
