// Implements a per key token bucket rate limiter.

// Package ratelimit limits API commands per client IP.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool
	Limit      int           // requests per window
	Remaining  int           // requests left in current window
	ResetAt    time.Time     // when the bucket will be full again
	RetryAfter time.Duration // how long to wait before retrying (0 if allowed)
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	requests int
	window   time.Duration
	rate     rate.Limit
	burst    int
	stop     chan struct{}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter allowing requests per window with the given
// burst capacity.
func NewLimiter(requests int, window time.Duration, burst int) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		window:  window,
		stop:    make(chan struct{}),
	}
	l.setLocked(requests, burst)
	go l.cleanupLoop()
	return l
}

func (l *Limiter) setLocked(requests, burst int) {
	l.requests = requests
	l.rate = rate.Limit(float64(requests) / l.window.Seconds())
	l.burst = burst
}

// SetLimit changes the limit of new and existing buckets.
func (l *Limiter) SetLimit(requests, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if requests == l.requests && burst == l.burst {
		return
	}
	l.setLocked(requests, burst)
	now := time.Now()
	for _, b := range l.buckets {
		b.limiter.SetLimitAt(now, l.rate)
		b.limiter.SetBurstAt(now, l.burst)
	}
}

// Allow consumes one token for key when available.
func (l *Limiter) Allow(key string) Result {
	now := time.Now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	r, burst, requests := l.rate, l.burst, l.requests
	l.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	allowed := res.OK() && res.DelayFrom(now) == 0
	if !allowed && res.OK() {
		res.CancelAt(now)
	}

	tokens := b.limiter.TokensAt(now)
	out := Result{
		Allowed:   allowed,
		Limit:     requests,
		Remaining: max(int(tokens), 0),
	}
	if r > 0 {
		out.ResetAt = now.Add(time.Duration((float64(burst) - tokens) / float64(r) * float64(time.Second)))
		if !allowed {
			out.RetryAfter = max(time.Duration(float64(time.Second)/float64(r)), time.Second)
		}
	} else {
		out.ResetAt = now
	}
	return out
}

// cleanupLoop removes stale buckets every 10 minutes.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.stop:
			return
		}
	}
}

// cleanup removes full buckets not used in the last 10 minutes.
func (l *Limiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	stale := now.Add(-10 * time.Minute)
	for key, b := range l.buckets {
		if b.lastSeen.Before(stale) && b.limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.buckets, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (l *Limiter) Close() {
	close(l.stop)
}
