// Defines the read and write tiers.

package ratelimit

import (
	"sync"
	"time"

	"github.com/Abd0M0hamed/jsdb/internal/config"
)

// Tier is a named limiter.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Limiters holds the read tier (select) and the write tier (insert, update
// and delete). A tier configured with 0 requests per minute is disabled.
type Limiters struct {
	mu      sync.RWMutex
	read    Tier
	write   Tier
	enabled map[string]bool
}

func burstFor(perMin int) int {
	return max(perMin/6, 1)
}

// New creates the tiers from the configured limits.
func New(rl config.RateLimits) *Limiters {
	l := &Limiters{
		read:    Tier{Name: "read", Limiter: NewLimiter(rl.ReadPerMin, time.Minute, burstFor(rl.ReadPerMin))},
		write:   Tier{Name: "write", Limiter: NewLimiter(rl.WritePerMin, time.Minute, burstFor(rl.WritePerMin))},
		enabled: map[string]bool{},
	}
	l.setEnabled(rl)
	return l
}

func (l *Limiters) setEnabled(rl config.RateLimits) {
	l.enabled["read"] = rl.ReadPerMin > 0
	l.enabled["write"] = rl.WritePerMin > 0
}

// Update applies new limits, typically after a configuration reload.
func (l *Limiters) Update(rl config.RateLimits) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setEnabled(rl)
	if rl.ReadPerMin > 0 {
		l.read.Limiter.SetLimit(rl.ReadPerMin, burstFor(rl.ReadPerMin))
	}
	if rl.WritePerMin > 0 {
		l.write.Limiter.SetLimit(rl.WritePerMin, burstFor(rl.WritePerMin))
	}
}

// ForCommand returns the tier of command, or nil when it is not limited.
func (l *Limiters) ForCommand(command string) *Tier {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	t := &l.write
	if command == "select" {
		t = &l.read
	}
	if !l.enabled[t.Name] {
		return nil
	}
	return t
}

// Close stops the limiters' cleanup goroutines.
func (l *Limiters) Close() {
	l.read.Limiter.Close()
	l.write.Limiter.Close()
}
