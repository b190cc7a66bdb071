package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(60, time.Minute, 3)
	defer l.Close()
	for i := range 3 {
		res := l.Allow("a")
		if !res.Allowed {
			t.Fatalf("request %d denied", i)
		}
		if res.Limit != 60 {
			t.Errorf("Limit = %d, want 60", res.Limit)
		}
	}
	res := l.Allow("a")
	if res.Allowed {
		t.Fatal("request over burst allowed")
	}
	if res.RetryAfter < time.Second {
		t.Errorf("RetryAfter = %v", res.RetryAfter)
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
	if !l.Allow("b").Allowed {
		t.Error("other key denied")
	}
}

func TestLimiter_SetLimit(t *testing.T) {
	l := NewLimiter(60, time.Minute, 1)
	defer l.Close()
	if !l.Allow("a").Allowed {
		t.Fatal("first request denied")
	}
	if l.Allow("a").Allowed {
		t.Fatal("second request allowed")
	}
	l.SetLimit(6000, 1000)
	res := l.Allow("a")
	if res.Limit != 6000 {
		t.Errorf("Limit = %d, want 6000", res.Limit)
	}
	for i := range 5 {
		if !l.Allow("new").Allowed {
			t.Fatalf("request %d denied after raising the limit", i)
		}
	}
}

func TestLimiter_cleanup(t *testing.T) {
	l := NewLimiter(60, time.Minute, 5)
	defer l.Close()
	l.Allow("a")
	l.cleanup(time.Now().Add(time.Hour))
	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 0 {
		t.Errorf("%d buckets left after cleanup", n)
	}
}

func TestLimiters(t *testing.T) {
	l := New(configLimits(600, 0))
	defer l.Close()
	if tier := l.ForCommand("select"); tier == nil || tier.Name != "read" {
		t.Errorf("ForCommand(select) = %v", tier)
	}
	for _, c := range []string{"insert", "update", "delete"} {
		if tier := l.ForCommand(c); tier != nil {
			t.Errorf("ForCommand(%s) = %v, want nil for a disabled tier", c, tier)
		}
	}
	l.Update(configLimits(0, 60))
	if tier := l.ForCommand("select"); tier != nil {
		t.Errorf("ForCommand(select) = %v after disabling", tier)
	}
	tier := l.ForCommand("insert")
	if tier == nil || tier.Name != "write" {
		t.Fatalf("ForCommand(insert) = %v", tier)
	}
	if res := tier.Limiter.Allow("k"); res.Limit != 60 {
		t.Errorf("Limit = %d, want 60", res.Limit)
	}
	var nilLimiters *Limiters
	if nilLimiters.ForCommand("select") != nil {
		t.Error("nil Limiters returned a tier")
	}
}
