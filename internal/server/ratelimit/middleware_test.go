package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Abd0M0hamed/jsdb/internal/config"
)

func configLimits(read, write int) config.RateLimits {
	return config.RateLimits{ReadPerMin: read, WritePerMin: write}
}

func TestWriteHeaders(t *testing.T) {
	reset := time.Unix(1700000000, 0)
	tests := []struct {
		name   string
		result Result
		retry  string
	}{
		{"allowed", Result{Allowed: true, Limit: 100, Remaining: 99, ResetAt: reset}, ""},
		{"denied", Result{Allowed: false, Limit: 100, ResetAt: reset, RetryAfter: 2 * time.Second}, "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteHeaders(w, tt.result)
			if got := w.Header().Get("X-RateLimit-Limit"); got != "100" {
				t.Errorf("X-RateLimit-Limit = %q", got)
			}
			if got := w.Header().Get("X-RateLimit-Reset"); got != "1700000000" {
				t.Errorf("X-RateLimit-Reset = %q", got)
			}
			if got := w.Header().Get("Retry-After"); got != tt.retry {
				t.Errorf("Retry-After = %q, want %q", got, tt.retry)
			}
		})
	}
}

func TestBuildKey(t *testing.T) {
	if got := BuildKey("read", "10.0.0.1"); got != "ip:10.0.0.1:read" {
		t.Errorf("BuildKey() = %q", got)
	}
}

func TestCheck(t *testing.T) {
	l := New(configLimits(6, 6))
	defer l.Close()
	w := httptest.NewRecorder()
	if !Check(w, nil, "ip").Allowed {
		t.Error("nil tier denied")
	}
	if w.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("headers written for a nil tier")
	}
	tier := l.ForCommand("select")
	if !Check(w, tier, "ip").Allowed {
		t.Fatal("first request denied")
	}
	w = httptest.NewRecorder()
	if Check(w, tier, "ip").Allowed {
		t.Fatal("second request allowed with a burst of 1")
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
}
