package reqctx

import (
	"context"
	"crypto/tls"
	"net/http"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "X-Forwarded-For single IP",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195"},
			remoteAddr: "127.0.0.1:8080",
			want:       "203.0.113.195",
		},
		{
			name:       "X-Forwarded-For multiple IPs",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18"},
			remoteAddr: "127.0.0.1:8080",
			want:       "203.0.113.195",
		},
		{
			name:       "X-Real-IP",
			headers:    map[string]string{"X-Real-IP": "203.0.113.7"},
			remoteAddr: "127.0.0.1:8080",
			want:       "203.0.113.7",
		},
		{
			name:       "RemoteAddr with port",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.168.1.1",
			want:       "192.168.1.1",
		},
		{
			name:       "IPv6 RemoteAddr with port",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
		{
			name:       "bare IPv6 RemoteAddr",
			remoteAddr: "2001:db8::1",
			want:       "2001:db8::1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := GetClientIP(r); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsTLS(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/", http.NoBody)
	if IsTLS(r) {
		t.Error("plain request reported as TLS")
	}
	r.Header.Set("X-Forwarded-Proto", "HTTPS")
	if !IsTLS(r) {
		t.Error("forwarded https not detected")
	}
	r.Header.Del("X-Forwarded-Proto")
	r.TLS = &tls.ConnectionState{}
	if !IsTLS(r) {
		t.Error("TLS connection not detected")
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if ClientIP(ctx) != "" || !RequestID(ctx).IsZero() {
		t.Fatal("empty context returned values")
	}
	ctx = WithClientIP(ctx, "10.1.2.3")
	ctx, id := WithRequestID(ctx)
	if got := ClientIP(ctx); got != "10.1.2.3" {
		t.Errorf("ClientIP() = %q", got)
	}
	if id.IsZero() || RequestID(ctx) != id {
		t.Errorf("RequestID() = %v, want %v", RequestID(ctx), id)
	}
	_, other := WithRequestID(ctx)
	if other == id {
		t.Error("request IDs are not unique")
	}
}
