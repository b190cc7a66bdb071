package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Abd0M0hamed/jsdb/internal/config"
	"github.com/Abd0M0hamed/jsdb/internal/jsondb"
	"github.com/Abd0M0hamed/jsdb/internal/server/dto"
	"github.com/Abd0M0hamed/jsdb/internal/server/handlers"
	"github.com/Abd0M0hamed/jsdb/internal/server/ratelimit"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// newTestServer creates a server over a fresh data directory configured with
// the given extra yaml.
func newTestServer(t *testing.T, yaml string) *Server {
	t.Helper()
	dir := t.TempDir()
	content := "session_secret: " + testSecret + "\n" + yaml
	if err := os.WriteFile(filepath.Join(dir, config.FileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("config.Load failed: %v", err)
	}
	store, err := jsondb.Open(cfg.DatabasePath(), nil)
	if err != nil {
		t.Fatalf("jsondb.Open failed: %v", err)
	}
	limiters := ratelimit.New(cfg.Settings().RateLimits)
	s := New(cfg, handlers.NewDispatcher(store, cfg), "test", limiters)
	t.Cleanup(func() {
		limiters.Close()
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	})
	return s
}

type envelope struct {
	Error       int             `json:"error"`
	Code        string          `json:"code"`
	Messages    [][2]string     `json:"messages"`
	Data        json.RawMessage `json:"data"`
	Details     map[string]any  `json:"details"`
	TestingMode int             `json:"testing_mode"`
}

func do(t *testing.T, s *Server, r *http.Request) (*httptest.ResponseRecorder, *envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("invalid response %q: %v", w.Body.String(), err)
		}
	}
	return w, &env
}

func post(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Referer", "http://localhost:3000/app")
	return r
}

func TestServer_Commands(t *testing.T) {
	s := newTestServer(t, "testing_mode: true\n")

	w, env := do(t, s, post(`{"command":"insert","table":"items","values":{"id":1,"name":"a"}}`))
	if w.Code != http.StatusOK || env.Error != 0 || string(env.Data) != "1" {
		t.Fatalf("insert: %d %s", w.Code, w.Body.String())
	}
	if env.TestingMode != 1 {
		t.Error("testing_mode flag missing")
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != sessionCookie {
		t.Fatalf("cookies = %v", cookies)
	}

	do(t, s, post(`{"command":"insert","table":"items","values":{"id":2,"name":"b"}}`))

	// A GET with a session cookie and no referer.
	q := url.Values{
		"command": {"select"},
		"table":   {"items"},
		"where":   {`[["id",">=",2]]`},
		"columns": {`["name"]`},
	}
	r := httptest.NewRequest(http.MethodGet, "/api?"+q.Encode(), http.NoBody)
	r.AddCookie(cookies[0])
	w, env = do(t, s, r)
	if w.Code != http.StatusOK {
		t.Fatalf("select: %d %s", w.Code, w.Body.String())
	}
	if string(env.Data) != `{"items":{"name":"b"},"itemsCount":1}` {
		t.Errorf("select data = %s", env.Data)
	}
	if len(env.Messages) != 0 {
		t.Errorf("messages = %v", env.Messages)
	}

	// url-encoded form.
	form := url.Values{"command": {"delete"}, "table": {"items"}, "where": {`[["id","==",1]]`}}
	r = httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.AddCookie(cookies[0])
	if w, _ = do(t, s, r); w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	_, env = do(t, s, post(`{"command":"select","table":"items"}`))
	if string(env.Data) != `{"items":{"id":2,"name":"b"},"itemsCount":1}` {
		t.Errorf("select after delete = %s", env.Data)
	}
}

func TestServer_Errors(t *testing.T) {
	s := newTestServer(t, "testing_mode: true\nread_protected_tables: [secrets]\n")
	if w, _ := do(t, s, post(`{"command":"insert","table":"items","values":{"id":1}}`)); w.Code != http.StatusOK {
		t.Fatalf("insert: %d", w.Code)
	}
	tests := []struct {
		name   string
		req    func() *http.Request
		status int
		code   dto.ErrorCode
	}{
		{
			"no referer",
			func() *http.Request {
				r := post(`{"command":"select","table":"items"}`)
				r.Header.Del("Referer")
				return r
			},
			http.StatusUnauthorized, dto.ErrorCodeUnauthorized,
		},
		{
			"invalid json",
			func() *http.Request { return post(`{"command":`) },
			http.StatusBadRequest, dto.ErrorCodeInvalidFormat,
		},
		{
			"unknown field",
			func() *http.Request { return post(`{"command":"select","table":"items","limit":5}`) },
			http.StatusBadRequest, dto.ErrorCodeInvalidFormat,
		},
		{
			"bad command",
			func() *http.Request { return post(`{"command":"drop","table":"items"}`) },
			http.StatusBadRequest, dto.ErrorCodeValidationFailed,
		},
		{
			"protected table",
			func() *http.Request { return post(`{"command":"select","table":"secrets"}`) },
			http.StatusForbidden, dto.ErrorCodeProtectedTable,
		},
		{
			"bad operator",
			func() *http.Request { return post(`{"command":"select","table":"items","where":[["id","!=",1]]}`) },
			http.StatusBadRequest, dto.ErrorCodeInvalidOperator,
		},
		{
			"bad where in query",
			func() *http.Request {
				r := httptest.NewRequest(http.MethodGet, "/api?command=select&table=items&where=%5B", http.NoBody)
				r.Header.Set("Referer", "http://localhost/")
				return r
			},
			http.StatusBadRequest, dto.ErrorCodeInvalidFormat,
		},
		{
			"body too large",
			func() *http.Request {
				return post(`{"command":"insert","table":"items","values":{"a":"` + strings.Repeat("x", maxRequestBodyBytes) + `"}}`)
			},
			http.StatusRequestEntityTooLarge, dto.ErrorCodePayloadTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, s, tt.req())
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if env.Error != 1 || env.Code != string(tt.code) {
				t.Errorf("error = %d, code = %q, want %q", env.Error, env.Code, tt.code)
			}
			if len(env.Messages) != 1 || env.Messages[0][1] != dto.MessageError {
				t.Errorf("messages = %v", env.Messages)
			}
			if string(env.Data) != "[]" {
				t.Errorf("data = %s", env.Data)
			}
		})
	}
	t.Run("validation details", func(t *testing.T) {
		_, env := do(t, s, post(`{"command":"insert","table":"items"}`))
		if env.Details["field"] != "values" {
			t.Errorf("details = %v", env.Details)
		}
	})
}

func TestServer_RateLimit(t *testing.T) {
	s := newTestServer(t, "testing_mode: true\nrate_limits:\n  read_per_min: 0\n  write_per_min: 6\n")
	w, _ := do(t, s, post(`{"command":"insert","table":"tt","values":{"a":1}}`))
	if w.Code != http.StatusOK {
		t.Fatalf("first insert: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-RateLimit-Limit") != "6" {
		t.Errorf("X-RateLimit-Limit = %q", w.Header().Get("X-RateLimit-Limit"))
	}
	w, env := do(t, s, post(`{"command":"update","table":"tt","values":{"a":2}}`))
	if w.Code != http.StatusTooManyRequests || env.Code != string(dto.ErrorCodeRateLimitExceeded) {
		t.Fatalf("second write: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
	for range 3 {
		w, _ = do(t, s, post(`{"command":"select","table":"tt"}`))
		if w.Code != http.StatusOK {
			t.Fatalf("select limited: %d", w.Code)
		}
		if w.Header().Get("X-RateLimit-Limit") != "" {
			t.Error("headers written for an unlimited tier")
		}
	}
}

func TestServer_Referer(t *testing.T) {
	s := newTestServer(t, "allowed_domains: [example.com]\n")
	s.auth.lookupHost = func(ctx context.Context, host string) ([]string, error) {
		if strings.EqualFold(host, "example.com") {
			return []string{"93.184.215.14"}, nil
		}
		return nil, errors.New("no such host")
	}
	tests := []struct {
		name    string
		referer string
		tls     bool
		status  int
	}{
		{"allowed", "https://example.com/page", true, http.StatusOK},
		{"allowed mixed case", "https://EXAMPLE.com/page", true, http.StatusOK},
		{"plain http referer", "http://example.com/page", true, http.StatusUnauthorized},
		{"ip referer", "https://93.184.215.14/", true, http.StatusUnauthorized},
		{"other domain", "https://evil.test/", true, http.StatusUnauthorized},
		{"insecure request", "https://example.com/page", false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := post(`{"command":"select","table":"items"}`)
			r.Header.Set("Referer", tt.referer)
			if tt.tls {
				r.Header.Set("X-Forwarded-Proto", "https")
			}
			w, _ := do(t, s, r)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}

	t.Run("unresolvable domain", func(t *testing.T) {
		s.auth.lookupHost = func(ctx context.Context, host string) ([]string, error) { return nil, nil }
		r := post(`{"command":"select","table":"items"}`)
		r.Header.Set("Referer", "https://example.com/")
		r.Header.Set("X-Forwarded-Proto", "https")
		if w, _ := do(t, s, r); w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d", w.Code)
		}
	})
}

func TestAuthenticator_Session(t *testing.T) {
	s := newTestServer(t, "")
	a := s.auth
	now := time.Now()
	a.now = func() time.Time { return now }
	token, err := a.issue(testSecret, "10.0.0.1")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.verify(token, testSecret, "10.0.0.1"); err != nil {
		t.Errorf("verify() = %v", err)
	}
	if err := a.verify(token, testSecret, "10.0.0.2"); err == nil {
		t.Error("token accepted from another IP")
	}
	if err := a.verify(token, strings.Repeat("z", 32), "10.0.0.1"); err == nil {
		t.Error("token accepted with another secret")
	}
	now = now.Add(sessionTTL + time.Second)
	if err := a.verify(token, testSecret, "10.0.0.1"); err == nil {
		t.Error("expired token accepted")
	}

	// A valid cookie skips the referer checks.
	now = time.Now()
	token, err = a.issue(testSecret, "192.0.2.1")
	if err != nil {
		t.Fatal(err)
	}
	r := post(`{"command":"select","table":"items"}`)
	r.Header.Del("Referer")
	r.AddCookie(&http.Cookie{Name: sessionCookie, Value: token})
	if w, _ := do(t, s, r); w.Code != http.StatusOK {
		t.Errorf("status = %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_Audit(t *testing.T) {
	s := newTestServer(t, "testing_mode: true\nlogging: true\nlog_dir: audit\n")
	do(t, s, post(`{"command":"insert","table":"items","values":{"a":1}}`))
	do(t, s, post(`{"command":"select","table":"__jsdb_core"}`))
	b, err := os.ReadFile(s.cfg.LogPath())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 2 {
		t.Fatalf("audit log has %d lines: %s", len(lines), b)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["msg"] != "command" || rec["command"] != "insert" || rec["table"] != "items" || rec["ip"] != "192.0.2.1" {
		t.Errorf("record = %v", rec)
	}
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["code"] != string(dto.ErrorCodeProtectedTable) {
		t.Errorf("record = %v", rec)
	}
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, "")
	w, env := do(t, s, httptest.NewRequest(http.MethodGet, "/api/health", http.NoBody))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var h dto.HealthResponse
	if err := json.Unmarshal(env.Data, &h); err != nil {
		t.Fatal(err)
	}
	if h.Version != "test" {
		t.Errorf("health = %+v", h)
	}
}

func TestServer_Preflight(t *testing.T) {
	s := newTestServer(t, "allowed_domains: [example.com]\n")
	tests := []struct {
		origin string
		want   string
	}{
		{"https://example.com", "https://example.com"},
		{"https://evil.test", "*"},
		{"", "*"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodOptions, "/api", http.NoBody)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		w := httptest.NewRecorder()
		s.ServeHTTP(w, r)
		if w.Code != http.StatusNoContent {
			t.Errorf("status = %d", w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %q: Access-Control-Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}
}
