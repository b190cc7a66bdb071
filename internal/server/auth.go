// Implements the referer gate and the session cookie.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Abd0M0hamed/jsdb/internal/config"
	"github.com/Abd0M0hamed/jsdb/internal/server/dto"
	"github.com/Abd0M0hamed/jsdb/internal/server/reqctx"
)

const (
	sessionCookie = "jsdb_session"
	sessionTTL    = time.Hour
)

var (
	errUnauthorized   = dto.Unauthorized("Unauthorized Access")
	errInsecure       = dto.Unauthorized("Secure connection is required")
	errInvalidSession = errors.New("invalid session")
)

// sessionClaims binds a session to the client IP.
type sessionClaims struct {
	IP string `json:"ip"`
	jwt.RegisteredClaims
}

// authenticator admits requests carrying a valid session cookie, or a referer
// from an allowed domain, in which case a new session is issued.
type authenticator struct {
	cfg        *config.Config
	lookupHost func(ctx context.Context, host string) ([]string, error)
	now        func() time.Time
}

func newAuthenticator(cfg *config.Config) *authenticator {
	return &authenticator{cfg: cfg, lookupHost: net.DefaultResolver.LookupHost, now: time.Now}
}

// authenticate returns nil when the request may proceed.
func (a *authenticator) authenticate(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	s := a.cfg.Settings()
	ip := reqctx.ClientIP(ctx)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if c, err := r.Cookie(sessionCookie); err == nil {
		if err := a.verify(c.Value, s.SessionSecret, ip); err == nil {
			if ref, err := url.Parse(r.Header.Get("Referer")); err == nil && ref.Host != "" &&
				(s.TestingMode || a.cfg.IsAllowedDomain(ref.Hostname())) {
				allowOrigin(w, ref)
			}
			return nil
		}
	}
	ref, err := a.validateReferer(ctx, r, &s)
	if err != nil {
		return err
	}
	if !s.TestingMode && !reqctx.IsTLS(r) {
		return errInsecure
	}
	token, err := a.issue(s.SessionSecret, ip)
	if err != nil {
		return dto.InternalWithError("Failed to create session", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   reqctx.IsTLS(r),
		SameSite: http.SameSiteLaxMode,
	})
	allowOrigin(w, ref)
	slog.DebugContext(ctx, "Session created", "ip", ip, "referer", ref.Host)
	return nil
}

func allowOrigin(w http.ResponseWriter, ref *url.URL) {
	w.Header().Set("Access-Control-Allow-Origin", ref.Scheme+"://"+ref.Host)
	w.Header().Set("Access-Control-Allow-Credentials", "true")
}

// validateReferer checks the Referer header. Outside testing mode the referer
// must be an https URL on an allowed domain name that resolves.
func (a *authenticator) validateReferer(ctx context.Context, r *http.Request, s *config.Settings) (*url.URL, error) {
	raw := r.Header.Get("Referer")
	if raw == "" {
		return nil, errUnauthorized
	}
	ref, err := url.Parse(raw)
	if err != nil || ref.Host == "" {
		return nil, errUnauthorized
	}
	if s.TestingMode {
		return ref, nil
	}
	if ref.Scheme != "https" {
		return nil, errInsecure
	}
	host := ref.Hostname()
	if net.ParseIP(host) != nil {
		return nil, errUnauthorized
	}
	if !a.cfg.IsAllowedDomain(host) {
		return nil, errUnauthorized
	}
	addrs, err := a.lookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		slog.WarnContext(ctx, "Referer does not resolve", "host", host, "err", err)
		return nil, errUnauthorized
	}
	return ref, nil
}

func (a *authenticator) issue(secret, ip string) (string, error) {
	now := a.now()
	claims := sessionClaims{
		IP: ip,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (a *authenticator) verify(tokenString, secret, ip string) error {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return errInvalidSession
	}
	if claims.IP == "" || claims.IP != ip {
		return errInvalidSession
	}
	return nil
}
