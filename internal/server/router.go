// Package server implements the HTTP server and routing logic.
package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Abd0M0hamed/jsdb/internal/config"
	"github.com/Abd0M0hamed/jsdb/internal/server/dto"
	"github.com/Abd0M0hamed/jsdb/internal/server/handlers"
	"github.com/Abd0M0hamed/jsdb/internal/server/ratelimit"
	"github.com/Abd0M0hamed/jsdb/internal/server/reqctx"
)

// Server serves the command API.
type Server struct {
	cfg        *config.Config
	dispatcher *handlers.Dispatcher
	limiters   *ratelimit.Limiters
	auth       *authenticator
	audit      *auditLog
	mux        *http.ServeMux
}

// New creates the server and its routes. limiters may be nil to disable rate
// limiting.
func New(cfg *config.Config, dispatcher *handlers.Dispatcher, version string, limiters *ratelimit.Limiters) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		limiters:   limiters,
		auth:       newAuthenticator(cfg),
		audit:      newAuditLog(cfg),
		mux:        &http.ServeMux{},
	}
	hh := handlers.NewHealthHandler(version, dispatcher.Store())
	s.mux.Handle("GET /api/health", Wrap(hh.Health, cfg))
	s.mux.HandleFunc("GET /api", s.handleCommand)
	s.mux.HandleFunc("POST /api", s.handleCommand)
	s.mux.HandleFunc("OPTIONS /api", s.handlePreflight)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close releases the audit log.
func (s *Server) Close() error {
	return s.audit.Close()
}

// handleCommand authenticates the client, decodes a command, applies the
// rate limit of its tier and dispatches it.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := addRequestMetadataToContext(r.Context(), r)
	if err := s.auth.authenticate(ctx, w, r); err != nil {
		writeError(ctx, w, s.cfg, err)
		return
	}
	cmd, err := decodeCommand(w, r)
	if err != nil {
		writeError(ctx, w, s.cfg, err)
		return
	}
	if !checkRateLimit(ctx, w, s.cfg, s.limiters.ForCommand(cmd.Command)) {
		return
	}
	res, err := s.dispatcher.Dispatch(ctx, cmd)
	attrs := []slog.Attr{
		slog.String("request_id", reqctx.RequestID(ctx).String()),
		slog.String("ip", reqctx.ClientIP(ctx)),
		slog.String("command", cmd.Command),
		slog.String("table", cmd.Table),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		apiErr := handlers.ToAPIError(err)
		s.audit.log(ctx, "command failed", append(attrs, slog.String("code", string(apiErr.Code())))...)
		writeError(ctx, w, s.cfg, err)
		return
	}
	s.audit.log(ctx, "command", attrs...)
	writeEnvelope(ctx, w, s.cfg, http.StatusOK, dto.NewEnvelope(res))
}

// handlePreflight answers CORS preflight requests. Credentials are only
// allowed for origins on an allowed domain.
func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	if origin := r.Header.Get("Origin"); origin != "" {
		if u, err := url.Parse(origin); err == nil && (s.cfg.Settings().TestingMode || s.cfg.IsAllowedDomain(u.Hostname())) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		}
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Max-Age", "3600")
	w.WriteHeader(http.StatusNoContent)
}
