// Provides middleware for standardizing HTTP handlers.

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/Abd0M0hamed/jsdb/internal/config"
	"github.com/Abd0M0hamed/jsdb/internal/server/dto"
	"github.com/Abd0M0hamed/jsdb/internal/server/handlers"
	"github.com/Abd0M0hamed/jsdb/internal/server/ratelimit"
	"github.com/Abd0M0hamed/jsdb/internal/server/reqctx"
)

// maxRequestBodyBytes bounds POST bodies.
const maxRequestBodyBytes = 1 << 20

// addRequestMetadataToContext adds the client IP and a request ID to the
// context.
func addRequestMetadataToContext(ctx context.Context, r *http.Request) context.Context {
	ctx = reqctx.WithClientIP(ctx, reqctx.GetClientIP(r))
	ctx, _ = reqctx.WithRequestID(ctx)
	return ctx
}

// Wrap wraps a handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *In) (*Out, error)
// where In can be unmarshalled from JSON and Out is any JSON encodable value.
// *In must implement dto.Validatable.
//
// Example:
//
//	func (h *HealthHandler) Health(ctx context.Context, req *dto.HealthRequest) (*dto.HealthResponse, error)
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), cfg *config.Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := addRequestMetadataToContext(r.Context(), r)
		input := new(In)
		if err := readAndDecodeBody(w, r, input); err != nil {
			writeError(ctx, w, cfg, err)
			return
		}
		if err := PtrIn(input).Validate(); err != nil {
			writeError(ctx, w, cfg, err)
			return
		}
		output, err := fn(ctx, PtrIn(input))
		if err != nil {
			writeError(ctx, w, cfg, err)
			return
		}
		writeEnvelope(ctx, w, cfg, http.StatusOK, dto.NewEnvelope(output))
	})
}

// readAndDecodeBody reads the request body with size limit and decodes JSON
// into input. An empty body leaves input untouched.
func readAndDecodeBody(w http.ResponseWriter, r *http.Request, input any) error {
	if r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return dto.PayloadTooLarge(maxBytesErr.Limit)
		}
		return dto.BadRequest(dto.ErrorCodeInvalidFormat, "Failed to read request body").Wrap(err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	d := json.NewDecoder(bytes.NewReader(body))
	d.UseNumber()
	d.DisallowUnknownFields()
	if err := d.Decode(input); err != nil {
		return dto.BadRequest(dto.ErrorCodeInvalidFormat, "Invalid request body").Wrap(err)
	}
	return nil
}

// decodeCommand reads a command from the JSON body, a url-encoded form, or
// the query string of a GET. In the form and query string, where, values and
// columns hold JSON text.
func decodeCommand(w http.ResponseWriter, r *http.Request) (*dto.Command, error) {
	cmd := &dto.Command{}
	if r.Method == http.MethodGet {
		return cmd, decodeForm(r.URL.Query(), cmd)
	}
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/x-www-form-urlencoded" {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		if err := r.ParseForm(); err != nil {
			var maxBytesErr *http.MaxBytesError
			if errors.As(err, &maxBytesErr) {
				return nil, dto.PayloadTooLarge(maxBytesErr.Limit)
			}
			return nil, dto.BadRequest(dto.ErrorCodeInvalidFormat, "Invalid form").Wrap(err)
		}
		return cmd, decodeForm(r.Form, cmd)
	}
	return cmd, readAndDecodeBody(w, r, cmd)
}

func decodeForm(v url.Values, cmd *dto.Command) error {
	cmd.Command = v.Get("command")
	cmd.Table = v.Get("table")
	for _, f := range []struct {
		name string
		dst  *any
	}{
		{"where", &cmd.Where},
		{"values", &cmd.Values},
		{"columns", &cmd.Columns},
	} {
		raw := strings.TrimSpace(v.Get(f.name))
		if raw == "" {
			continue
		}
		d := json.NewDecoder(strings.NewReader(raw))
		d.UseNumber()
		if err := d.Decode(f.dst); err != nil {
			return dto.BadRequest(dto.ErrorCodeInvalidFormat, "Invalid '"+f.name+"' syntax").
				WithDetail("field", f.name).Wrap(err)
		}
	}
	return nil
}

// checkRateLimit consumes a token of tier for the client. It returns false
// after writing the 429 response.
func checkRateLimit(ctx context.Context, w http.ResponseWriter, cfg *config.Config, tier *ratelimit.Tier) bool {
	result := ratelimit.Check(w, tier, reqctx.ClientIP(ctx))
	if result.Allowed {
		return true
	}
	writeError(ctx, w, cfg, dto.RateLimitExceeded(max(int(result.RetryAfter.Seconds()), 1)))
	return false
}

// writeError writes err as a failed envelope. Server errors are logged with
// their cause and reported to the client without it.
func writeError(ctx context.Context, w http.ResponseWriter, cfg *config.Config, err error) {
	apiErr := handlers.ToAPIError(err)
	status := apiErr.StatusCode()
	msg := apiErr.Error()
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", err, "statusCode", status, "code", apiErr.Code(), "request_id", reqctx.RequestID(ctx))
		if m, ok := apiErr.(interface{ Message() string }); ok {
			msg = m.Message()
		}
	} else {
		slog.DebugContext(ctx, "Request rejected", "err", err, "statusCode", status, "code", apiErr.Code())
	}
	env := dto.NewErrorEnvelope(apiErr.Code(), msg)
	env.Details = apiErr.Details()
	writeEnvelope(ctx, w, cfg, status, env)
}

// writeEnvelope writes env as JSON, flagging debug and testing mode.
func writeEnvelope(ctx context.Context, w http.ResponseWriter, cfg *config.Config, status int, env *dto.Envelope) {
	if cfg != nil {
		s := cfg.Settings()
		if s.DebugMode {
			env.DebugMode = 1
		}
		if s.TestingMode {
			env.TestingMode = 1
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}
