// Writes the per command audit log.

package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Abd0M0hamed/jsdb/internal/config"
)

// auditLog appends one JSON line per command to the configured api.log. The
// file is opened on first use and reopened when the path changes.
type auditLog struct {
	cfg *config.Config

	mu     sync.Mutex
	path   string
	f      *os.File
	logger *slog.Logger
}

func newAuditLog(cfg *config.Config) *auditLog {
	return &auditLog{cfg: cfg}
}

// log writes the record when logging is enabled.
func (a *auditLog) log(ctx context.Context, msg string, attrs ...slog.Attr) {
	if !a.cfg.Settings().Logging {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	path := a.cfg.LogPath()
	if a.logger == nil || path != a.path {
		if err := a.openLocked(path); err != nil {
			slog.ErrorContext(ctx, "Failed to open audit log", "path", path, "err", err)
			return
		}
	}
	a.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (a *auditLog) openLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	a.closeLocked()
	a.path = path
	a.f = f
	a.logger = slog.New(slog.NewJSONHandler(f, nil))
	return nil
}

func (a *auditLog) closeLocked() {
	if a.f != nil {
		if err := a.f.Close(); err != nil {
			slog.Error("Failed to close audit log", "err", err)
		}
	}
	a.f = nil
	a.logger = nil
}

// Close closes the log file.
func (a *auditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeLocked()
	return nil
}
