// Package main is the entry point for the jsdb server.
//
// jsdb stores tables of JSON rows in a single file and serves select, insert,
// update and delete commands over HTTP. Settings are read from jsdb.yaml in
// the data directory, JSDB_ environment variables and CLI flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/Abd0M0hamed/jsdb/internal/config"
	"github.com/Abd0M0hamed/jsdb/internal/history"
	"github.com/Abd0M0hamed/jsdb/internal/jsondb"
	"github.com/Abd0M0hamed/jsdb/internal/server"
	"github.com/Abd0M0hamed/jsdb/internal/server/handlers"
	"github.com/Abd0M0hamed/jsdb/internal/server/ratelimit"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "jsdb: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	httpAddr := flag.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	dataDir := flag.String("data-dir", "./data", "Data directory holding jsdb.yaml and the database files")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	testing := flag.Bool("testing", false, "Use test.jsdb and relax the referer checks; overrides testing_mode")
	debugMode := flag.Bool("debug", false, "Flag responses with debug_mode and log at debug level; overrides debug_mode")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	slog.SetDefault(newLogger(ll))
	level, err := parseLevel(*logLevel)
	if err != nil {
		return err
	}
	ll.Set(level)

	cfg, err := config.Load(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if set["testing"] || set["debug"] {
		cfg.Override(func(s *config.Settings) {
			if set["testing"] {
				s.TestingMode = *testing
			}
			if set["debug"] {
				s.DebugMode = *debugMode
			}
		})
	}
	settings := cfg.Settings()
	applyDebug := func(s config.Settings) {
		if s.DebugMode {
			ll.Set(slog.LevelDebug)
		} else {
			ll.Set(level)
		}
	}
	applyDebug(settings)

	store, err := jsondb.Open(cfg.DatabasePath(), nil)
	if err != nil {
		return err
	}
	if settings.History {
		rec, err := history.Open(cfg.DataDir())
		if err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
		store.AddObserver(rec)
		slog.InfoContext(ctx, "History enabled", "dir", cfg.DataDir())
	}

	limiters := ratelimit.New(settings.RateLimits)
	defer limiters.Close()

	if err := cfg.Watch(ctx, func(s config.Settings) {
		applyDebug(s)
		limiters.Update(s.RateLimits)
		if s.TestingMode != settings.TestingMode || s.History != settings.History {
			slog.WarnContext(ctx, "testing_mode and history changes take effect after a restart")
		}
	}); err != nil {
		return fmt.Errorf("failed to watch configuration: %w", err)
	}

	buildVersion, _, _, _ := getBuildInfo()
	srv := server.New(cfg, handlers.NewDispatcher(store, cfg), buildVersion, limiters)
	defer func() {
		if err := srv.Close(); err != nil {
			slog.Error("Failed to close server", "err", err)
		}
	}()

	// ":8080" becomes "localhost:8080".
	addr := *httpAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "db", store.Path(), "version", buildVersion, "testing", settings.TestingMode)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// newLogger returns a tint logger on stderr. Empty and zero attributes are
// dropped.
func newLogger(ll *slog.LevelVar) *slog.Logger {
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", s)
	}
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("jsdb %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
