package jsondb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// DefaultStaleAfter is the age after which a lock marker is considered
	// abandoned.
	DefaultStaleAfter = 10 * time.Second
	// DefaultPollInterval is the delay between two lock acquisition attempts.
	DefaultPollInterval = time.Second
	// lockFileName is the marker created next to the database file.
	lockFileName = "jsdb.lock"
)

// Options configures a Store. The zero value is valid.
type Options struct {
	// LockPath is the marker file path. Defaults to jsdb.lock in the database
	// directory.
	LockPath string
	// StaleAfter defaults to DefaultStaleAfter.
	StaleAfter time.Duration
	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Observer is notified after a successful commit made through Store.Update.
type Observer interface {
	OnCommit(ctx context.Context, path string)
}

// Store handles a single JSON database file.
type Store struct {
	path     string
	lockPath string
	stale    time.Duration
	poll     time.Duration
	log      *slog.Logger

	// mu is held between AcquireLock and ReleaseLock.
	mu sync.Mutex

	obsMu     sync.RWMutex
	observers []Observer
}

// Open returns a Store for path, creating the parent directory and an
// initial database when the file does not exist yet.
func Open(path string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve %s: %w", ErrIO, path, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil { //nolint:gosec // G301: data directory
		return nil, fmt.Errorf("%w: failed to create directory for %s: %w", ErrIO, abs, err)
	}
	s := &Store{
		path:     abs,
		lockPath: opts.LockPath,
		stale:    opts.StaleAfter,
		poll:     opts.PollInterval,
		log:      opts.Logger,
	}
	if s.lockPath == "" {
		s.lockPath = filepath.Join(filepath.Dir(abs), lockFileName)
	}
	if s.stale <= 0 {
		s.stale = DefaultStaleAfter
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if !s.Exists() {
		if err := s.Initialize(); err != nil {
			return nil, err
		}
		s.log.Info("Created database", "path", abs)
	}
	return s, nil
}

// Path returns the absolute database file path.
func (s *Store) Path() string {
	return s.path
}

// LockPath returns the lock marker path.
func (s *Store) LockPath() string {
	return s.lockPath
}

// AddObserver registers o to be notified after commits made through Update.
func (s *Store) AddObserver(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// Exists reports whether the database file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Initialize writes a database containing only the metadata table.
func (s *Store) Initialize() error {
	return s.Commit(newDatabase(time.Now()))
}

// Load reads and decodes the whole database file.
func (s *Store) Load() (Database, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrIO, s.path, err)
	}
	var db Database
	if err := decodeJSON(data, &db); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %w", ErrFormat, s.path, err)
	}
	if db == nil {
		return nil, fmt.Errorf("%w: %s does not contain an object", ErrFormat, s.path)
	}
	return db, nil
}

// Commit replaces the database file with db.
//
// The content is written to a temporary file in the same directory, then
// renamed over the database. Callers mutating the database must hold the lock
// across Load and Commit.
func (s *Store) Commit(db Database) error {
	data, err := encodeJSON(db)
	if err != nil {
		return fmt.Errorf("%w: failed to encode database: %w", ErrFormat, err)
	}
	dir := filepath.Dir(s.path)
	f, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: failed to create temporary file in %s: %w", ErrIO, dir, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: failed to write %s: %w", ErrIO, tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: failed to close %s: %w", ErrIO, tmp, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil { //nolint:gosec // G302: database is not secret
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: failed to chmod %s: %w", ErrIO, tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: failed to replace %s: %w", ErrIO, s.path, err)
	}
	return nil
}

// Update runs a locked read-modify-write cycle. fn receives the freshly
// loaded database and reports whether it must be committed. Observers are
// notified after a successful commit.
func (s *Store) Update(ctx context.Context, fn func(db Database) (bool, error)) (err error) {
	if err := s.AcquireLock(ctx); err != nil {
		return err
	}
	defer func() {
		if err2 := s.ReleaseLock(); err == nil {
			err = err2
		}
	}()
	db, err := s.Load()
	if err != nil {
		return err
	}
	changed, err := fn(db)
	if err != nil || !changed {
		return err
	}
	if err := s.Commit(db); err != nil {
		return err
	}
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	for _, o := range observers {
		o.OnCommit(ctx, s.path)
	}
	return nil
}

// Tables returns each table name with its row count, including the metadata
// table. It is meant for administration tools, not for the query layer.
func (s *Store) Tables() (map[string]int, error) {
	db, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(db))
	for name, t := range db {
		out[name] = len(t)
	}
	return out, nil
}

// isNotExist reports whether err means the file is gone.
func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

type reasonKey struct{}

// WithReason attaches a short description of the mutation to ctx. Observers
// read it back with Reason.
func WithReason(ctx context.Context, reason string) context.Context {
	return context.WithValue(ctx, reasonKey{}, reason)
}

// Reason returns the description attached by WithReason, if any.
func Reason(ctx context.Context) string {
	if v, ok := ctx.Value(reasonKey{}).(string); ok {
		return v
	}
	return ""
}
