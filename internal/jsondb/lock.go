// Implements the lock marker with stale reclaim.

package jsondb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"
)

// AcquireLock blocks until the caller holds the database lock.
//
// The in-process mutex is taken first, then the marker file. While a marker
// younger than the stale threshold exists, it sleeps one poll interval and
// retries. An older marker is removed and the removal logged. Only ctx
// cancellation ends the wait early.
func (s *Store) AcquireLock(ctx context.Context) error {
	s.mu.Lock()
	if err := s.acquireMarker(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	return nil
}

// ReleaseLock removes the marker and releases the in-process mutex. It must
// only be called after a successful AcquireLock.
func (s *Store) ReleaseLock() error {
	defer s.mu.Unlock()
	return s.removeMarker()
}

// ForceUnlock removes the marker regardless of who holds it. It does not touch
// the in-process mutex and is meant for recovery tools.
func (s *Store) ForceUnlock() error {
	return s.removeMarker()
}

// LockedSince returns the acquisition time recorded in the marker, or false
// when the database is not locked.
func (s *Store) LockedSince() (time.Time, bool, error) {
	ts, err := s.readMarker()
	if err != nil {
		if isNotExist(err) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("%w: failed to read lock %s: %w", ErrIO, s.lockPath, err)
	}
	return ts, true, nil
}

func (s *Store) acquireMarker(ctx context.Context) error {
	for {
		f, err := os.OpenFile(s.lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) //nolint:gosec // G302: marker is not secret
		if err == nil {
			_, err = f.WriteString(strconv.FormatInt(time.Now().Unix(), 10))
			if err2 := f.Close(); err == nil {
				err = err2
			}
			if err != nil {
				_ = os.Remove(s.lockPath)
				return fmt.Errorf("%w: failed to write lock %s: %w", ErrIO, s.lockPath, err)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: failed to create lock %s: %w", ErrIO, s.lockPath, err)
		}

		since, err := s.readMarker()
		if err != nil {
			if isNotExist(err) {
				// Released between the two calls.
				continue
			}
			return fmt.Errorf("%w: failed to read lock %s: %w", ErrIO, s.lockPath, err)
		}
		if age := time.Since(since); age > s.stale {
			s.log.InfoContext(ctx, "Database is already locked, reclaiming stale lock", "path", s.lockPath, "age", age.Truncate(time.Second))
			reclaimed, err := s.reclaimMarker(since)
			if err != nil {
				return err
			}
			if reclaimed {
				s.log.InfoContext(ctx, "Automatically unlocked database", "path", s.lockPath)
			}
			continue
		}

		t := time.NewTimer(s.poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// reclaimMarker removes a marker observed as stale with timestamp since.
//
// The marker is first renamed to a name private to this call, so that only one
// contender takes it. If the taken marker no longer carries since, another
// contender reclaimed the lock in the meantime and the fresh marker is linked
// back in place. It reports whether the stale marker was removed.
func (s *Store) reclaimMarker(since time.Time) (bool, error) {
	taken := s.lockPath + ".stale." + strconv.Itoa(os.Getpid()) + "." + strconv.FormatInt(time.Now().UnixNano(), 36)
	if err := os.Rename(s.lockPath, taken); err != nil {
		if isNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to reclaim lock %s: %w", ErrIO, s.lockPath, err)
	}
	defer func() { _ = os.Remove(taken) }()
	got, err := readMarkerFile(taken)
	if err != nil || got.Equal(since) {
		return true, nil
	}
	if err := os.Link(taken, s.lockPath); err != nil && !errors.Is(err, fs.ErrExist) {
		return false, fmt.Errorf("%w: failed to restore lock %s: %w", ErrIO, s.lockPath, err)
	}
	return false, nil
}

// readMarker returns the timestamp stored in the marker. A marker whose
// content cannot be parsed is dated by its modification time.
func (s *Store) readMarker() (time.Time, error) {
	return readMarkerFile(s.lockPath)
}

func readMarkerFile(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	if sec, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

func (s *Store) removeMarker() error {
	if err := os.Remove(s.lockPath); err != nil && !isNotExist(err) {
		return fmt.Errorf("%w: failed to remove lock %s: %w", ErrIO, s.lockPath, err)
	}
	return nil
}
