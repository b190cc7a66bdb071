// Package history records every committed version of the database file in a
// git repository using go-git.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/Abd0M0hamed/jsdb/internal/jsondb"
)

const (
	defaultName  = "jsdb"
	defaultEmail = "jsdb@localhost"
	ignoreFile   = ".gitignore"
)

// Commit is one recorded version.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	When    time.Time `json:"when"`
}

// Recorder commits the database file after each change. It implements
// jsondb.Observer.
type Recorder struct {
	dir  string
	repo *gogit.Repository
	mu   sync.Mutex
}

// Open opens the repository rooted at dir, initializing it when needed.
func Open(dir string) (*Recorder, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		if repo, err = gogit.PlainInit(dir, false); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = defaultName
		cfg.User.Email = defaultEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
		// Track database files only. jsdb.yaml holds the session secret.
		if err := os.WriteFile(filepath.Join(dir, ignoreFile), []byte("*\n!*.jsdb\n"), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", ignoreFile, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to open git repo: %w", err)
	}
	return &Recorder{dir: dir, repo: repo}, nil
}

// OnCommit records path. Failures are logged, the database commit already
// succeeded.
func (r *Recorder) OnCommit(ctx context.Context, path string) {
	msg := jsondb.Reason(ctx)
	if msg == "" {
		msg = "commit " + filepath.Base(path)
	}
	if err := r.Record(path, msg); err != nil {
		slog.WarnContext(ctx, "Failed to record history", "path", path, "err", err)
	}
}

// Record commits the current content of path with msg. It is a no-op when
// the file did not change since the last commit.
func (r *Recorder) Record(path, msg string) error {
	rel, err := filepath.Rel(r.dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("%s is outside of %s", path, r.dir)
	}
	rel = filepath.ToSlash(rel)

	r.mu.Lock()
	defer r.mu.Unlock()
	w, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := w.Add(rel); err != nil {
		return fmt.Errorf("failed to stage %s: %w", rel, err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if s := status.File(rel).Staging; s == gogit.Unmodified || s == gogit.Untracked {
		return nil
	}
	now := time.Now()
	sig := &object.Signature{Name: defaultName, Email: defaultEmail, When: now}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Log returns up to n most recent commits, newest first.
func (r *Recorder) Log(n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	iter, err := r.repo.Log(&gogit.LogOptions{})
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()
	var out []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		out = append(out, &Commit{Hash: c.Hash.String(), Message: subject, When: c.Author.When})
	}
	return out, nil
}

// FileAt returns the content of name, relative to the repository root, as of
// the commit hash.
func (r *Recorder) FileAt(hash, name string) ([]byte, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", hash, err)
	}
	f, err := c.File(filepath.ToSlash(name))
	if err != nil {
		return nil, fmt.Errorf("failed to get %s at %s: %w", name, hash, err)
	}
	s, err := f.Contents()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}
