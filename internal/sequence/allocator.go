// Package sequence hands out strictly increasing integer ids backed by a
// counter file.
//
// Every allocation runs the same protocol under a cross-process lock:
// acquire → read → increment → write temp, fsync, rename → release. The
// counter holds the last issued value as decimal text ending in a newline.
// Missing, empty or non-numeric content counts as 0, so the first id is 1.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/roach88/cardfile/internal/fsutil"
	"github.com/roach88/cardfile/internal/lock"
	"github.com/roach88/cardfile/internal/storeerr"
)

// Allocator issues ids from a counter file. It is safe for concurrent use by
// goroutines and by separate processes sharing the same counter and lock.
type Allocator struct {
	path   string
	locker lock.Locker
	logger *slog.Logger
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) { a.logger = l }
}

// New returns an allocator over the counter at path guarded by locker.
func New(path string, locker lock.Locker, opts ...Option) *Allocator {
	a := &Allocator{path: path, locker: locker, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Path returns the counter file location.
func (a *Allocator) Path() string { return a.path }

// Next returns the next id. Errors are *storeerr.Error with CodeLockTimeout
// or CodeIOFailure; on error no id has been issued.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	u, err := a.locker.Lock(ctx)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return 0, storeerr.LockTimeout("allocate", a.path, err)
		}
		return 0, storeerr.IO("allocate", a.path, err)
	}
	defer func() {
		// The id is already durable at this point; a failed release is
		// reported but does not take the id back.
		if uerr := u.Unlock(); uerr != nil {
			a.logger.Error("counter lock release failed", "lock", a.locker.Path(), "error", uerr)
		}
	}()

	current, err := a.read()
	if err != nil {
		return 0, err
	}
	next := current + 1

	data := []byte(strconv.FormatInt(next, 10) + "\n")
	if err := fsutil.WriteAtomic(a.path, data, 0o644, nil); err != nil {
		return 0, storeerr.IO("allocate", a.path, err)
	}

	a.logger.Debug("id allocated", "id", next)
	return next, nil
}

// Current returns the last issued id without taking the lock.
func (a *Allocator) Current() (int64, error) {
	return a.read()
}

func (a *Allocator) read() (int64, error) {
	raw, err := os.ReadFile(a.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, storeerr.IO("read counter", a.path, err)
	}
	return parseCounter(raw, a.logger), nil
}

// parseCounter accepts only plain decimal digits; anything else is 0.
func parseCounter(raw []byte, logger *slog.Logger) int64 {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return 0
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			logger.Warn("counter content is not numeric, starting from 0", "content", s)
			return 0
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		logger.Warn("counter content out of range, starting from 0", "content", s, "error", err)
		return 0
	}
	return n
}

// Init creates the counter with value 0 if it does not exist yet. An
// existing counter is never overwritten, even when another process creates
// it concurrently.
func Init(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("init counter: %w", err)
	}
	if _, err := f.WriteString("0\n"); err != nil {
		f.Close()
		return fmt.Errorf("init counter: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("init counter: %w", err)
	}
	return f.Close()
}
