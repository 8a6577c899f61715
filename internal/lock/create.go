package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
)

// CreateLock serializes holders by exclusively creating a marker file. A
// waiter retries every RetryInterval until the marker can be created or the
// timeout elapses.
//
// A marker left behind by a crashed holder blocks every later Lock until it
// is removed by hand; there is no staleness detection.
type CreateLock struct {
	path string
	opts Options
}

// NewCreateLock returns a CreateLock for path.
func NewCreateLock(path string, opts Options) *CreateLock {
	return &CreateLock{path: path, opts: opts.withDefaults()}
}

func (l *CreateLock) Path() string { return l.path }

func (l *CreateLock) Lock(ctx context.Context) (Unlocker, error) {
	bounded, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	ticker := time.NewTicker(l.opts.RetryInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			// Owner pid helps whoever has to clean up a stale marker.
			_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			if cerr := f.Close(); cerr != nil {
				_ = os.Remove(l.path)
				return nil, fmt.Errorf("lock %s: close marker: %w", l.path, cerr)
			}
			if attempt > 1 {
				l.opts.Logger.Debug("lock acquired after wait", "path", l.path, "attempts", attempt)
			}
			return &createUnlocker{path: l.path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("lock %s: create marker: %w", l.path, err)
		}

		select {
		case <-bounded.Done():
			return nil, timeoutError(ctx, l.path, bounded.Err())
		case <-ticker.C:
		}
	}
}

type createUnlocker struct {
	path     string
	released bool
}

func (u *createUnlocker) Unlock() error {
	if u.released {
		return nil
	}
	u.released = true
	if err := os.Remove(u.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("unlock %s: %w", u.path, err)
	}
	return nil
}
