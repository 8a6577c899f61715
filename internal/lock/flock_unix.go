//go:build unix

package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// FlockSupported reports whether FileLock is available on this platform.
const FlockSupported = true

// FileLock holds flock(2) on a lock file. Acquisition polls LOCK_NB so the
// wait honors ctx and the timeout.
//
// Release unlinks the file while the lock is still held. A waiter that was
// blocked on the unlinked inode notices that the path no longer names its
// descriptor and starts over, so at most one holder exists per path.
type FileLock struct {
	path string
	opts Options
}

func newFileLock(path string, opts Options) (Locker, error) {
	return &FileLock{path: path, opts: opts.withDefaults()}, nil
}

func (l *FileLock) Path() string { return l.path }

func (l *FileLock) Lock(ctx context.Context) (Unlocker, error) {
	bounded, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	// flock contention clears quickly; poll faster than the marker fallback.
	interval := l.opts.RetryInterval / 10
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		f, err := l.tryLock()
		if err != nil {
			return nil, err
		}
		if f != nil {
			return &fileUnlocker{f: f, path: l.path}, nil
		}

		select {
		case <-bounded.Done():
			return nil, timeoutError(ctx, l.path, bounded.Err())
		case <-ticker.C:
		}
	}
}

// tryLock makes one non-blocking attempt. It returns (nil, nil) when the lock
// is busy or when the file it locked was unlinked by the previous holder.
func (l *FileLock) tryLock() (*os.File, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lock %s: open: %w", l.path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock %s: flock: %w", l.path, err)
	}

	held, err := f.Stat()
	if err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("lock %s: stat: %w", l.path, err)
	}
	current, err := os.Stat(l.path)
	if err != nil || !os.SameFile(held, current) {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, nil
	}
	return f, nil
}

type fileUnlocker struct {
	f    *os.File
	path string
}

func (u *fileUnlocker) Unlock() error {
	if u.f == nil {
		return nil
	}
	f := u.f
	u.f = nil

	var errs []error
	if err := os.Remove(u.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove: %w", err))
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("flock: %w", err))
	}
	if err := f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("unlock %s: %w", u.path, err)
	}
	return nil
}
