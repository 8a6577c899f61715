// Package lock provides a cross-process advisory lock scoped to one file path.
//
// Two implementations satisfy Locker:
//   - FileLock: flock(2) on a lock file (unix only)
//   - CreateLock: exclusive creation of a marker file, polled until it succeeds
//
// Both remove the lock artifact on release, and both bound acquisition by
// Options.Timeout. Callers depend on Locker only; New selects the
// implementation from Options.Mode.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Defaults applied by New when Options leaves a field zero.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultRetryInterval = 100 * time.Millisecond
)

// ErrTimeout is returned when the lock could not be acquired within the bound.
var ErrTimeout = errors.New("lock acquisition timed out")

// Mode selects the lock implementation.
type Mode string

const (
	// ModeAuto uses flock where the platform supports it and falls back to
	// exclusive creation elsewhere.
	ModeAuto Mode = "auto"

	// ModeFlock requires flock and fails on platforms without it.
	ModeFlock Mode = "flock"

	// ModeCreate always uses the exclusive-create marker.
	ModeCreate Mode = "create"
)

// Locker acquires exclusive access to a resource.
type Locker interface {
	// Lock blocks until the lock is held, ctx is done, or the configured
	// timeout elapses. The returned Unlocker must be released exactly once.
	Lock(ctx context.Context) (Unlocker, error)

	// Path returns the lock artifact's location.
	Path() string
}

// Unlocker releases a held lock.
type Unlocker interface {
	Unlock() error
}

// Options configures a Locker.
type Options struct {
	Mode          Mode
	Timeout       time.Duration
	RetryInterval time.Duration
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeAuto
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = DefaultRetryInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// New returns a Locker for path according to opts.Mode.
func New(path string, opts Options) (Locker, error) {
	opts = opts.withDefaults()
	switch opts.Mode {
	case ModeAuto:
		if FlockSupported {
			return newFileLock(path, opts)
		}
		return NewCreateLock(path, opts), nil
	case ModeFlock:
		return newFileLock(path, opts)
	case ModeCreate:
		return NewCreateLock(path, opts), nil
	default:
		return nil, fmt.Errorf("unknown lock mode %q", opts.Mode)
	}
}

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModeFlock, ModeCreate:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown lock mode %q (want auto, flock or create)", s)
	}
}

// timeoutError maps a context error from a bounded wait onto ErrTimeout.
// Cancellation by the caller is passed through unchanged.
func timeoutError(parent context.Context, path string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("lock %s: %w", path, parent.Err())
	}
	return fmt.Errorf("lock %s: %w: %w", path, ErrTimeout, err)
}
