//go:build unix

package lock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNew_AutoPrefersFlock(t *testing.T) {
	l, err := New(filepath.Join(t.TempDir(), "x.lock"), Options{Mode: ModeAuto})
	require.NoError(t, err)
	assert.IsType(t, &FileLock{}, l)
}

func TestFileLock_BusyThroughForeignDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "counter.lock")
	l, err := New(path, Options{Mode: ModeFlock, Timeout: time.Second, RetryInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	fl := l.(*FileLock)

	other, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer other.Close()
	require.NoError(t, unix.Flock(int(other.Fd()), unix.LOCK_EX))

	f, err := fl.tryLock()
	require.NoError(t, err)
	assert.Nil(t, f, "path is held through another descriptor")

	require.NoError(t, unix.Flock(int(other.Fd()), unix.LOCK_UN))

	u, err := l.Lock(context.Background())
	require.NoError(t, err)
	require.NoError(t, u.Unlock())
}
