//go:build !unix

package lock

import (
	"fmt"
	"runtime"
)

// FlockSupported reports whether FileLock is available on this platform.
const FlockSupported = false

func newFileLock(path string, _ Options) (Locker, error) {
	return nil, fmt.Errorf("lock %s: flock is not supported on %s", path, runtime.GOOS)
}
