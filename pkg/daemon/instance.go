package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// InstanceLock holds an exclusive flock that keeps a second dropguardd from
// sharing the same state directory. The kernel drops the lock when the
// process dies, so a held lock always means a live daemon.
type InstanceLock struct {
	flock *flock.Flock
	path  string
}

// LockPath returns the instance lock path next to the PID file.
func LockPath(pidPath string) string {
	return filepath.Join(filepath.Dir(pidPath), "dropguard.lock")
}

// AcquireInstance takes the instance lock without blocking. It returns
// ErrDaemonAlreadyRunning when another process holds it.
func AcquireInstance(path string) (*InstanceLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(path)
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to try lock on %s: %w", path, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: lock %s is held", ErrDaemonAlreadyRunning, path)
	}
	return &InstanceLock{flock: fl, path: path}, nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string { return l.path }

// Release drops the lock.
func (l *InstanceLock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}
