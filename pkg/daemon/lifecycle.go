package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrDaemonAlreadyRunning is returned when trying to start a daemon that's already running.
var ErrDaemonAlreadyRunning = errors.New("daemon already running")

// ErrNotRunning is returned by StopProcess when no daemon is recorded.
var ErrNotRunning = errors.New("daemon not running")

// WritePIDFile writes the current process ID to a file.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPIDFile reads a PID from a file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d in %s", pid, path)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	return os.Remove(path)
}

// IsDaemonRunning checks if a daemon is running based on PID file.
func IsDaemonRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return false
	}
	return IsProcessRunning(pid)
}

// StopProcess sends SIGTERM to the daemon recorded in pidPath and waits up
// to timeout for it to exit.
func StopProcess(pidPath string, timeout time.Duration) error {
	pid, err := ReadPIDFile(pidPath)
	if err != nil || !IsProcessRunning(pid) {
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signalling daemon %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !IsProcessRunning(pid) {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("daemon %d did not exit within %s", pid, timeout)
}
