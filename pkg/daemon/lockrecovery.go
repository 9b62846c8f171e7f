package daemon

import (
	"os"
	"path/filepath"
	"syscall"
)

// clearStale deletes what a crashed daemon leaves behind: its PID file, its
// socket and badger's directory lock. Callers must hold the instance lock,
// which proves the previous owner is gone. It returns the stale PID, or 0
// when no readable PID file was found.
func clearStale(pidPath, socketPath, dbPath string) int {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		pid = 0
	}
	_ = os.Remove(pidPath)
	_ = os.Remove(socketPath)
	if dbPath != "" {
		_ = os.Remove(filepath.Join(dbPath, "LOCK"))
	}
	return pid
}

// IsProcessRunning checks if a process with the given PID is running.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
