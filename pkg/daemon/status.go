package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Startup states written to the status file.
const (
	StatusReady = "ready"
	StatusError = "error"
)

// StatusFile represents the daemon startup status. The CLI polls it after
// spawning dropguardd to learn whether startup succeeded.
type StatusFile struct {
	Status string `json:"status"`
	PID    int    `json:"pid,omitempty"`
	Socket string `json:"socket,omitempty"`
	Error  string `json:"error,omitempty"`
}

// WriteStatusReady writes a ready status file.
func WriteStatusReady(path, socket string) error {
	return writeStatus(path, &StatusFile{
		Status: StatusReady,
		PID:    os.Getpid(),
		Socket: socket,
	})
}

// WriteStatusError writes an error status file.
func WriteStatusError(path string, err error) error {
	return writeStatus(path, &StatusFile{
		Status: StatusError,
		Error:  err.Error(),
	})
}

func writeStatus(path string, status *StatusFile) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RemoveStatus removes the status file.
func RemoveStatus(path string) error {
	return os.Remove(path)
}

// StatusPath returns the status file path for a directory.
func StatusPath(dir string) string {
	return filepath.Join(dir, "dropguard.status")
}
