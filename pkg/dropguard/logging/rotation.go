package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	// MaxSize is the size in bytes that triggers rotation. Zero uses 10MiB.
	MaxSize int64

	// MaxAge is the number of days rotated files are kept. Zero keeps them
	// regardless of age.
	MaxAge int

	// MaxBackups caps the number of rotated files. Zero means no cap.
	MaxBackups int

	// Daily rotates on the first write after midnight.
	Daily bool
}

// DefaultRotationConfig returns the rotation defaults.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSize:    10 << 20,
		MaxAge:     30,
		MaxBackups: 5,
		Daily:      true,
	}
}

// RotatingWriter is an io.WriteCloser that rotates its file by size or day.
// Writes take an advisory flock so the daemon and CLI can share one file.
type RotatingWriter struct {
	path string
	cfg  RotationConfig

	mu     sync.Mutex
	file   *os.File
	size   int64
	opened time.Time
}

// NewRotatingWriter opens path for appending, creating parent directories.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultRotationConfig().MaxSize
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	w := &RotatingWriter{path: path, cfg: cfg}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

// Write appends p, rotating first when the size or day boundary is crossed.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, os.ErrClosed
	}

	if w.due(int64(len(p))) {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotating log file: %w", err)
		}
	}

	fd := int(w.file.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return 0, fmt.Errorf("acquiring file lock: %w", err)
	}
	defer unix.Flock(fd, unix.LOCK_UN) //nolint:errcheck

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err != nil {
		return n, fmt.Errorf("writing to log file: %w", err)
	}
	return n, nil
}

// Close syncs and closes the file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	w.file = nil
	if syncErr != nil {
		return fmt.Errorf("syncing log file: %w", syncErr)
	}
	return closeErr
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	w.opened = info.ModTime()
	return nil
}

func (w *RotatingWriter) due(incoming int64) bool {
	if w.size > 0 && w.size+incoming > w.cfg.MaxSize {
		return true
	}
	if !w.cfg.Daily {
		return false
	}
	now := time.Now()
	y1, m1, d1 := now.Date()
	y2, m2, d2 := w.opened.Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing current file: %w", err)
	}
	w.file = nil

	ext := filepath.Ext(w.path)
	stem := strings.TrimSuffix(w.path, ext)
	backup := fmt.Sprintf("%s.%s%s", stem, time.Now().Format("2006-01-02-150405.000"), ext)
	if err := os.Rename(w.path, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("renaming log file: %w", err)
	}

	if err := w.open(); err != nil {
		return err
	}
	w.opened = time.Now()
	w.prune()
	return nil
}

// backups lists rotated files, newest first.
func (w *RotatingWriter) backups() []string {
	ext := filepath.Ext(w.path)
	stem := strings.TrimSuffix(w.path, ext)
	matches, err := filepath.Glob(stem + ".*" + ext)
	if err != nil {
		return nil
	}
	matches = slices.DeleteFunc(matches, func(p string) bool { return p == w.path })
	// Timestamps sort lexically.
	slices.Sort(matches)
	slices.Reverse(matches)
	return matches
}

func (w *RotatingWriter) prune() {
	cutoff := time.Time{}
	if w.cfg.MaxAge > 0 {
		cutoff = time.Now().AddDate(0, 0, -w.cfg.MaxAge)
	}

	for i, path := range w.backups() {
		expired := w.cfg.MaxBackups > 0 && i >= w.cfg.MaxBackups
		if !expired && !cutoff.IsZero() {
			if info, err := os.Stat(path); err == nil && info.ModTime().Before(cutoff) {
				expired = true
			}
		}
		if expired {
			_ = os.Remove(path)
		}
	}
}
