// Package quarantine moves flagged files into a holding directory and back.
//
// Quarantined files are named "<unix-seconds>_<basename>". A move is a single
// rename when possible; across filesystems the file is copied to a hidden
// partial file, synced, renamed into place, and only then removed from its
// source.
package quarantine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jamesainslie/dropguard/pkg/dropguard/pathguard"
)

// PartialPrefix marks in-progress cross-device copies.
const PartialPrefix = pathguard.PartialPrefix

var (
	// ErrSourceGone means the file vanished before it could be moved.
	ErrSourceGone = errors.New("source file no longer exists")
	// ErrAlreadyRestored means the quarantined file is no longer there.
	ErrAlreadyRestored = errors.New("quarantined file already restored")
	// ErrDestinationExists means a restore would overwrite an existing file.
	ErrDestinationExists = errors.New("restore destination already exists")
)

var epochPrefix = regexp.MustCompile(`^(\d+)_`)

// Entry is a file currently held in quarantine.
type Entry struct {
	Path  string
	Epoch int64
	// Name is the base name without the epoch prefix.
	Name string
	Size int64
}

// Manager owns the quarantine directory. Name allocation and moves are
// serialised so two files never race for the same name.
type Manager struct {
	dir string
	now func() time.Time

	// rename is swapped in tests to simulate cross-device moves.
	rename func(oldpath, newpath string) error

	mu sync.Mutex
}

// New creates dir if needed and returns a Manager for it.
func New(dir string) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("quarantine directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving quarantine dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("creating quarantine dir: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Manager{dir: abs, now: time.Now, rename: os.Rename}, nil
}

// Dir returns the canonical quarantine directory.
func (m *Manager) Dir() string { return m.dir }

// Contains reports whether path is inside the quarantine directory.
func (m *Manager) Contains(path string) bool {
	return pathguard.Within(filepath.Clean(path), m.dir)
}

// OriginalName strips the "<epoch>_" prefix from a quarantined base name.
func OriginalName(name string) string {
	return epochPrefix.ReplaceAllString(name, "")
}

// Quarantine moves src into the quarantine directory and returns its new path.
func (m *Manager) Quarantine(src string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Lstat(src)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrSourceGone
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", src, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("quarantine %s: not a regular file", src)
	}

	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return "", fmt.Errorf("creating quarantine dir: %w", err)
	}

	dest := m.allocate(filepath.Base(src))
	if err := m.move(src, dest, info.Mode().Perm()); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !exists(src) {
			return "", ErrSourceGone
		}
		return "", err
	}
	return dest, nil
}

// allocate picks a free "<epoch>_<base>" name, bumping the epoch on clashes.
// Callers hold m.mu.
func (m *Manager) allocate(base string) string {
	epoch := m.now().Unix()
	for {
		dest := filepath.Join(m.dir, strconv.FormatInt(epoch, 10)+"_"+base)
		if !exists(dest) {
			return dest
		}
		epoch++
	}
}

// Restore moves a quarantined file back. It goes to originalPath when that
// directory still exists, otherwise to fallbackRoot under its original name.
func (m *Manager) Restore(quarantined, originalPath, fallbackRoot string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Lstat(quarantined)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrAlreadyRestored
	}
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", quarantined, err)
	}

	dest := originalPath
	if dest == "" || !isDir(filepath.Dir(dest)) {
		dest = filepath.Join(fallbackRoot, OriginalName(filepath.Base(quarantined)))
	}
	if exists(dest) {
		return dest, fmt.Errorf("%w: %s", ErrDestinationExists, dest)
	}

	if err := m.move(quarantined, dest, info.Mode().Perm()); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !exists(quarantined) {
			return "", ErrAlreadyRestored
		}
		return "", err
	}
	return dest, nil
}

// List returns the quarantined files, oldest first. Partial copies are skipped.
func (m *Manager) List() ([]Entry, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("reading quarantine dir: %w", err)
	}

	var out []Entry
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		match := epochPrefix.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		epoch, _ := strconv.ParseInt(match[1], 10, 64)
		var size int64
		if info, err := e.Info(); err == nil {
			size = info.Size()
		}
		out = append(out, Entry{
			Path:  filepath.Join(m.dir, e.Name()),
			Epoch: epoch,
			Name:  OriginalName(e.Name()),
			Size:  size,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out, nil
}

// CleanPartials removes leftovers from interrupted cross-device copies.
func (m *Manager) CleanPartials() (int, error) {
	matches, err := filepath.Glob(filepath.Join(m.dir, PartialPrefix+"*"))
	if err != nil {
		return 0, err
	}
	for _, p := range matches {
		_ = os.Remove(p)
	}
	return len(matches), nil
}

func (m *Manager) move(src, dest string, perm fs.FileMode) error {
	err := m.rename(src, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return fmt.Errorf("moving %s to %s: %w", src, dest, err)
	}
	return m.copyAcross(src, dest, perm)
}

// copyAcross copies src next to dest, publishes it with a rename, and removes
// src. On any failure dest does not exist and src is untouched.
func (m *Manager) copyAcross(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), PartialPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating partial file: %w", err)
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if _, err := io.Copy(tmp, in); err != nil {
		return fail(fmt.Errorf("copying %s: %w", src, err))
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail(fmt.Errorf("chmod partial file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing partial file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing partial file: %w", err)
	}
	if err := m.rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("publishing %s: %w", dest, err)
	}
	syncDir(filepath.Dir(dest))

	if err := os.Remove(src); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("removing source after copy: %w", err)
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
