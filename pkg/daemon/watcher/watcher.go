// Package watcher turns fsnotify notifications for a directory tree into file
// events for the router.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/dropguard/pkg/dropguard/logging"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 256

// Watcher subscribes to directory trees. Each subscription owns its own
// fsnotify watcher so roots can come and go independently.
type Watcher struct {
	skip   func(dir string) bool
	buffer int
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSkip excludes directories (and everything below them) from watching.
func WithSkip(fn func(dir string) bool) Option {
	return func(w *Watcher) { w.skip = fn }
}

// WithBuffer sets the event channel capacity.
func WithBuffer(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.buffer = n
		}
	}
}

// New creates a Watcher.
func New(opts ...Option) *Watcher {
	w := &Watcher{buffer: DefaultBuffer}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Subscribe watches root recursively. Events are delivered until ctx is
// cancelled, after which the channel is closed.
func (w *Watcher) Subscribe(ctx context.Context, root string) (<-chan types.FileEvent, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", absRoot)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &subscription{
		root:    absRoot,
		watcher: fsw,
		paths:   make(map[string]bool),
		skip:    w.skip,
		log:     logging.Get("watcher"),
	}
	if err := s.watchTree(absRoot); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	out := make(chan types.FileEvent, w.buffer)
	go s.run(ctx, out)
	return out, nil
}

type subscription struct {
	root    string
	watcher *fsnotify.Watcher
	skip    func(string) bool
	log     *logging.Logger

	mu    sync.Mutex
	paths map[string]bool
}

// watchTree adds dir and every directory below it. Symlinks are not followed
// to avoid loops.
func (s *subscription) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == dir {
				return walkErr
			}
			return nil //nolint:nilerr // Skip entries with errors
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.IsDir() {
			return nil
		}
		if path != s.root && s.skip != nil && s.skip(path) {
			return filepath.SkipDir
		}
		if err := s.addWatch(path); err != nil && path == dir {
			return err
		}
		return nil
	})
}

func (s *subscription) addWatch(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paths[path] {
		return nil
	}
	if err := s.watcher.Add(path); err != nil {
		s.log.Warn("failed to add watch", "path", path, "error", err)
		return err
	}
	s.paths[path] = true
	return nil
}

// unwatch drops path and any watched directory below it.
func (s *subscription) unwatch(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p := range s.paths {
		if p == path || isSubPath(p, path) {
			_ = s.watcher.Remove(p)
			delete(s.paths, p)
		}
	}
}

func (s *subscription) watched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

func (s *subscription) run(ctx context.Context, out chan<- types.FileEvent) {
	defer close(out)
	defer s.watcher.Close()

	emit := func(ev types.FileEvent) bool {
		ev.Root = s.root
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if !s.handleEvent(event, emit) {
				return
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Error("watcher error", "root", s.root, "error", err)
		}
	}
}

// handleEvent translates one notification. It returns false once the
// subscription has been cancelled.
func (s *subscription) handleEvent(event fsnotify.Event, emit func(types.FileEvent) bool) bool {
	switch {
	case event.Op&fsnotify.Create != 0:
		return s.handleCreate(event.Name, emit)
	case event.Op&fsnotify.Write != 0:
		info, err := os.Stat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			return true
		}
		return emit(types.FileEvent{Path: event.Name, Kind: types.Modified})
	case event.Op&fsnotify.Rename != 0:
		// The new name arrives as its own Create.
		s.unwatch(event.Name)
		return emit(types.FileEvent{Kind: types.Renamed, From: event.Name})
	case event.Op&fsnotify.Remove != 0:
		s.unwatch(event.Name)
	}
	return true
}

func (s *subscription) handleCreate(path string, emit func(types.FileEvent) bool) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return true
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return true
	}
	if info.Mode().IsRegular() {
		return emit(types.FileEvent{Path: path, Kind: types.Created})
	}
	if !info.IsDir() || (s.skip != nil && s.skip(path)) {
		return true
	}

	_ = s.watchTree(path)

	// Files written before the watch was in place would otherwise be missed.
	var files []string
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // Skip entries with errors
		}
		if d.IsDir() && p != path && s.skip != nil && s.skip(p) {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	for _, f := range files {
		if !emit(types.FileEvent{Path: f, Kind: types.Created}) {
			return false
		}
	}
	return true
}

// isSubPath checks if path is under parent directory.
func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
