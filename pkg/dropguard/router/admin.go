package router

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/jamesainslie/dropguard/pkg/dropguard/pathguard"
	"github.com/jamesainslie/dropguard/pkg/dropguard/quarantine"
	"github.com/jamesainslie/dropguard/pkg/dropguard/state"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// ListAlerts returns the alerts, newest first.
func (r *Router) ListAlerts() []types.Alert {
	return r.cfg.State.Alerts()
}

// Alert looks up a single alert by ID or current path.
func (r *Router) Alert(ref string) (types.Alert, error) {
	a, ok := r.cfg.State.Find(ref)
	if !ok {
		return types.Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, ref)
	}
	return a, nil
}

// Policy returns the current policy mode.
func (r *Router) Policy() types.PolicyMode {
	return r.cfg.State.Mode()
}

// TogglePolicy flips between block and warn. Pipelines already past the
// guard keep the mode they started with.
func (r *Router) TogglePolicy() (types.PolicyMode, error) {
	mode, err := r.cfg.State.TogglePolicy()
	if err != nil {
		r.log.Error("failed to persist policy mode", "mode", mode, "error", err)
		return mode, err
	}
	r.log.Info("policy mode changed", "mode", mode)
	return mode, nil
}

// Whitelist returns the whitelist entries.
func (r *Router) Whitelist() []string {
	return r.cfg.State.Whitelist()
}

// AddWhitelist whitelists a file or directory inside a watched root and
// returns the canonical entry.
func (r *Router) AddWhitelist(path string) (string, error) {
	canon := pathguard.Canonicalize(path)
	if !r.cfg.Guard.InScope(canon) {
		r.log.Error("whitelist entry outside watched roots rejected", "path", canon)
		return canon, fmt.Errorf("%w: %s", ErrOutOfScope, canon)
	}

	added, err := r.cfg.State.AddWhitelist(canon)
	if err != nil {
		r.log.Error("failed to persist whitelist", "path", canon, "error", err)
		return canon, err
	}
	if added {
		r.log.Info("whitelist entry added", "path", canon)
	}
	return canon, nil
}

// RemoveWhitelist removes an entry, matching either the given or the
// canonical form. It reports whether anything was removed.
func (r *Router) RemoveWhitelist(path string) (bool, error) {
	removed := false
	for _, candidate := range uniq(filepath.Clean(path), pathguard.Canonicalize(path)) {
		ok, err := r.cfg.State.RemoveWhitelist(candidate)
		if err != nil {
			r.log.Error("failed to persist whitelist", "path", candidate, "error", err)
			return removed || ok, err
		}
		removed = removed || ok
	}
	if removed {
		r.log.Info("whitelist entry removed", "path", path)
	}
	return removed, nil
}

// RestoreResult reports where a restored file ended up.
type RestoreResult struct {
	Alert types.Alert
	Path  string
	// AlreadyRestored is set when the file had already been restored, or
	// was gone from quarantine, and at most the alert was cleared.
	AlreadyRestored bool
}

// Restore returns a file to its original location (or the primary root when
// that directory is gone), whitelists it and clears its alert. Restoring an
// alert whose file was already restored clears the alert and succeeds, and
// repeating a restore by alert ID or quarantine path is a no-op.
func (r *Router) Restore(ref string) (RestoreResult, error) {
	a, ok := r.cfg.State.Find(ref)
	if !ok {
		if final, done := r.alreadyRestored(ref); done {
			r.log.Debug("repeat restore ignored", "ref", ref, "path", final)
			return RestoreResult{Path: final, AlreadyRestored: true}, nil
		}
		return RestoreResult{}, fmt.Errorf("%w: %s", ErrAlertNotFound, ref)
	}

	// Warn-mode alerts, and block alerts whose move never happened, still
	// have the file in place.
	if !r.cfg.Quarantine.Contains(a.File) {
		final := pathguard.Canonicalize(a.File)
		if _, err := r.cfg.State.CompleteRestore(a.ID, final); err != nil && !errors.Is(err, state.ErrNotFound) {
			return RestoreResult{Alert: a, Path: final}, err
		}
		r.cfg.Dedup.Mark(final)
		r.restores.remember(a, final)
		r.log.Info("file allowed in place", "path", final, "rule", a.Rule)
		r.notify(types.AlertRestored, a)
		return RestoreResult{Alert: a, Path: final}, nil
	}

	primary := r.cfg.Guard.Roots()[0]
	original := a.OriginalPath
	if original != "" && !r.cfg.Guard.InScope(original) {
		r.log.Warn("original location outside watched roots, restoring to primary root",
			"original", original, "root", primary)
		original = ""
	}

	// Mark both candidate destinations so the restore itself is not re-detected.
	if original != "" {
		r.cfg.Dedup.Mark(pathguard.Canonicalize(original))
	}
	r.cfg.Dedup.Mark(filepath.Join(primary, quarantine.OriginalName(filepath.Base(a.File))))

	final, err := r.cfg.Quarantine.Restore(a.File, original, primary)
	switch {
	case errors.Is(err, quarantine.ErrAlreadyRestored):
		if _, rerr := r.cfg.State.Remove(a.ID); rerr != nil && !errors.Is(rerr, state.ErrNotFound) {
			return RestoreResult{Alert: a, AlreadyRestored: true}, rerr
		}
		r.restores.remember(a, "")
		r.log.Info("quarantined file already gone, alert cleared", "quarantine", a.File)
		r.notify(types.AlertRestored, a)
		return RestoreResult{Alert: a, AlreadyRestored: true}, nil
	case err != nil:
		r.log.Error("restore failed", "quarantine", a.File, "error", err)
		r.cfg.Metrics.Failure("restore")
		return RestoreResult{Alert: a, Path: final}, err
	}

	final = pathguard.Canonicalize(final)
	r.cfg.Dedup.Mark(final)
	if _, err := r.cfg.State.CompleteRestore(a.ID, final); err != nil && !errors.Is(err, state.ErrNotFound) {
		r.log.Error("restored file but could not persist state", "path", final, "error", err)
		return RestoreResult{Alert: a, Path: final}, err
	}

	r.restores.remember(a, final)
	r.log.Info("file restored", "path", final, "rule", a.Rule)
	r.cfg.Metrics.AlertsStored(len(r.cfg.State.Snapshot().Alerts))
	r.notify(types.AlertRestored, a)
	return RestoreResult{Alert: a, Path: final}, nil
}

// alreadyRestored recognises a reference to a restore that has already
// happened: a recently restored alert ID or quarantine path, a path that is
// now whitelisted, or a quarantine entry that no longer exists.
func (r *Router) alreadyRestored(ref string) (string, bool) {
	if final, ok := r.restores.lookup(ref); ok {
		return final, true
	}
	canon := pathguard.Canonicalize(ref)
	if slices.Contains(r.cfg.State.Whitelist(), canon) {
		return canon, true
	}
	if r.cfg.Quarantine.Contains(canon) && pathguard.LooksQuarantined(filepath.Base(canon)) {
		if _, err := os.Lstat(canon); errors.Is(err, fs.ErrNotExist) {
			return "", true
		}
	}
	return "", false
}

// restoreLog remembers where recently restored alerts went, keyed by alert
// ID and quarantine path, so a repeated restore is a no-op.
type restoreLog struct {
	mu    sync.Mutex
	final map[string]string
	order []string
}

// maxRestoreKeys bounds the log; each restore adds at most two keys.
const maxRestoreKeys = 2 * state.DefaultMaxAlerts

func (l *restoreLog) remember(a types.Alert, final string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.final == nil {
		l.final = make(map[string]string)
	}
	for _, key := range uniq(a.ID, filepath.Clean(a.File)) {
		if key == "" || key == "." {
			continue
		}
		if _, seen := l.final[key]; !seen {
			l.order = append(l.order, key)
		}
		l.final[key] = final
	}
	for len(l.order) > maxRestoreKeys {
		delete(l.final, l.order[0])
		l.order = l.order[1:]
	}
}

func (l *restoreLog) lookup(ref string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	final, ok := l.final[ref]
	if !ok {
		final, ok = l.final[filepath.Clean(ref)]
	}
	return final, ok
}

// Dismiss removes an alert without touching the file.
func (r *Router) Dismiss(ref string) (types.Alert, error) {
	a, err := r.cfg.State.Remove(ref)
	if errors.Is(err, state.ErrNotFound) {
		return types.Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, ref)
	}
	if err != nil {
		r.log.Error("failed to persist dismissal", "alert", a.ID, "error", err)
		return a, err
	}
	r.log.Info("alert dismissed", "alert", a.ID, "file", a.File)
	r.cfg.Metrics.AlertsStored(len(r.cfg.State.Snapshot().Alerts))
	r.notify(types.AlertDismissed, a)
	return a, nil
}

// Status summarises the router for the admin surface.
type Status struct {
	Mode          types.PolicyMode
	Roots         []string
	QuarantineDir string
	Alerts        int
	Whitelist     int
	Tracked       int
	LastScan      *time.Time
}

// Status returns a point-in-time summary.
func (r *Router) Status() Status {
	snap := r.cfg.State.Snapshot()
	return Status{
		Mode:          snap.Mode,
		Roots:         r.cfg.Guard.Roots(),
		QuarantineDir: r.cfg.Quarantine.Dir(),
		Alerts:        len(snap.Alerts),
		Whitelist:     len(snap.Whitelist),
		Tracked:       r.cfg.Dedup.Len(),
		LastScan:      snap.LastScan,
	}
}

func uniq(items ...string) []string {
	out := items[:0:0]
	seen := make(map[string]bool, len(items))
	for _, s := range items {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
