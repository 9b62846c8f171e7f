// Package state holds dropguard's mutable state: policy mode, whitelist,
// alert list and last scan time.
//
// Readers load an immutable Record without locking. Writers are serialised,
// build a new Record, publish it, and persist it before returning.
package state

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// DefaultMaxAlerts caps the alert list; the oldest alerts are evicted first.
const DefaultMaxAlerts = 200

var (
	// ErrPersist wraps failures to durably save a change. The change is
	// still visible in memory.
	ErrPersist = errors.New("persisting state")
	// ErrNotFound is returned when no alert matches a reference.
	ErrNotFound = errors.New("alert not found")
)

// Record is the persisted layout. Alerts are newest first.
type Record struct {
	Mode      types.PolicyMode `json:"policy_mode"`
	Whitelist []string         `json:"whitelist"`
	Alerts    []types.Alert    `json:"alerts"`
	LastScan  *time.Time       `json:"last_scan_time"`
}

// DefaultRecord is the state used when nothing has been persisted.
func DefaultRecord() Record {
	return Record{Mode: types.ModeBlock, Whitelist: []string{}, Alerts: []types.Alert{}}
}

func (r Record) clone() Record {
	out := Record{
		Mode:      r.Mode,
		Whitelist: slices.Clone(r.Whitelist),
		Alerts:    slices.Clone(r.Alerts),
	}
	if r.LastScan != nil {
		t := *r.LastScan
		out.LastScan = &t
	}
	if out.Whitelist == nil {
		out.Whitelist = []string{}
	}
	if out.Alerts == nil {
		out.Alerts = []types.Alert{}
	}
	return out
}

// Persister durably stores a Record.
type Persister interface {
	Save(Record) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(Record) error

// Save calls f.
func (f PersisterFunc) Save(r Record) error { return f(r) }

// Holder owns the current Record.
type Holder struct {
	view    atomic.Pointer[Record]
	mu      sync.Mutex
	persist Persister
	max     int
}

// New returns a Holder seeded with rec. A nil persister keeps state in memory
// only.
func New(rec Record, p Persister, maxAlerts int) *Holder {
	if maxAlerts <= 0 {
		maxAlerts = DefaultMaxAlerts
	}
	if p == nil {
		p = PersisterFunc(func(Record) error { return nil })
	}

	seed := rec.clone()
	if _, err := types.ParseMode(string(seed.Mode)); err != nil {
		seed.Mode = types.ModeBlock
	}
	if len(seed.Alerts) > maxAlerts {
		seed.Alerts = seed.Alerts[:maxAlerts]
	}

	h := &Holder{persist: p, max: maxAlerts}
	h.view.Store(&seed)
	return h
}

// Snapshot returns the current Record. Callers must not modify its slices.
func (h *Holder) Snapshot() Record {
	return *h.view.Load()
}

// Mode returns the current policy mode.
func (h *Holder) Mode() types.PolicyMode {
	return h.view.Load().Mode
}

// Whitelist returns a copy of the whitelist.
func (h *Holder) Whitelist() []string {
	return slices.Clone(h.view.Load().Whitelist)
}

// Alerts returns a copy of the alerts, newest first.
func (h *Holder) Alerts() []types.Alert {
	return slices.Clone(h.view.Load().Alerts)
}

// Find returns the alert matching ref by ID or current path.
func (h *Holder) Find(ref string) (types.Alert, bool) {
	for _, a := range h.view.Load().Alerts {
		if a.Matches(ref) {
			return a, true
		}
	}
	return types.Alert{}, false
}

// mutate applies fn to a copy of the current Record, publishes it and
// persists it. If fn fails nothing changes.
func (h *Holder) mutate(fn func(*Record) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := h.view.Load().clone()
	if err := fn(&next); err != nil {
		return err
	}
	h.view.Store(&next)

	if err := h.persist.Save(next); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// TogglePolicy flips the mode and returns the new one.
func (h *Holder) TogglePolicy() (types.PolicyMode, error) {
	var mode types.PolicyMode
	err := h.mutate(func(r *Record) error {
		r.Mode = r.Mode.Toggle()
		mode = r.Mode
		return nil
	})
	return mode, err
}

// SetPolicy sets the mode.
func (h *Holder) SetPolicy(mode types.PolicyMode) error {
	if _, err := types.ParseMode(string(mode)); err != nil {
		return err
	}
	return h.mutate(func(r *Record) error {
		r.Mode = mode
		return nil
	})
}

// AddWhitelist adds path. It reports false when the entry was already present.
func (h *Holder) AddWhitelist(path string) (bool, error) {
	added := false
	err := h.mutate(func(r *Record) error {
		if !slices.Contains(r.Whitelist, path) {
			r.Whitelist = append(r.Whitelist, path)
			added = true
		}
		return nil
	})
	return added, err
}

// RemoveWhitelist removes path. It reports false when it was not present.
func (h *Holder) RemoveWhitelist(path string) (bool, error) {
	removed := false
	err := h.mutate(func(r *Record) error {
		before := len(r.Whitelist)
		r.Whitelist = slices.DeleteFunc(r.Whitelist, func(w string) bool { return w == path })
		removed = len(r.Whitelist) != before
		return nil
	})
	return removed, err
}

// Append records a new alert at the front, assigning an ID if it has none,
// and evicts the oldest alerts beyond the cap.
func (h *Holder) Append(a types.Alert) (types.Alert, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := h.mutate(func(r *Record) error {
		r.Alerts = slices.Insert(r.Alerts, 0, a)
		if len(r.Alerts) > h.max {
			r.Alerts = r.Alerts[:h.max]
		}
		return nil
	})
	return a, err
}

// UpdatePath points the matching alert at newPath.
func (h *Holder) UpdatePath(ref, newPath string) (types.Alert, error) {
	var updated types.Alert
	err := h.mutate(func(r *Record) error {
		i := index(r.Alerts, ref)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		r.Alerts[i].File = newPath
		updated = r.Alerts[i]
		return nil
	})
	return updated, err
}

// Remove deletes the matching alert and returns it.
func (h *Holder) Remove(ref string) (types.Alert, error) {
	var removed types.Alert
	err := h.mutate(func(r *Record) error {
		i := index(r.Alerts, ref)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		removed = r.Alerts[i]
		r.Alerts = slices.Delete(r.Alerts, i, i+1)
		return nil
	})
	return removed, err
}

// CompleteRestore whitelists finalPath and removes the alert in one write.
func (h *Holder) CompleteRestore(ref, finalPath string) (types.Alert, error) {
	var removed types.Alert
	err := h.mutate(func(r *Record) error {
		i := index(r.Alerts, ref)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		removed = r.Alerts[i]
		r.Alerts = slices.Delete(r.Alerts, i, i+1)
		if finalPath != "" && !slices.Contains(r.Whitelist, finalPath) {
			r.Whitelist = append(r.Whitelist, finalPath)
		}
		return nil
	})
	return removed, err
}

// SetLastScan records when a scan of existing files finished.
func (h *Holder) SetLastScan(t time.Time) error {
	return h.mutate(func(r *Record) error {
		r.LastScan = &t
		return nil
	})
}

// Flush re-persists the current Record, e.g. after an earlier failure.
func (h *Holder) Flush() error {
	return h.mutate(func(*Record) error { return nil })
}

func index(alerts []types.Alert, ref string) int {
	return slices.IndexFunc(alerts, func(a types.Alert) bool { return a.Matches(ref) })
}
