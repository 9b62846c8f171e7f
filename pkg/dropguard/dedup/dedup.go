// Package dedup suppresses repeat processing of the same path within a TTL.
package dedup

import (
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is the suppression window when none is configured.
const DefaultTTL = 20 * time.Second

// gcFactor scales the TTL to the age at which entries are forgotten.
const gcFactor = 5

// Result is the outcome of a Claim.
type Result int

const (
	// NewlyClaimed means the caller owns this path for the next TTL.
	NewlyClaimed Result = iota + 1
	// AlreadyHandled means the path was claimed or marked within the TTL.
	AlreadyHandled
)

func (r Result) String() string {
	if r == NewlyClaimed {
		return "newly_claimed"
	}
	return "already_handled"
}

// Deduplicator is a TTL set of recently handled paths, keyed on the
// case-folded clean path. The zero value is not usable; call New.
type Deduplicator struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	seen   map[string]time.Time
	lastGC time.Time
}

// New returns a Deduplicator with the given TTL (DefaultTTL if zero).
func New(ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduplicator{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// TTL returns the suppression window.
func (d *Deduplicator) TTL() time.Duration { return d.ttl }

func key(path string) string {
	return strings.ToLower(filepath.Clean(path))
}

// Claim atomically checks path and, if it is not within the TTL, records it.
func (d *Deduplicator) Claim(path string) Result {
	k := key(path)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.maybeSweep(now)

	if t, ok := d.seen[k]; ok && now.Sub(t) < d.ttl {
		return AlreadyHandled
	}
	d.seen[k] = now
	return NewlyClaimed
}

// Mark records path as handled now, extending any existing entry.
func (d *Deduplicator) Mark(path string) {
	d.mu.Lock()
	d.seen[key(path)] = d.now()
	d.mu.Unlock()
}

// Release forgets path so the next event for it is processed.
func (d *Deduplicator) Release(path string) {
	d.mu.Lock()
	delete(d.seen, key(path))
	d.mu.Unlock()
}

// Sweep drops entries older than five TTLs and returns how many were removed.
func (d *Deduplicator) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweep(d.now())
}

// Len returns the number of tracked paths.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// maybeSweep runs at most once per TTL. Callers hold d.mu.
func (d *Deduplicator) maybeSweep(now time.Time) {
	if now.Sub(d.lastGC) < d.ttl {
		return
	}
	d.sweep(now)
}

func (d *Deduplicator) sweep(now time.Time) int {
	d.lastGC = now
	removed := 0
	for k, t := range d.seen {
		if now.Sub(t) > gcFactor*d.ttl {
			delete(d.seen, k)
			removed++
		}
	}
	return removed
}
