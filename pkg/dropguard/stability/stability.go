// Package stability decides when a file has finished being written by
// polling its size and modification time.
package stability

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"
)

// Result is the outcome of a Wait.
type Result int

const (
	// Stable means Required consecutive non-empty readings each matched the
	// one before.
	Stable Result = iota + 1
	// Unstable means the timeout elapsed first. Callers may still classify.
	Unstable
	// Gone means the file disappeared while being watched.
	Gone
)

func (r Result) String() string {
	switch r {
	case Stable:
		return "stable"
	case Unstable:
		return "unstable"
	case Gone:
		return "gone"
	default:
		return "unknown"
	}
}

// Defaults used when a Detector field is zero.
const (
	DefaultInterval = 500 * time.Millisecond
	DefaultTimeout  = 8 * time.Second
	DefaultRequired = 3
)

// Detector polls a path until its readings settle.
type Detector struct {
	Interval time.Duration
	Timeout  time.Duration
	// Required is how many consecutive readings must match the previous
	// one, at least 3. The first reading only sets the baseline.
	Required int

	// stat is swapped in tests.
	stat func(string) (fs.FileInfo, error)
}

// New returns a Detector with the given parameters, filling zero values with
// the defaults.
func New(interval, timeout time.Duration, required int) *Detector {
	return &Detector{Interval: interval, Timeout: timeout, Required: required}
}

type reading struct {
	size  int64
	mtime time.Time
}

func (r reading) equal(o reading) bool {
	return r.size == o.size && r.mtime.Equal(o.mtime)
}

func (d *Detector) params() (time.Duration, time.Duration, int) {
	interval, timeout, required := d.Interval, d.Timeout, d.Required
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if required < DefaultRequired {
		required = DefaultRequired
	}
	return interval, timeout, required
}

// Wait blocks until path is stable, gone, or the timeout passes. The only
// error it returns is the context's.
func (d *Detector) Wait(ctx context.Context, path string) (Result, error) {
	interval, timeout, required := d.params()
	stat := d.stat
	if stat == nil {
		stat = os.Stat
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last    reading
		primed  bool
		matches int
	)

	for {
		info, err := stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return Gone, nil
		case err != nil:
			// Locked or mid-replace; start over.
			primed, matches = false, 0
		case !info.Mode().IsRegular():
			return Gone, nil
		default:
			cur := reading{size: info.Size(), mtime: info.ModTime()}
			switch {
			case cur.size == 0:
				primed, matches = false, 0
			case primed && cur.equal(last):
				matches++
			default:
				primed, matches = true, 0
			}
			last = cur
		}

		if matches >= required {
			return Stable, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return Unstable, nil
		case <-ticker.C:
		}
	}
}
