package router

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// RecoveryReport describes what Recover repaired.
type RecoveryReport struct {
	// Relinked alerts were pointed at the quarantine file their move produced.
	Relinked int
	// Partials is the number of interrupted copies removed.
	Partials int
}

// Recover repairs state left by a crash between moving a file into quarantine
// and persisting the alert's new location. Such an alert still points at its
// original path, which no longer exists, while a quarantine file named
// "<epoch>_<basename>" with an epoch no earlier than the alert appeared.
func (r *Router) Recover() (RecoveryReport, error) {
	var report RecoveryReport

	n, err := r.cfg.Quarantine.CleanPartials()
	if err != nil {
		r.log.Warn("could not clean partial copies", "error", err)
	}
	report.Partials = n

	entries, err := r.cfg.Quarantine.List()
	if err != nil {
		return report, err
	}

	alerts := r.cfg.State.Alerts()
	claimed := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		claimed[a.File] = true
	}

	// Oldest alerts first so each takes the earliest eligible entry.
	for i := len(alerts) - 1; i >= 0; i-- {
		a := alerts[i]
		if !stranded(a, r.cfg.Quarantine.Contains(a.File)) {
			continue
		}

		name := filepath.Base(a.OriginalPath)
		since := a.Timestamp.Unix() - 1
		for _, e := range entries {
			if claimed[e.Path] || e.Name != name || e.Epoch < since {
				continue
			}
			if _, err := r.cfg.State.UpdatePath(a.ID, e.Path); err != nil {
				r.log.Error("could not relink alert", "alert", a.ID, "quarantine", e.Path, "error", err)
				return report, err
			}
			claimed[e.Path] = true
			r.cfg.Dedup.Mark(e.Path)
			report.Relinked++
			r.log.Info("relinked alert to quarantined file", "alert", a.ID, "quarantine", e.Path)
			break
		}
	}

	if report.Relinked > 0 || report.Partials > 0 {
		r.log.Info("recovery finished", "relinked", report.Relinked, "partials", report.Partials)
	}
	return report, nil
}

func stranded(a types.Alert, inQuarantine bool) bool {
	if a.Status != types.ModeBlock || inQuarantine || a.File != a.OriginalPath {
		return false
	}
	_, err := os.Lstat(a.File)
	return errors.Is(err, fs.ErrNotExist)
}
