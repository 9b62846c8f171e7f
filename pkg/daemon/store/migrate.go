package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/dropguard/pkg/dropguard/state"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

// legacyTimeLayout is how version 1 wrote timestamps, in local time.
const legacyTimeLayout = "2006-01-02 15:04:05"

// Migrate brings stored state up to CurrentSchemaVersion and returns the
// number of migrations run. An empty store is stamped with the current
// version.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	from := s.version()
	if from == 0 {
		return 0, s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()})
	}
	if from >= CurrentSchemaVersion {
		return 0, nil
	}

	run := 0
	for version := from + 1; version <= CurrentSchemaVersion; version++ {
		if err := ctx.Err(); err != nil {
			return run, err
		}

		var err error
		switch version {
		case 2:
			err = s.migrateToV2()
		}
		if err != nil {
			return run, fmt.Errorf("migrating to schema %d: %w", version, err)
		}

		if err := s.SetSchema(&Schema{Version: version, UpdatedAt: time.Now()}); err != nil {
			return run, err
		}
		run++
	}
	return run, nil
}

type legacyAlert struct {
	ID           string `json:"id"`
	File         string `json:"file"`
	Rule         string `json:"rule"`
	Time         string `json:"time"`
	Status       string `json:"status"`
	Origin       string `json:"origin"`
	OriginalPath string `json:"original_path"`
	FileSize     any    `json:"file_size"`
}

type legacyRecord struct {
	PolicyMode   string        `json:"policy_mode"`
	Whitelist    []string      `json:"whitelist"`
	Alerts       []legacyAlert `json:"alerts"`
	LastScanTime *string       `json:"last_scan_time"`
}

func (s *Store) migrateToV2() error {
	data, err := s.get(stateKey)
	if err != nil {
		return err
	}

	var legacy legacyRecord
	if err := json.Unmarshal(data, &legacy); err != nil {
		// Unreadable legacy state cannot be carried forward; start clean.
		return s.Save(state.DefaultRecord())
	}
	return s.Save(convertLegacy(legacy))
}

func convertLegacy(l legacyRecord) state.Record {
	rec := state.DefaultRecord()

	if mode, err := types.ParseMode(l.PolicyMode); err == nil {
		rec.Mode = mode
	}
	for _, w := range l.Whitelist {
		if w = strings.TrimSpace(w); w != "" {
			rec.Whitelist = append(rec.Whitelist, w)
		}
	}
	if l.LastScanTime != nil {
		if t, ok := parseLegacyTime(*l.LastScanTime); ok {
			rec.LastScan = &t
		}
	}

	for _, la := range l.Alerts {
		a := types.Alert{
			ID:           la.ID,
			File:         la.File,
			Rule:         la.Rule,
			Origin:       la.Origin,
			OriginalPath: la.OriginalPath,
			Size:         legacySize(la.FileSize),
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.OriginalPath == "" {
			a.OriginalPath = a.File
		}
		if mode, err := types.ParseMode(la.Status); err == nil {
			a.Status = mode
		} else {
			a.Status = types.ModeBlock
		}
		if t, ok := parseLegacyTime(la.Time); ok {
			a.Timestamp = t
		}
		rec.Alerts = append(rec.Alerts, a)
	}
	return rec
}

func parseLegacyTime(s string) (time.Time, bool) {
	for _, layout := range []string{legacyTimeLayout, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// legacySize accepts "12.3 KB" style strings, raw numbers, or "N/A".
func legacySize(v any) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case string:
		n, err := types.ParseSize(x)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// ImportLegacy seeds an empty store from a legacy JSON state file and
// migrates it. It does nothing, and reports false, when state already exists
// or the file is missing.
func (s *Store) ImportLegacy(ctx context.Context, path string) (bool, error) {
	if path == "" || s.has(stateKey) {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading legacy state: %w", err)
	}
	if !json.Valid(data) {
		return false, fmt.Errorf("%w: %s", ErrCorrupt, path)
	}

	if err := s.put(stateKey, data); err != nil {
		return false, err
	}
	if err := s.SetSchema(&Schema{Version: 1, UpdatedAt: time.Now()}); err != nil {
		return false, err
	}
	if _, err := s.Migrate(ctx); err != nil {
		return false, err
	}
	return true, nil
}
