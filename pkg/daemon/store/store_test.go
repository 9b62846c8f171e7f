package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/dropguard/pkg/daemon/store"
	"github.com/jamesainslie/dropguard/pkg/dropguard/state"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

func openMem(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadEmptyReturnsDefaults(t *testing.T) {
	s := openMem(t)

	rec, err := s.Load()
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, types.ModeBlock, rec.Mode)
	assert.Empty(t, rec.Alerts)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	rec := state.DefaultRecord()
	rec.Mode = types.ModeWarn
	rec.Whitelist = []string{"/w/docs"}
	rec.LastScan = &now
	rec.Alerts = []types.Alert{{
		ID: "a1", File: "/q/1_a.txt", OriginalPath: "/w/a.txt", Rule: "Email",
		Status: types.ModeBlock, Origin: "/w", Size: 42, Timestamp: now,
	}}
	require.NoError(t, s.Save(rec))
	require.NoError(t, s.Close())

	s, err = store.Open(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, types.ModeWarn, got.Mode)
	assert.Equal(t, []string{"/w/docs"}, got.Whitelist)
	require.Len(t, got.Alerts, 1)
	assert.Equal(t, "/q/1_a.txt", got.Alerts[0].File)
	assert.EqualValues(t, 42, got.Alerts[0].Size)
	assert.True(t, now.Equal(*got.LastScan))
}

func TestMigrateStampsEmptyStore(t *testing.T) {
	s := openMem(t)

	n, err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NotNil(t, s.GetSchema())
	assert.Equal(t, store.CurrentSchemaVersion, s.GetSchema().Version)
	assert.False(t, s.NeedsMigration())
}

const legacyJSON = `{
  "policy_mode": "warn",
  "whitelist": ["/home/u/Allowed", ""],
  "alerts": [
    {"file": "/q/1700000000_a.txt", "rule": "Aadhaar", "time": "2024-03-01 10:20:30",
     "status": "block", "origin": "/home/u/Watch", "original_path": "/home/u/Watch/a.txt",
     "file_size": "1.5 KB"},
    {"file": "/home/u/Watch/b.txt", "rule": "Email", "time": "2024-03-01 10:21:00",
     "status": "warn", "file_size": "N/A"}
  ],
  "last_scan_time": "2024-03-01 11:00:00"
}`

func TestImportLegacy(t *testing.T) {
	s := openMem(t)
	path := filepath.Join(t.TempDir(), "dlp_state.json")
	require.NoError(t, os.WriteFile(path, []byte(legacyJSON), 0o644))

	imported, err := s.ImportLegacy(context.Background(), path)
	require.NoError(t, err)
	require.True(t, imported)

	rec, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, types.ModeWarn, rec.Mode)
	assert.Equal(t, []string{"/home/u/Allowed"}, rec.Whitelist)
	require.Len(t, rec.Alerts, 2)

	first := rec.Alerts[0]
	assert.NotEmpty(t, first.ID)
	assert.EqualValues(t, 1536, first.Size)
	assert.Equal(t, "/home/u/Watch/a.txt", first.OriginalPath)
	assert.Equal(t, 2024, first.Timestamp.Year())

	second := rec.Alerts[1]
	assert.Equal(t, types.ModeWarn, second.Status)
	assert.EqualValues(t, 0, second.Size)
	assert.Equal(t, second.File, second.OriginalPath)

	require.NotNil(t, rec.LastScan)
	assert.Equal(t, 11, rec.LastScan.Hour())
	assert.Equal(t, store.CurrentSchemaVersion, s.GetSchema().Version)

	// A second import never clobbers existing state.
	imported, err = s.ImportLegacy(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, imported)
}

func TestImportLegacyMissingFile(t *testing.T) {
	s := openMem(t)

	imported, err := s.ImportLegacy(context.Background(), filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.False(t, imported)
}

func TestImportLegacyRejectsGarbage(t *testing.T) {
	s := openMem(t)
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := s.ImportLegacy(context.Background(), path)
	assert.ErrorIs(t, err, store.ErrCorrupt)
}

func TestMigrateHonoursCancellation(t *testing.T) {
	s := openMem(t)
	path := filepath.Join(t.TempDir(), "dlp_state.json")
	require.NoError(t, os.WriteFile(path, []byte(legacyJSON), 0o644))

	// Seed legacy state without migrating by cancelling first.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ImportLegacy(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, s.NeedsMigration())

	n, err := s.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, s.NeedsMigration())
}
