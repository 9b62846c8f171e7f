package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/dropguard/pkg/daemon"
	"github.com/jamesainslie/dropguard/pkg/daemon/store"
)

func TestDaemon_ClearsFilesLeftByCrash(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.State.DBPath, 0o700))
	badgerLock := filepath.Join(cfg.State.DBPath, "LOCK")

	leftovers := map[string]string{
		cfg.PIDPath():    strconv.Itoa(999999999),
		cfg.SocketPath(): "not a socket",
		badgerLock:       "",
	}
	for path, content := range leftovers {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	d, err := daemon.New(context.Background(), cfg, daemon.WithStore(st), daemon.WithSource(&chanSource{}))
	require.NoError(t, err)
	defer d.Close()

	for path := range leftovers {
		assert.NoFileExists(t, path)
	}
}

func TestDaemon_CrashLeftoversWithGarbagePID(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.PIDPath(), []byte("not-a-number"), 0o600))

	st, err := store.OpenInMemory()
	require.NoError(t, err)
	d, err := daemon.New(context.Background(), cfg, daemon.WithStore(st), daemon.WithSource(&chanSource{}))
	require.NoError(t, err)
	defer d.Close()

	assert.NoFileExists(t, cfg.PIDPath())
}

func TestDaemon_RefusedInstanceLeavesRunningFilesAlone(t *testing.T) {
	cfg := testConfig(t)
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	d, err := daemon.New(context.Background(), cfg, daemon.WithStore(st), daemon.WithSource(&chanSource{}))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, daemon.WritePIDFile(cfg.PIDPath()))

	st2, err := store.OpenInMemory()
	require.NoError(t, err)
	_, err = daemon.New(context.Background(), cfg, daemon.WithStore(st2), daemon.WithSource(&chanSource{}))
	require.ErrorIs(t, err, daemon.ErrDaemonAlreadyRunning)
	assert.FileExists(t, cfg.PIDPath())
	assert.True(t, daemon.IsDaemonRunning(cfg.PIDPath()))
}

func TestIsProcessRunning(t *testing.T) {
	assert.True(t, daemon.IsProcessRunning(os.Getpid()))
	assert.False(t, daemon.IsProcessRunning(999999999))
}
