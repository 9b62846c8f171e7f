package logging_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/dropguard/pkg/dropguard/logging"
)

func countLogs(t *testing.T, dir, prefix string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".log") {
			n++
		}
	}
	return n
}

func TestRotationBySize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := logging.NewRotatingWriter(filepath.Join(dir, "size.log"), logging.RotationConfig{
		MaxSize: 256,
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		_, err := w.Write([]byte(strings.Repeat("x", 60) + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	assert.GreaterOrEqual(t, countLogs(t, dir, "size"), 2)
}

func TestRotationKeepsMaxBackups(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w, err := logging.NewRotatingWriter(filepath.Join(dir, "cap.log"), logging.RotationConfig{
		MaxSize:    64,
		MaxBackups: 2,
	})
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		_, err := w.Write([]byte(strings.Repeat("y", 40) + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	assert.LessOrEqual(t, countLogs(t, dir, "cap"), 3)
}

func TestWriteAfterClose(t *testing.T) {
	t.Parallel()

	w, err := logging.NewRotatingWriter(filepath.Join(t.TempDir(), "closed.log"), logging.RotationConfig{})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, err = w.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
