package router

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/dropguard/pkg/dropguard/classify"
	"github.com/jamesainslie/dropguard/pkg/dropguard/dedup"
	"github.com/jamesainslie/dropguard/pkg/dropguard/pathguard"
	"github.com/jamesainslie/dropguard/pkg/dropguard/quarantine"
	"github.com/jamesainslie/dropguard/pkg/dropguard/stability"
	"github.com/jamesainslie/dropguard/pkg/dropguard/state"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

const emailContent = "Contact: jane.doe42@example.org\n"

type stabilizerFunc func(ctx context.Context, path string) (stability.Result, error)

func (f stabilizerFunc) Wait(ctx context.Context, path string) (stability.Result, error) {
	return f(ctx, path)
}

type recorder struct {
	mu     sync.Mutex
	events []types.AlertEvent
}

func (r *recorder) Notify(ev types.AlertEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) actions() []types.AlertAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.AlertAction, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Action)
	}
	return out
}

type chanSource struct {
	ch chan types.FileEvent
}

func (s *chanSource) Subscribe(ctx context.Context, root string) (<-chan types.FileEvent, error) {
	out := make(chan types.FileEvent)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-s.ch:
				ev.Root = root
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

type harness struct {
	root   string
	qdir   string
	router *Router
	state  *state.Holder
	notes  *recorder
	waits  *atomic.Int32
}

type option func(*Config)

func withStabilizer(s Stabilizer) option { return func(c *Config) { c.Stability = s } }

func newHarness(t *testing.T, mode types.PolicyMode, opts ...option) *harness {
	return newHarnessWith(t, mode, nil, "", opts...)
}

func newHarnessWith(t *testing.T, mode types.PolicyMode, p state.Persister, qdir string, opts ...option) *harness {
	t.Helper()

	root := pathguard.Canonicalize(t.TempDir())
	if qdir == "" {
		qdir = pathguard.Canonicalize(t.TempDir())
	}
	qm, err := quarantine.New(qdir)
	require.NoError(t, err)
	guard, err := pathguard.New([]string{root}, qm.Dir(), nil)
	require.NoError(t, err)

	rec := state.DefaultRecord()
	rec.Mode = mode
	holder := state.New(rec, p, 0)

	waits := &atomic.Int32{}
	cfg := Config{
		Guard:      guard,
		Dedup:      dedup.New(time.Minute),
		Classifier: classify.MustCompile(classify.DefaultRules()),
		Quarantine: qm,
		State:      holder,
		Notifier:   &recorder{},
		RetryDelay: time.Millisecond,
		Stability: stabilizerFunc(func(context.Context, string) (stability.Result, error) {
			waits.Add(1)
			return stability.Stable, nil
		}),
	}
	for _, o := range opts {
		o(&cfg)
	}

	r, err := New(cfg)
	require.NoError(t, err)
	return &harness{
		root:   root,
		qdir:   qm.Dir(),
		router: r,
		state:  holder,
		notes:  cfg.Notifier.(*recorder),
		waits:  waits,
	}
}

func (h *harness) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(h.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func quarantineEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestBlockModeQuarantinesMatch(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	path := h.write(t, "report.txt", emailContent)

	out := h.router.Process(context.Background(), path, "")
	require.NoError(t, out.Err)
	assert.Equal(t, Quarantined, out.Result)
	assert.Equal(t, StageActioned, out.Stage)
	assert.Equal(t, "Email", out.Rule)

	assert.NoFileExists(t, path)
	names := quarantineEntries(t, h.qdir)
	require.Len(t, names, 1)
	assert.Regexp(t, regexp.MustCompile(`^\d+_report\.txt$`), names[0])

	alerts := h.router.ListAlerts()
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, "Email", a.Rule)
	assert.Equal(t, types.ModeBlock, a.Status)
	assert.Equal(t, filepath.Join(h.qdir, names[0]), a.File)
	assert.Equal(t, path, a.OriginalPath)
	assert.Equal(t, h.root, a.Origin)
	assert.EqualValues(t, len(emailContent), a.Size)

	assert.Equal(t, []types.AlertAction{types.AlertRaised, types.AlertQuarantined}, h.notes.actions())
}

func TestWarnModeLeavesFileInPlace(t *testing.T) {
	h := newHarness(t, types.ModeWarn)
	path := h.write(t, "report.txt", emailContent)

	out := h.router.Process(context.Background(), path, "")
	assert.Equal(t, Warned, out.Result)

	assert.FileExists(t, path)
	assert.Empty(t, quarantineEntries(t, h.qdir))

	alerts := h.router.ListAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, types.ModeWarn, alerts[0].Status)
	assert.Equal(t, path, alerts[0].File)
}

func TestCleanFileUntouched(t *testing.T) {
	for _, mode := range []types.PolicyMode{types.ModeBlock, types.ModeWarn} {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t, mode)
			path := h.write(t, "notes.txt", "nothing to see here\n")

			out := h.router.Process(context.Background(), path, "")
			assert.Equal(t, Clean, out.Result)
			assert.FileExists(t, path)
			assert.Empty(t, h.router.ListAlerts())

			// The claim was released, so the next write is inspected again.
			out = h.router.Process(context.Background(), path, "")
			assert.Equal(t, Clean, out.Result)
		})
	}
}

func TestOutOfScopeNeverPassesGuard(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte(emailContent), 0o644))

	out := h.router.Process(context.Background(), outside, "")
	assert.Equal(t, Rejected, out.Result)
	assert.Equal(t, StageGuarded, out.Stage)
	assert.Equal(t, pathguard.OutOfScope, out.Verdict)
	assert.ErrorIs(t, out.Err, ErrOutOfScope)

	assert.FileExists(t, outside)
	assert.Zero(t, h.waits.Load())
	assert.Empty(t, h.router.ListAlerts())
}

func TestQuarantineNamedFileSkipped(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	path := h.write(t, "1700000000_leftover.txt", emailContent)

	out := h.router.Process(context.Background(), path, "")
	assert.Equal(t, Rejected, out.Result)
	assert.Equal(t, pathguard.QuarantineNamed, out.Verdict)
	assert.Zero(t, h.waits.Load())
	assert.Empty(t, h.router.ListAlerts())
	assert.FileExists(t, path)
}

func TestWhitelistedFileSkipped(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	path := h.write(t, "allowed/report.txt", emailContent)
	_, err := h.router.AddWhitelist(filepath.Join(h.root, "allowed"))
	require.NoError(t, err)

	out := h.router.Process(context.Background(), path, "")
	assert.Equal(t, pathguard.Whitelisted, out.Verdict)
	assert.FileExists(t, path)
}

func TestIgnoredPathSkipped(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	guard, err := pathguard.New(h.router.cfg.Guard.Roots(), h.qdir, []string{"*.tmp", "build/**"})
	require.NoError(t, err)
	h.router.cfg.Guard = guard

	for _, rel := range []string{"draft.tmp", "build/out/report.txt"} {
		path := h.write(t, rel, emailContent)
		out := h.router.Process(context.Background(), path, "")
		assert.Equal(t, pathguard.Ignored, out.Verdict, rel)
		assert.FileExists(t, path)
	}
}

func TestConcurrentEventsYieldOneAlert(t *testing.T) {
	gate := make(chan struct{})
	h := newHarness(t, types.ModeBlock, withStabilizer(stabilizerFunc(
		func(ctx context.Context, _ string) (stability.Result, error) {
			select {
			case <-gate:
				return stability.Stable, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		})))
	path := h.write(t, "report.txt", emailContent)

	results := make(chan Result, 2)
	for range 2 {
		go func() {
			results <- h.router.Process(context.Background(), path, "").Result
		}()
	}

	// The loser of the claim returns without waiting.
	first := <-results
	assert.Equal(t, Duplicate, first)
	close(gate)
	assert.Equal(t, Quarantined, <-results)

	assert.Len(t, h.router.ListAlerts(), 1)
	assert.Len(t, quarantineEntries(t, h.qdir), 1)
}

func TestModeCapturedBeforeToggle(t *testing.T) {
	entered := make(chan struct{})
	gate := make(chan struct{})
	h := newHarness(t, types.ModeBlock, withStabilizer(stabilizerFunc(
		func(context.Context, string) (stability.Result, error) {
			close(entered)
			<-gate
			return stability.Stable, nil
		})))
	path := h.write(t, "report.txt", emailContent)

	done := make(chan Outcome, 1)
	go func() { done <- h.router.Process(context.Background(), path, "") }()

	<-entered
	mode, err := h.router.TogglePolicy()
	require.NoError(t, err)
	require.Equal(t, types.ModeWarn, mode)
	close(gate)

	out := <-done
	assert.Equal(t, Quarantined, out.Result)
	require.NotNil(t, out.Alert)
	assert.Equal(t, types.ModeBlock, out.Alert.Status)
	assert.NoFileExists(t, path)
	assert.Equal(t, types.ModeWarn, h.router.Policy())
}

func TestCancelledDuringStabilityAborts(t *testing.T) {
	h := newHarness(t, types.ModeBlock, withStabilizer(stabilizerFunc(
		func(ctx context.Context, _ string) (stability.Result, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})))
	path := h.write(t, "report.txt", emailContent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.router.Process(ctx, path, "")
	assert.Equal(t, Aborted, out.Result)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.FileExists(t, path)

	// The claim was released.
	assert.Equal(t, dedup.NewlyClaimed, h.router.cfg.Dedup.Claim(path))
}

func TestGoneBeforeStable(t *testing.T) {
	h := newHarness(t, types.ModeBlock, withStabilizer(stability.New(5*time.Millisecond, 200*time.Millisecond, 3)))
	path := filepath.Join(h.root, "vanished.txt")

	out := h.router.Process(context.Background(), path, "")
	assert.Equal(t, Gone, out.Result)
	assert.NoError(t, out.Err)
	assert.Empty(t, h.router.ListAlerts())
}

func TestRealStabilityDetector(t *testing.T) {
	h := newHarness(t, types.ModeBlock, withStabilizer(stability.New(5*time.Millisecond, time.Second, 3)))
	path := h.write(t, "report.txt", emailContent)

	out := h.router.Process(context.Background(), path, "")
	assert.Equal(t, Quarantined, out.Result)
}

func TestRestoreReturnsFileAndWhitelists(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	path := h.write(t, "docs/report.txt", emailContent)
	out := h.router.Process(context.Background(), path, "")
	require.Equal(t, Quarantined, out.Result)

	res, err := h.router.Restore(out.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	assert.False(t, res.AlreadyRestored)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, emailContent, string(data))
	assert.Contains(t, h.router.Whitelist(), path)
	assert.Empty(t, h.router.ListAlerts())
	assert.Empty(t, quarantineEntries(t, h.qdir))

	// Repeating the restore by any reference is a no-op.
	for _, ref := range []string{out.Alert.ID, out.Alert.File, path} {
		res, err = h.router.Restore(ref)
		require.NoError(t, err, ref)
		assert.True(t, res.AlreadyRestored, ref)
	}
	assert.FileExists(t, path)
	assert.Equal(t, []string{path}, h.router.Whitelist())

	// The restored file is not re-detected.
	again := h.router.Process(context.Background(), path, "")
	assert.Equal(t, pathguard.Whitelisted, again.Verdict)
	assert.FileExists(t, path)
}

func TestRestoreFallsBackToPrimaryRoot(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	path := h.write(t, "gone/report.txt", emailContent)
	out := h.router.Process(context.Background(), path, "")
	require.Equal(t, Quarantined, out.Result)
	require.NoError(t, os.RemoveAll(filepath.Join(h.root, "gone")))

	res, err := h.router.Restore(out.Alert.File)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.root, "report.txt"), res.Path)
	assert.FileExists(t, res.Path)
}

func TestRestoreRefusesToOverwrite(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	path := h.write(t, "report.txt", emailContent)
	out := h.router.Process(context.Background(), path, "")
	require.Equal(t, Quarantined, out.Result)

	require.NoError(t, os.WriteFile(path, []byte("new file"), 0o644))
	_, err := h.router.Restore(out.Alert.ID)
	assert.ErrorIs(t, err, quarantine.ErrDestinationExists)
	assert.Len(t, h.router.ListAlerts(), 1)
	assert.FileExists(t, out.Alert.File)
}

func TestRestoreAfterManualRemovalClearsAlert(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	path := h.write(t, "report.txt", emailContent)
	out := h.router.Process(context.Background(), path, "")
	require.Equal(t, Quarantined, out.Result)
	require.NoError(t, os.Remove(out.Alert.File))

	res, err := h.router.Restore(out.Alert.ID)
	require.NoError(t, err)
	assert.True(t, res.AlreadyRestored)
	assert.Empty(t, h.router.ListAlerts())
}

func TestRestoreWarnAlertAllowsInPlace(t *testing.T) {
	h := newHarness(t, types.ModeWarn)
	path := h.write(t, "report.txt", emailContent)
	out := h.router.Process(context.Background(), path, "")
	require.Equal(t, Warned, out.Result)

	res, err := h.router.Restore(out.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, path, res.Path)
	assert.FileExists(t, path)
	assert.Contains(t, h.router.Whitelist(), path)
	assert.Empty(t, h.router.ListAlerts())
}

func TestDismissLeavesFile(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	path := h.write(t, "report.txt", emailContent)
	out := h.router.Process(context.Background(), path, "")
	require.Equal(t, Quarantined, out.Result)

	dismissed, err := h.router.Dismiss(out.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, out.Alert.ID, dismissed.ID)
	assert.Empty(t, h.router.ListAlerts())
	assert.FileExists(t, out.Alert.File)

	_, err = h.router.Dismiss(out.Alert.ID)
	assert.ErrorIs(t, err, ErrAlertNotFound)
	assert.Contains(t, h.notes.actions(), types.AlertDismissed)
}

func TestWhitelistScope(t *testing.T) {
	h := newHarness(t, types.ModeBlock)

	_, err := h.router.AddWhitelist(t.TempDir())
	assert.ErrorIs(t, err, ErrOutOfScope)
	assert.Empty(t, h.router.Whitelist())

	dir := filepath.Join(h.root, "shared")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	entry, err := h.router.AddWhitelist(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, entry)
	assert.Equal(t, []string{dir}, h.router.Whitelist())

	removed, err := h.router.RemoveWhitelist(dir)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = h.router.RemoveWhitelist(dir)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPersistFailureKeepsAlertInMemory(t *testing.T) {
	failing := state.PersisterFunc(func(state.Record) error { return errors.New("disk full") })
	h := newHarnessWith(t, types.ModeBlock, failing, "")
	path := h.write(t, "report.txt", emailContent)

	out := h.router.Process(context.Background(), path, "")
	assert.Equal(t, Quarantined, out.Result)
	assert.ErrorIs(t, out.Err, state.ErrPersist)

	alerts := h.router.ListAlerts()
	require.Len(t, alerts, 1)
	assert.True(t, h.router.cfg.Quarantine.Contains(alerts[0].File))
	assert.Empty(t, h.notes.actions(), "nothing is announced before the alert is saved")
}

type savedRecords struct {
	mu    sync.Mutex
	calls int
	fails int
	saved []state.Record
}

func (s *savedRecords) Save(rec state.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.fails {
		return errors.New("disk busy")
	}
	s.saved = append(s.saved, rec)
	return nil
}

func (s *savedRecords) all() []state.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]state.Record(nil), s.saved...)
}

func TestAlertSavedBeforeQuarantineAfterRetry(t *testing.T) {
	p := &savedRecords{fails: 1}
	h := newHarnessWith(t, types.ModeBlock, p, "")
	path := h.write(t, "report.txt", emailContent)

	out := h.router.Process(context.Background(), path, "")
	require.NoError(t, out.Err)
	assert.Equal(t, Quarantined, out.Result)

	saved := p.all()
	require.GreaterOrEqual(t, len(saved), 2)
	// The retried save holds the alert at its original location, so it was
	// durable before the file moved.
	require.Len(t, saved[0].Alerts, 1)
	assert.Equal(t, path, saved[0].Alerts[0].File)
	last := saved[len(saved)-1]
	require.Len(t, last.Alerts, 1)
	assert.True(t, h.router.cfg.Quarantine.Contains(last.Alerts[0].File))

	assert.Equal(t, []types.AlertAction{types.AlertRaised, types.AlertQuarantined}, h.notes.actions())
}

func TestAlertSaveFailureInWarnModeIsReported(t *testing.T) {
	p := &savedRecords{fails: 100}
	h := newHarnessWith(t, types.ModeWarn, p, "")
	path := h.write(t, "report.txt", emailContent)

	out := h.router.Process(context.Background(), path, "")
	assert.Equal(t, Warned, out.Result)
	assert.ErrorIs(t, out.Err, state.ErrPersist)
	assert.Equal(t, DefaultPersistRetries, p.calls)
	assert.Empty(t, h.notes.actions())
}

type classifierFunc func([]byte) (string, bool)

func (f classifierFunc) Classify(b []byte) (string, bool) { return f(b) }

func TestFileVanishingBeforeQuarantineLeavesNoAlert(t *testing.T) {
	p := &savedRecords{}
	var path string
	h := newHarnessWith(t, types.ModeBlock, p, "", func(c *Config) {
		c.Classifier = classifierFunc(func([]byte) (string, bool) {
			// The download is cancelled right after it was read.
			_ = os.Remove(path)
			return "Email", true
		})
	})
	path = h.write(t, "report.txt", emailContent)

	out := h.router.Process(context.Background(), path, "")
	assert.Equal(t, Gone, out.Result)
	assert.NoError(t, out.Err)
	assert.Nil(t, out.Alert)

	assert.Empty(t, h.router.ListAlerts())
	assert.Empty(t, h.notes.actions())
	saved := p.all()
	require.NotEmpty(t, saved)
	assert.Empty(t, saved[len(saved)-1].Alerts)
	assert.Empty(t, quarantineEntries(t, h.qdir))

	report, err := h.router.Recover()
	require.NoError(t, err)
	assert.Zero(t, report.Relinked)
}

func TestPartialCopyNeverEntersPipeline(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	path := h.write(t, "docs/"+quarantine.PartialPrefix+"123456", emailContent)

	out := h.router.Process(context.Background(), path, "")
	assert.Equal(t, Rejected, out.Result)
	assert.Equal(t, pathguard.QuarantineInternal, out.Verdict)
	assert.Zero(t, h.waits.Load())
	assert.FileExists(t, path)
	assert.Empty(t, h.router.ListAlerts())
}

func TestRepeatRestoreByQuarantinePathAfterRestart(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	path := h.write(t, "report.txt", emailContent)
	out := h.router.Process(context.Background(), path, "")
	require.Equal(t, Quarantined, out.Result)
	_, err := h.router.Restore(out.Alert.ID)
	require.NoError(t, err)

	// A new router has no memory of the restore, but the quarantine entry is
	// gone, which is enough.
	fresh, err := New(h.router.cfg)
	require.NoError(t, err)
	res, err := fresh.Restore(out.Alert.File)
	require.NoError(t, err)
	assert.True(t, res.AlreadyRestored)

	_, err = fresh.Restore("no-such-alert")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestScanExisting(t *testing.T) {
	root := pathguard.Canonicalize(t.TempDir())
	qdir := filepath.Join(root, ".quarantine")
	h := newHarnessWith(t, types.ModeBlock, nil, qdir)

	// Re-root the harness so the quarantine directory sits inside the scan.
	guard, err := pathguard.New([]string{root}, h.qdir, []string{"node_modules"})
	require.NoError(t, err)
	h.router.cfg.Guard = guard
	h.root = root

	h.write(t, "a/report.txt", emailContent)
	h.write(t, "a/b/card.txt", "Aadhaar 1234 5678 9012")
	h.write(t, "clean.txt", "hello")
	h.write(t, "node_modules/pkg/leak.txt", emailContent)
	require.NoError(t, os.WriteFile(filepath.Join(h.qdir, "1700000000_old.txt"), []byte(emailContent), 0o600))

	var last ScanProgress
	sum, err := h.router.ScanExisting(context.Background(), "", func(p ScanProgress) { last = p })
	require.NoError(t, err)
	assert.EqualValues(t, 3, sum.Scanned)
	assert.EqualValues(t, 2, sum.Detected)
	assert.EqualValues(t, 3, last.Scanned)

	assert.Len(t, h.router.ListAlerts(), 2)
	assert.FileExists(t, filepath.Join(root, "clean.txt"))
	assert.FileExists(t, filepath.Join(root, "node_modules/pkg/leak.txt"))
	assert.NotNil(t, h.router.Status().LastScan)
}

func TestScanExistingOutOfScope(t *testing.T) {
	h := newHarness(t, types.ModeBlock)

	_, err := h.router.ScanExisting(context.Background(), t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrOutOfScope)
	assert.Nil(t, h.router.Status().LastScan)
}

func TestRecoverRelinksStrandedAlert(t *testing.T) {
	h := newHarness(t, types.ModeBlock)
	original := filepath.Join(h.root, "report.txt")
	ts := time.Now().Truncate(time.Second)

	a, err := h.state.Append(types.Alert{
		File: original, OriginalPath: original, Rule: "Email",
		Status: types.ModeBlock, Origin: h.root, Timestamp: ts,
	})
	require.NoError(t, err)

	moved := filepath.Join(h.qdir, "1_report.txt")
	require.NoError(t, os.WriteFile(moved, []byte("stale"), 0o600))
	moved = filepath.Join(h.qdir, quarantineName(ts, "report.txt"))
	require.NoError(t, os.WriteFile(moved, []byte(emailContent), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(h.qdir, quarantine.PartialPrefix+"x"), nil, 0o600))

	report, err := h.router.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Relinked)
	assert.Equal(t, 1, report.Partials)

	got, err := h.router.Alert(a.ID)
	require.NoError(t, err)
	assert.Equal(t, moved, got.File)
	assert.Equal(t, original, got.OriginalPath)
}

func quarantineName(ts time.Time, base string) string {
	return strconv.FormatInt(ts.Unix(), 10) + "_" + base
}

func TestRunDispatchesEvents(t *testing.T) {
	src := &chanSource{ch: make(chan types.FileEvent)}
	h := newHarness(t, types.ModeBlock, func(c *Config) { c.Source = src })
	path := h.write(t, "report.txt", emailContent)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.router.Run(ctx) }()

	src.ch <- types.FileEvent{Path: path, Kind: types.Created}
	require.Eventually(t, func() bool { return len(h.router.ListAlerts()) == 1 },
		2*time.Second, 10*time.Millisecond)

	// A rename marks its source and routes only the destination.
	from := h.write(t, "draft.txt", emailContent)
	src.ch <- types.FileEvent{Kind: types.Renamed, From: from}
	// Dispatch is sequential, so once the next event is accepted the rename
	// has been handled.
	src.ch <- types.FileEvent{Path: h.write(t, "clean.txt", "hello"), Kind: types.Created}
	assert.Equal(t, dedup.AlreadyHandled, h.router.cfg.Dedup.Claim(from))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.FileExists(t, from)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
