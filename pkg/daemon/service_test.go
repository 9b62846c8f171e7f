package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	dropguardv1 "github.com/jamesainslie/dropguard/pkg/api/dropguard/v1"
	"github.com/jamesainslie/dropguard/pkg/daemon/broadcaster"
	"github.com/jamesainslie/dropguard/pkg/dropguard/classify"
	"github.com/jamesainslie/dropguard/pkg/dropguard/dedup"
	"github.com/jamesainslie/dropguard/pkg/dropguard/pathguard"
	"github.com/jamesainslie/dropguard/pkg/dropguard/quarantine"
	"github.com/jamesainslie/dropguard/pkg/dropguard/router"
	"github.com/jamesainslie/dropguard/pkg/dropguard/stability"
	"github.com/jamesainslie/dropguard/pkg/dropguard/state"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

const secretContent = "contact: alice@example.com\n"

type testService struct {
	svc  *Service
	root string
	qdir string
	b    *broadcaster.Broadcaster
	shut chan struct{}
}

func newTestService(t *testing.T) *testService {
	t.Helper()

	root := pathguard.Canonicalize(t.TempDir())
	qm, err := quarantine.New(pathguard.Canonicalize(t.TempDir()))
	require.NoError(t, err)
	guard, err := pathguard.New([]string{root}, qm.Dir(), nil)
	require.NoError(t, err)

	b := broadcaster.New()
	t.Cleanup(b.Close)

	r, err := router.New(router.Config{
		Guard:      guard,
		Dedup:      dedup.New(time.Minute),
		Stability:  stability.New(5*time.Millisecond, time.Second, 3),
		Classifier: classify.MustCompile(classify.DefaultRules()),
		Quarantine: qm,
		State:      state.New(state.DefaultRecord(), nil, 0),
		Notifier:   b,
	})
	require.NoError(t, err)

	shut := make(chan struct{}, 1)
	return &testService{
		svc:  NewService(r, b, func() { shut <- struct{}{} }),
		root: root,
		qdir: qm.Dir(),
		b:    b,
		shut: shut,
	}
}

func (ts *testService) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(ts.root, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("add: %w", router.ErrOutOfScope), codes.PermissionDenied},
		{router.ErrAlertNotFound, codes.NotFound},
		{state.ErrNotFound, codes.NotFound},
		{fmt.Errorf("restore: %w", quarantine.ErrDestinationExists), codes.AlreadyExists},
		{quarantine.ErrSourceGone, codes.FailedPrecondition},
		{fmt.Errorf("%w: disk full", state.ErrPersist), codes.Internal},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(toStatus(tt.err)))
		})
	}
	assert.NoError(t, toStatus(nil))
}

func TestService_ScanAndListAlerts(t *testing.T) {
	ts := newTestService(t)
	ts.write(t, "leak.txt", secretContent)
	ts.write(t, "fine.txt", "nothing to see\n")
	ctx := context.Background()

	sum, err := ts.svc.ScanExisting(ctx, wrapperspb.String(""))
	require.NoError(t, err)
	assert.Equal(t, types.ScanSummary{Scanned: 2, Detected: 1}, dropguardv1.SummaryFromStruct(sum))

	list, err := ts.svc.ListAlerts(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	alerts, err := dropguardv1.AlertsFromList(list)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Email", alerts[0].Rule)
	assert.Equal(t, types.ModeBlock, alerts[0].Status)
	assert.True(t, pathguard.Within(alerts[0].File, ts.qdir))

	st, err := ts.svc.GetStatus(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	decoded, err := dropguardv1.StatusFromStruct(st)
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.Alerts)
	assert.Equal(t, os.Getpid(), decoded.PID)
	assert.NotNil(t, decoded.LastScan)
}

func TestService_ScanOutOfScope(t *testing.T) {
	ts := newTestService(t)

	_, err := ts.svc.ScanExisting(context.Background(), wrapperspb.String(t.TempDir()))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestService_RestoreAndDismiss(t *testing.T) {
	ts := newTestService(t)
	path := ts.write(t, "leak.txt", secretContent)
	ctx := context.Background()

	_, err := ts.svc.ScanExisting(ctx, wrapperspb.String(ts.root))
	require.NoError(t, err)
	alerts := ts.svc.router.ListAlerts()
	require.Len(t, alerts, 1)

	res, err := ts.svc.Restore(ctx, wrapperspb.String(alerts[0].ID))
	require.NoError(t, err)
	restored, err := dropguardv1.RestoreFromStruct(res)
	require.NoError(t, err)
	assert.Equal(t, path, restored.Path)
	assert.FileExists(t, path)

	_, err = ts.svc.Dismiss(ctx, wrapperspb.String(alerts[0].ID))
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestService_PolicyAndWhitelist(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	mode, err := ts.svc.GetPolicy(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "block", mode.GetValue())

	mode, err = ts.svc.TogglePolicy(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, "warn", mode.GetValue())

	dir := filepath.Join(ts.root, "safe")
	require.NoError(t, os.Mkdir(dir, 0o755))
	canon, err := ts.svc.AddWhitelist(ctx, wrapperspb.String(dir))
	require.NoError(t, err)
	assert.Equal(t, dir, canon.GetValue())

	list, err := ts.svc.ListWhitelist(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	assert.Equal(t, []string{dir}, dropguardv1.StringsFromList(list))

	_, err = ts.svc.AddWhitelist(ctx, wrapperspb.String("/etc"))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	removed, err := ts.svc.RemoveWhitelist(ctx, wrapperspb.String(dir))
	require.NoError(t, err)
	assert.True(t, removed.GetValue())
}

func TestService_Shutdown(t *testing.T) {
	ts := newTestService(t)

	_, err := ts.svc.Shutdown(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)

	select {
	case <-ts.shut:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback not called")
	}
}

// mockWatchStream implements grpc.ServerStreamingServer[structpb.Struct] for testing.
type mockWatchStream struct {
	grpc.ServerStream
	ctx  context.Context
	sent chan *structpb.Struct
}

func (m *mockWatchStream) Send(s *structpb.Struct) error {
	m.sent <- s
	return nil
}

func (m *mockWatchStream) Context() context.Context {
	return m.ctx
}

func TestService_WatchAlerts(t *testing.T) {
	ts := newTestService(t)
	ts.write(t, "leak.txt", secretContent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := &mockWatchStream{ctx: ctx, sent: make(chan *structpb.Struct, 8)}

	done := make(chan error, 1)
	go func() { done <- ts.svc.WatchAlerts(&emptypb.Empty{}, stream) }()
	require.Eventually(t, func() bool { return ts.b.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)

	_, err := ts.svc.ScanExisting(context.Background(), wrapperspb.String(""))
	require.NoError(t, err)

	var actions []types.AlertAction
	timeout := time.After(2 * time.Second)
	for len(actions) < 2 {
		select {
		case msg := <-stream.sent:
			ev, err := dropguardv1.EventFromStruct(msg)
			require.NoError(t, err)
			assert.Equal(t, "Email", ev.Alert.Rule)
			actions = append(actions, ev.Action)
		case <-timeout:
			t.Fatalf("expected raised and quarantined events, got %v", actions)
		}
	}
	assert.Equal(t, []types.AlertAction{types.AlertRaised, types.AlertQuarantined}, actions)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, ts.b.SubscriberCount())
}

func TestService_WatchAlerts_NoBroadcaster(t *testing.T) {
	svc := &Service{}
	err := svc.WatchAlerts(&emptypb.Empty{}, &mockWatchStream{ctx: context.Background()})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestService_WatchAlerts_ClosedBroadcaster(t *testing.T) {
	ts := newTestService(t)
	ts.b.Close()

	err := ts.svc.WatchAlerts(&emptypb.Empty{}, &mockWatchStream{ctx: context.Background()})
	assert.Equal(t, codes.Unavailable, status.Code(err))
}
