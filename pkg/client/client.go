// Package client provides a client for connecting to the dropguardd daemon.
// It wraps the gRPC client with convenience methods and type conversions.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	dropguardv1 "github.com/jamesainslie/dropguard/pkg/api/dropguard/v1"
	"github.com/jamesainslie/dropguard/pkg/daemon"
	"github.com/jamesainslie/dropguard/pkg/dropguard/config"
	"github.com/jamesainslie/dropguard/pkg/dropguard/quarantine"
	"github.com/jamesainslie/dropguard/pkg/dropguard/router"
	"github.com/jamesainslie/dropguard/pkg/dropguard/types"
)

var (
	// ErrNotRunning is returned when the daemon socket does not exist.
	ErrNotRunning = errors.New("daemon is not running")
	// ErrAmbiguousRef is returned when a short ID prefix names several alerts.
	ErrAmbiguousRef = errors.New("alert reference is ambiguous")
)

// Client connects to the dropguardd daemon via gRPC.
type Client struct {
	conn   *grpc.ClientConn
	client dropguardv1.AdminClient
}

// Status is the daemon's view of itself.
type Status = dropguardv1.Status

// RestoreResult reports where a restored file ended up.
type RestoreResult = dropguardv1.RestoreResult

// DaemonPaths configures paths for daemon operations.
// Empty fields use defaults.
type DaemonPaths struct {
	Binary string // Path to dropguardd binary (auto-discovered if empty)
	Config string // Config file passed to dropguardd with --config
	Socket string // Unix socket path
	PID    string // PID file path
}

// PathsFromConfig returns the daemon paths cfg describes.
func PathsFromConfig(cfg *config.Config) DaemonPaths {
	return DaemonPaths{
		Binary: cfg.Daemon.BinaryPath,
		Config: cfg.File,
		Socket: cfg.SocketPath(),
		PID:    cfg.PIDPath(),
	}
}

// withDefaults returns a copy with empty fields filled with defaults.
func (p DaemonPaths) withDefaults() DaemonPaths {
	if p.Socket == "" {
		p.Socket = config.DefaultSocketPath()
	}
	if p.PID == "" {
		p.PID = config.DefaultPIDPath()
	}
	return p
}

func (p DaemonPaths) statusPath() string {
	return daemon.StatusPath(filepath.Dir(p.PID))
}

// Connect establishes a connection to the dropguardd daemon.
// Uses a default timeout of 5 seconds.
func Connect(socketPath string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ConnectWithContext(ctx, socketPath)
}

// ConnectWithContext establishes a connection to the dropguardd daemon with a custom context.
func ConnectWithContext(ctx context.Context, socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: no socket at %s", ErrNotRunning, socketPath)
	}

	//nolint:staticcheck // grpc.DialContext is deprecated but NewClient doesn't support blocking
	conn, err := grpc.DialContext(
		ctx,
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	return &Client{
		conn:   conn,
		client: dropguardv1.NewAdminClient(conn),
	}, nil
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// fromStatus maps gRPC codes back onto the sentinels the daemon started from,
// keeping the server's message.
func fromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	var sentinel error
	switch st.Code() {
	case codes.PermissionDenied:
		sentinel = router.ErrOutOfScope
	case codes.NotFound:
		sentinel = router.ErrAlertNotFound
	case codes.AlreadyExists:
		sentinel = quarantine.ErrDestinationExists
	case codes.FailedPrecondition:
		sentinel = quarantine.ErrSourceGone
	case codes.Canceled:
		sentinel = context.Canceled
	case codes.DeadlineExceeded:
		sentinel = context.DeadlineExceeded
	case codes.Unavailable:
		sentinel = ErrNotRunning
	default:
		return fmt.Errorf("%s: %s", op, st.Message())
	}
	msg := st.Message()
	if msg == "" || msg == sentinel.Error() {
		return fmt.Errorf("%s: %w", op, sentinel)
	}
	return fmt.Errorf("%s: %w (%s)", op, sentinel, msg)
}

// ListAlerts returns the stored alerts, newest first.
func (c *Client) ListAlerts(ctx context.Context) ([]types.Alert, error) {
	list, err := c.client.ListAlerts(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fromStatus("list alerts", err)
	}
	return dropguardv1.AlertsFromList(list)
}

// Resolve expands ref to a full alert ID. ref may be an ID, a unique ID
// prefix such as the short form printed by the CLI, or a current file path.
func (c *Client) Resolve(ctx context.Context, ref string) (string, error) {
	alerts, err := c.ListAlerts(ctx)
	if err != nil {
		return "", err
	}
	return resolveRef(alerts, ref)
}

func resolveRef(alerts []types.Alert, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", router.ErrAlertNotFound)
	}
	var matches []string
	for _, a := range alerts {
		if a.Matches(ref) {
			return a.ID, nil
		}
		if strings.HasPrefix(a.ID, ref) {
			matches = append(matches, a.ID)
		}
	}
	switch len(matches) {
	case 0:
		// Unknown refs go to the daemon as-is; a repeat restore by path
		// succeeds there even though no alert lists it.
		return ref, nil
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %d alerts", ErrAmbiguousRef, ref, len(matches))
	}
}

// Policy returns the current policy mode.
func (c *Client) Policy(ctx context.Context) (types.PolicyMode, error) {
	resp, err := c.client.GetPolicy(ctx, &emptypb.Empty{})
	if err != nil {
		return "", fromStatus("get policy", err)
	}
	return types.ParseMode(resp.GetValue())
}

// TogglePolicy flips the policy mode and returns the new one.
func (c *Client) TogglePolicy(ctx context.Context) (types.PolicyMode, error) {
	resp, err := c.client.TogglePolicy(ctx, &emptypb.Empty{})
	if err != nil {
		return "", fromStatus("toggle policy", err)
	}
	return types.ParseMode(resp.GetValue())
}

// Whitelist returns the whitelisted paths.
func (c *Client) Whitelist(ctx context.Context) ([]string, error) {
	list, err := c.client.ListWhitelist(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fromStatus("list whitelist", err)
	}
	return dropguardv1.StringsFromList(list), nil
}

// AddWhitelist whitelists path and returns its canonical form.
func (c *Client) AddWhitelist(ctx context.Context, path string) (string, error) {
	resp, err := c.client.AddWhitelist(ctx, wrapperspb.String(absPath(path)))
	if err != nil {
		return "", fromStatus("add whitelist", err)
	}
	return resp.GetValue(), nil
}

// RemoveWhitelist removes path and reports whether it was present.
func (c *Client) RemoveWhitelist(ctx context.Context, path string) (bool, error) {
	resp, err := c.client.RemoveWhitelist(ctx, wrapperspb.String(absPath(path)))
	if err != nil {
		return false, fromStatus("remove whitelist", err)
	}
	return resp.GetValue(), nil
}

// Restore resolves ref and restores the alert's file.
func (c *Client) Restore(ctx context.Context, ref string) (RestoreResult, error) {
	id, err := c.Resolve(ctx, ref)
	if err != nil {
		return RestoreResult{}, err
	}
	resp, err := c.client.Restore(ctx, wrapperspb.String(id))
	if err != nil {
		return RestoreResult{}, fromStatus("restore "+ref, err)
	}
	return dropguardv1.RestoreFromStruct(resp)
}

// Dismiss resolves ref and removes the alert without touching its file.
func (c *Client) Dismiss(ctx context.Context, ref string) (types.Alert, error) {
	id, err := c.Resolve(ctx, ref)
	if err != nil {
		return types.Alert{}, err
	}
	resp, err := c.client.Dismiss(ctx, wrapperspb.String(id))
	if err != nil {
		return types.Alert{}, fromStatus("dismiss "+ref, err)
	}
	return dropguardv1.AlertFromStruct(resp)
}

// ScanExisting scans files already present under root, or every root when
// root is empty, and blocks until the scan finishes.
func (c *Client) ScanExisting(ctx context.Context, root string) (types.ScanSummary, error) {
	if root != "" {
		root = absPath(root)
	}
	resp, err := c.client.ScanExisting(ctx, wrapperspb.String(root))
	if err != nil {
		return types.ScanSummary{}, fromStatus("scan", err)
	}
	return dropguardv1.SummaryFromStruct(resp), nil
}

// Status returns the daemon status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	resp, err := c.client.GetStatus(ctx, &emptypb.Empty{})
	if err != nil {
		return Status{}, fromStatus("status", err)
	}
	return dropguardv1.StatusFromStruct(resp)
}

// Shutdown requests the daemon to shut down gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	if _, err := c.client.Shutdown(ctx, &emptypb.Empty{}); err != nil {
		return fromStatus("shutdown", err)
	}
	return nil
}

// WatchAlerts subscribes to alert changes. The channel closes when ctx is
// cancelled or the daemon goes away.
func (c *Client) WatchAlerts(ctx context.Context) (<-chan types.AlertEvent, error) {
	stream, err := c.client.WatchAlerts(ctx, &emptypb.Empty{})
	if err != nil {
		return nil, fromStatus("watch alerts", err)
	}

	events := make(chan types.AlertEvent, 100)
	go func() {
		defer close(events)
		for {
			msg, err := stream.Recv()
			if err != nil {
				return // Stream closed or error
			}
			ev, err := dropguardv1.EventFromStruct(msg)
			if err != nil {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

func absPath(p string) string {
	if expanded, err := config.ExpandPath(p); err == nil {
		p = expanded
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// StartDaemon starts the dropguardd daemon in the background.
// Idempotent: returns nil if daemon is already running.
func StartDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if IsDaemonRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find dropguardd: %w", err)
	}

	statusPath := paths.statusPath()
	_ = daemon.RemoveStatus(statusPath)

	var args []string
	if paths.Config != "" {
		args = append(args, "--config", paths.Config)
	}

	// Use exec.Command (not CommandContext) intentionally: daemon must outlive caller
	cmd := exec.Command(binary, args...) //nolint:gosec // binary path is validated
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	// Reap the child if it exits while we are still polling.
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	for range 50 {
		select {
		case err := <-exited:
			if sf, serr := daemon.ReadStatus(statusPath); serr == nil && sf.Status == daemon.StatusError {
				return fmt.Errorf("daemon failed to start: %s", sf.Error)
			}
			return fmt.Errorf("daemon exited during startup: %v", err)
		case <-time.After(100 * time.Millisecond):
		}

		if sf, err := daemon.ReadStatus(statusPath); err == nil {
			switch sf.Status {
			case daemon.StatusReady:
				return nil
			case daemon.StatusError:
				return fmt.Errorf("daemon failed to start: %s", sf.Error)
			}
		}
	}

	return errors.New("daemon did not become ready within timeout")
}

// EnsureDaemon starts the daemon if it is not running.
func EnsureDaemon(paths DaemonPaths) error {
	return StartDaemon(paths)
}

// StopDaemon stops the daemon gracefully via RPC, falling back to SIGTERM
// when the socket does not answer.
// Idempotent: returns nil if daemon is not running.
func StopDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if !IsDaemonRunning(paths.PID) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if c, err := ConnectWithContext(ctx, paths.Socket); err == nil {
		err = c.Shutdown(ctx)
		_ = c.Close()
		if err == nil {
			for range 40 {
				time.Sleep(250 * time.Millisecond)
				if !IsDaemonRunning(paths.PID) {
					return nil
				}
			}
		}
	}

	if err := daemon.StopProcess(paths.PID, 10*time.Second); err != nil && !errors.Is(err, daemon.ErrNotRunning) {
		return fmt.Errorf("stop daemon: %w", err)
	}
	return nil
}

// RestartDaemon stops and starts the daemon.
func RestartDaemon(paths DaemonPaths) error {
	if err := StopDaemon(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := StartDaemon(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// IsDaemonRunning checks if the daemon is running based on the PID file.
func IsDaemonRunning(pidPath string) bool {
	return daemon.IsDaemonRunning(pidPath)
}

// resolveBinary finds the dropguardd binary path.
// Priority: configured path > same directory as executable > GOBIN/GOPATH > PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), "dropguardd")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	for _, dir := range goBinDirs() {
		candidate := filepath.Join(dir, "dropguardd")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath("dropguardd"); err == nil {
		return path, nil
	}

	return "", errors.New("dropguardd not found")
}

func goBinDirs() []string {
	var dirs []string
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		dirs = append(dirs, gobin)
	}
	if gopath := os.Getenv("GOPATH"); gopath != "" {
		dirs = append(dirs, filepath.Join(gopath, "bin"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "go", "bin"))
	}
	return dirs
}
