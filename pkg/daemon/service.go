package daemon

import (
	"context"
	"errors"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	dropguardv1 "github.com/jamesainslie/dropguard/pkg/api/dropguard/v1"
	"github.com/jamesainslie/dropguard/pkg/daemon/broadcaster"
	"github.com/jamesainslie/dropguard/pkg/dropguard/logging"
	"github.com/jamesainslie/dropguard/pkg/dropguard/quarantine"
	"github.com/jamesainslie/dropguard/pkg/dropguard/router"
	"github.com/jamesainslie/dropguard/pkg/dropguard/state"
)

// Service implements the dropguard.v1.Admin gRPC service on top of a Router.
type Service struct {
	dropguardv1.UnimplementedAdminServer

	router      *router.Router
	broadcaster *broadcaster.Broadcaster
	startTime   time.Time
	shutdown    func()
	log         *logging.Logger
}

// NewService creates the admin service. b may be nil, in which case
// WatchAlerts is unavailable. shutdown is called by the Shutdown RPC.
func NewService(r *router.Router, b *broadcaster.Broadcaster, shutdown func()) *Service {
	return &Service{
		router:      r,
		broadcaster: b,
		startTime:   time.Now(),
		shutdown:    shutdown,
		log:         logging.Get("daemon"),
	}
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case err == nil:
		return nil
	case errors.Is(err, router.ErrOutOfScope):
		code = codes.PermissionDenied
	case errors.Is(err, router.ErrAlertNotFound), errors.Is(err, state.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, quarantine.ErrDestinationExists):
		code = codes.AlreadyExists
	case errors.Is(err, quarantine.ErrSourceGone):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// ListAlerts returns every stored alert.
func (s *Service) ListAlerts(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	return dropguardv1.AlertsToList(s.router.ListAlerts()), nil
}

// GetPolicy returns the current policy mode.
func (s *Service) GetPolicy(_ context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return wrapperspb.String(string(s.router.Policy())), nil
}

// TogglePolicy flips between block and warn.
func (s *Service) TogglePolicy(_ context.Context, _ *emptypb.Empty) (*wrapperspb.StringValue, error) {
	mode, err := s.router.TogglePolicy()
	if err != nil {
		return nil, toStatus(err)
	}
	s.log.Info("policy toggled", "mode", mode)
	return wrapperspb.String(string(mode)), nil
}

// ListWhitelist returns the whitelisted paths.
func (s *Service) ListWhitelist(_ context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	return dropguardv1.StringsToList(s.router.Whitelist()), nil
}

// AddWhitelist whitelists a path inside a watched root.
func (s *Service) AddWhitelist(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	canon, err := s.router.AddWhitelist(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.String(canon), nil
}

// RemoveWhitelist removes a whitelisted path.
func (s *Service) RemoveWhitelist(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	removed, err := s.router.RemoveWhitelist(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return wrapperspb.Bool(removed), nil
}

// Restore returns a quarantined file to where it came from.
func (s *Service) Restore(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	res, err := s.router.Restore(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return dropguardv1.RestoreToStruct(dropguardv1.RestoreResult{
		Alert:           res.Alert,
		Path:            res.Path,
		AlreadyRestored: res.AlreadyRestored,
	}), nil
}

// Dismiss drops an alert.
func (s *Service) Dismiss(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	a, err := s.router.Dismiss(req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return dropguardv1.AlertToStruct(a), nil
}

// ScanExisting runs a scan for the duration of the call. Disconnecting
// cancels it.
func (s *Service) ScanExisting(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	root := req.GetValue()
	s.log.Info("scan requested", "root", root)

	sum, err := s.router.ScanExisting(ctx, root, nil)
	if err != nil {
		return nil, toStatus(err)
	}
	s.log.Info("scan complete", "root", root, "scanned", sum.Scanned, "detected", sum.Detected)
	return dropguardv1.SummaryToStruct(sum), nil
}

// GetStatus returns daemon health information.
func (s *Service) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.router.Status()
	return dropguardv1.StatusToStruct(dropguardv1.Status{
		Mode:          st.Mode,
		Roots:         st.Roots,
		QuarantineDir: st.QuarantineDir,
		Alerts:        st.Alerts,
		Whitelist:     st.Whitelist,
		Tracked:       st.Tracked,
		LastScan:      st.LastScan,
		PID:           os.Getpid(),
		Uptime:        time.Since(s.startTime).Truncate(time.Second),
	}), nil
}

// Shutdown asks the daemon to exit. The reply is sent before the drain.
func (s *Service) Shutdown(_ context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.log.Info("shutdown requested")
	if s.shutdown != nil {
		s.shutdown()
	}
	return &emptypb.Empty{}, nil
}

// WatchAlerts streams alert events until the client disconnects or the
// broadcaster closes.
func (s *Service) WatchAlerts(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if s.broadcaster == nil {
		return status.Error(codes.Unavailable, "alert watching not available")
	}

	sub := s.broadcaster.Subscribe()
	if sub == nil {
		return status.Error(codes.Unavailable, "daemon is shutting down")
	}
	defer s.broadcaster.Unsubscribe(sub.ID)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if err := stream.Send(dropguardv1.EventToStruct(ev)); err != nil {
				return err
			}
		}
	}
}
