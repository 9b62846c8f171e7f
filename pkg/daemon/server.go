package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"

	dropguardv1 "github.com/jamesainslie/dropguard/pkg/api/dropguard/v1"
	"github.com/jamesainslie/dropguard/pkg/dropguard/logging"
)

// Server serves the admin API on a unix socket.
type Server struct {
	socketPath string
	grpc       *grpc.Server
	listener   net.Listener
}

// NewServer listens on socketPath, replacing any stale socket, and registers
// svc. The socket is only accessible to the owning user.
func NewServer(socketPath string, svc dropguardv1.AdminServer) (*Server, error) {
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o700); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "unix", socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(socketPath, 0o600); err != nil {
		_ = listener.Close()
		return nil, err
	}

	srv := &Server{
		socketPath: socketPath,
		grpc:       grpc.NewServer(grpc.UnaryInterceptor(logUnary)),
		listener:   listener,
	}
	dropguardv1.RegisterAdminServer(srv.grpc, svc)
	return srv, nil
}

// logUnary logs each admin call at debug, and failures at warn.
func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	log := logging.Get("daemon")
	if err != nil {
		log.Warn("admin call failed", "method", info.FullMethod, "error", err)
	} else {
		log.Debug("admin call", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}

// Serve starts the gRPC server. Blocks until stopped.
func (s *Server) Serve() error {
	return s.grpc.Serve(s.listener)
}

// Close stops the server and removes the socket. Calls still running after
// StopGrace are cancelled.
func (s *Server) Close() error {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(StopGrace):
		s.grpc.Stop()
		<-done
	}
	return os.RemoveAll(s.socketPath)
}

// StopGrace bounds how long Close waits for in-flight calls.
var StopGrace = 5 * time.Second
