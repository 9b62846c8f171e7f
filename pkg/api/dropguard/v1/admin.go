// Package dropguardv1 defines the dropguard.v1.Admin gRPC service.
//
// The service is described by hand instead of through protoc. Every message
// is a protobuf well-known type (emptypb, wrapperspb, structpb), so the
// default proto codec carries them and no generated code is needed. Struct
// payloads are built and read with the helpers in convert.go.
package dropguardv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dropguard.v1.Admin"

// Full method names, as they appear on the wire.
const (
	Admin_ListAlerts_FullMethodName      = "/" + ServiceName + "/ListAlerts"
	Admin_GetPolicy_FullMethodName       = "/" + ServiceName + "/GetPolicy"
	Admin_TogglePolicy_FullMethodName    = "/" + ServiceName + "/TogglePolicy"
	Admin_ListWhitelist_FullMethodName   = "/" + ServiceName + "/ListWhitelist"
	Admin_AddWhitelist_FullMethodName    = "/" + ServiceName + "/AddWhitelist"
	Admin_RemoveWhitelist_FullMethodName = "/" + ServiceName + "/RemoveWhitelist"
	Admin_Restore_FullMethodName         = "/" + ServiceName + "/Restore"
	Admin_Dismiss_FullMethodName         = "/" + ServiceName + "/Dismiss"
	Admin_ScanExisting_FullMethodName    = "/" + ServiceName + "/ScanExisting"
	Admin_GetStatus_FullMethodName       = "/" + ServiceName + "/GetStatus"
	Admin_Shutdown_FullMethodName        = "/" + ServiceName + "/Shutdown"
	Admin_WatchAlerts_FullMethodName     = "/" + ServiceName + "/WatchAlerts"
)

// AdminServer is the server API for the Admin service.
type AdminServer interface {
	// ListAlerts returns every stored alert, newest first, as a list of
	// alert structs.
	ListAlerts(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	// GetPolicy returns the current policy mode.
	GetPolicy(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	// TogglePolicy flips the policy mode and returns the new one.
	TogglePolicy(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error)
	// ListWhitelist returns the whitelisted paths as a list of strings.
	ListWhitelist(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	// AddWhitelist whitelists a path and returns its canonical form.
	AddWhitelist(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error)
	// RemoveWhitelist reports whether the path was whitelisted.
	RemoveWhitelist(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	// Restore takes an alert ID or path and returns a restore result struct.
	Restore(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// Dismiss removes an alert without touching the file.
	Dismiss(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// ScanExisting scans one root, or all roots for an empty value.
	ScanExisting(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// GetStatus returns a daemon status struct.
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// Shutdown asks the daemon to exit.
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	// WatchAlerts streams alert events until the client goes away.
	WatchAlerts(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// UnimplementedAdminServer must be embedded to have forward compatible
// implementations.
type UnimplementedAdminServer struct{}

func (UnimplementedAdminServer) ListAlerts(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListAlerts not implemented")
}
func (UnimplementedAdminServer) GetPolicy(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetPolicy not implemented")
}
func (UnimplementedAdminServer) TogglePolicy(context.Context, *emptypb.Empty) (*wrapperspb.StringValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method TogglePolicy not implemented")
}
func (UnimplementedAdminServer) ListWhitelist(context.Context, *emptypb.Empty) (*structpb.ListValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ListWhitelist not implemented")
}
func (UnimplementedAdminServer) AddWhitelist(context.Context, *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method AddWhitelist not implemented")
}
func (UnimplementedAdminServer) RemoveWhitelist(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RemoveWhitelist not implemented")
}
func (UnimplementedAdminServer) Restore(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Restore not implemented")
}
func (UnimplementedAdminServer) Dismiss(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Dismiss not implemented")
}
func (UnimplementedAdminServer) ScanExisting(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method ScanExisting not implemented")
}
func (UnimplementedAdminServer) GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Errorf(codes.Unimplemented, "method GetStatus not implemented")
}
func (UnimplementedAdminServer) Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Shutdown not implemented")
}
func (UnimplementedAdminServer) WatchAlerts(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Errorf(codes.Unimplemented, "method WatchAlerts not implemented")
}

// RegisterAdminServer registers srv on s.
func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&Admin_ServiceDesc, srv)
}

// unary builds a MethodDesc that decodes a *Req and dispatches to call,
// honouring any unary interceptor installed on the server.
func unary[Req any, Resp any](name string, call func(AdminServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(AdminServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(AdminServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchAlertsHandler(srv any, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AdminServer).WatchAlerts(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// Admin_ServiceDesc is the grpc.ServiceDesc for the Admin service.
var Admin_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("ListAlerts", AdminServer.ListAlerts),
		unary("GetPolicy", AdminServer.GetPolicy),
		unary("TogglePolicy", AdminServer.TogglePolicy),
		unary("ListWhitelist", AdminServer.ListWhitelist),
		unary("AddWhitelist", AdminServer.AddWhitelist),
		unary("RemoveWhitelist", AdminServer.RemoveWhitelist),
		unary("Restore", AdminServer.Restore),
		unary("Dismiss", AdminServer.Dismiss),
		unary("ScanExisting", AdminServer.ScanExisting),
		unary("GetStatus", AdminServer.GetStatus),
		unary("Shutdown", AdminServer.Shutdown),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchAlerts",
			Handler:       watchAlertsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "dropguard/v1/admin.proto",
}

// AdminClient is the client API for the Admin service.
type AdminClient interface {
	ListAlerts(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	GetPolicy(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	TogglePolicy(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	ListWhitelist(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error)
	AddWhitelist(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	RemoveWhitelist(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	Restore(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	Dismiss(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	ScanExisting(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	WatchAlerts(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
}

type adminClient struct {
	cc grpc.ClientConnInterface
}

// NewAdminClient returns a client bound to cc.
func NewAdminClient(cc grpc.ClientConnInterface) AdminClient {
	return &adminClient{cc}
}

// invoke performs a unary call into a fresh *Resp.
func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) ListAlerts(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, Admin_ListAlerts_FullMethodName, in, opts)
}

func (c *adminClient) GetPolicy(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, Admin_GetPolicy_FullMethodName, in, opts)
}

func (c *adminClient) TogglePolicy(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, Admin_TogglePolicy_FullMethodName, in, opts)
}

func (c *adminClient) ListWhitelist(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c.cc, Admin_ListWhitelist_FullMethodName, in, opts)
}

func (c *adminClient) AddWhitelist(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	return invoke[wrapperspb.StringValue](ctx, c.cc, Admin_AddWhitelist_FullMethodName, in, opts)
}

func (c *adminClient) RemoveWhitelist(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	return invoke[wrapperspb.BoolValue](ctx, c.cc, Admin_RemoveWhitelist_FullMethodName, in, opts)
}

func (c *adminClient) Restore(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Admin_Restore_FullMethodName, in, opts)
}

func (c *adminClient) Dismiss(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Admin_Dismiss_FullMethodName, in, opts)
}

func (c *adminClient) ScanExisting(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Admin_ScanExisting_FullMethodName, in, opts)
}

func (c *adminClient) GetStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c.cc, Admin_GetStatus_FullMethodName, in, opts)
}

func (c *adminClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, Admin_Shutdown_FullMethodName, in, opts)
}

func (c *adminClient) WatchAlerts(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &Admin_ServiceDesc.Streams[0], Admin_WatchAlerts_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
