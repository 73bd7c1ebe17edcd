// Copyright (c) 2014-2019 Ludovic Fauvet
// Licensed under the MIT license

package rpc

// This file is the hand-written equivalent of what protoc-gen-go-grpc would
// emit from a .proto definition of the CLI service. No protobuf compiler
// runs in this tree, so every request/reply is one of the well-known
// message types shipped by google.golang.org/protobuf itself
// (emptypb.Empty, structpb.Struct) rather than a custom generated message —
// that keeps the wire format real protobuf without inventing generated code.
//
// Equivalent service definition, for reference:
//
//	service CLI {
//	    rpc Ping(google.protobuf.Empty) returns (google.protobuf.Empty);
//	    rpc GetVersion(google.protobuf.Empty) returns (google.protobuf.Struct);
//	    rpc Reload(google.protobuf.Empty) returns (google.protobuf.Empty);
//	    rpc TriggerUpdate(google.protobuf.Empty) returns (google.protobuf.Struct);
//	    rpc GetUpdateStatus(google.protobuf.Empty) returns (google.protobuf.Struct);
//	    rpc ListMirrors(google.protobuf.Empty) returns (google.protobuf.Struct);
//	    rpc SetMirrorEnabled(google.protobuf.Struct) returns (google.protobuf.Empty);
//	}

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// CLIServer is the server API for the CLI service.
type CLIServer interface {
	Ping(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	GetVersion(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Reload(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	TriggerUpdate(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetUpdateStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListMirrors(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetMirrorEnabled(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// CLIClient is the client API for the CLI service.
type CLIClient interface {
	Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	GetVersion(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	Reload(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	TriggerUpdate(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetUpdateStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListMirrors(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	SetMirrorEnabled(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type cliClient struct {
	cc grpc.ClientConnInterface
}

// NewCLIClient returns a client stub for the CLI service.
func NewCLIClient(cc grpc.ClientConnInterface) CLIClient {
	return &cliClient{cc}
}

const (
	cliServiceName           = "rpc.CLI"
	cliPingMethod            = "/" + cliServiceName + "/Ping"
	cliGetVersionMethod      = "/" + cliServiceName + "/GetVersion"
	cliReloadMethod          = "/" + cliServiceName + "/Reload"
	cliTriggerUpdateMethod   = "/" + cliServiceName + "/TriggerUpdate"
	cliGetUpdateStatusMethod = "/" + cliServiceName + "/GetUpdateStatus"
	cliListMirrorsMethod     = "/" + cliServiceName + "/ListMirrors"
	cliSetMirrorEnabled      = "/" + cliServiceName + "/SetMirrorEnabled"
)

func (c *cliClient) Ping(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, cliPingMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cliClient) GetVersion(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, cliGetVersionMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cliClient) Reload(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, cliReloadMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cliClient) TriggerUpdate(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, cliTriggerUpdateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cliClient) GetUpdateStatus(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, cliGetUpdateStatusMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cliClient) ListMirrors(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, cliListMirrorsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cliClient) SetMirrorEnabled(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, cliSetMirrorEnabled, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func pingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CLIServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: cliPingMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CLIServer).Ping(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getVersionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CLIServer).GetVersion(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: cliGetVersionMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CLIServer).GetVersion(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func reloadHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CLIServer).Reload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: cliReloadMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CLIServer).Reload(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func triggerUpdateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CLIServer).TriggerUpdate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: cliTriggerUpdateMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CLIServer).TriggerUpdate(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func getUpdateStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CLIServer).GetUpdateStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: cliGetUpdateStatusMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CLIServer).GetUpdateStatus(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listMirrorsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CLIServer).ListMirrors(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: cliListMirrorsMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CLIServer).ListMirrors(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func setMirrorEnabledHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CLIServer).SetMirrorEnabled(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: cliSetMirrorEnabled}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CLIServer).SetMirrorEnabled(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var cliServiceDesc = grpc.ServiceDesc{
	ServiceName: cliServiceName,
	HandlerType: (*CLIServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "GetVersion", Handler: getVersionHandler},
		{MethodName: "Reload", Handler: reloadHandler},
		{MethodName: "TriggerUpdate", Handler: triggerUpdateHandler},
		{MethodName: "GetUpdateStatus", Handler: getUpdateStatusHandler},
		{MethodName: "ListMirrors", Handler: listMirrorsHandler},
		{MethodName: "SetMirrorEnabled", Handler: setMirrorEnabledHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpc/cli.proto",
}

// RegisterCLIServer registers srv with the given grpc server for the CLI
// service.
func RegisterCLIServer(s *grpc.Server, srv CLIServer) {
	s.RegisterService(&cliServiceDesc, srv)
}
