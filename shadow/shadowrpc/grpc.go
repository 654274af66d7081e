package shadowrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the vehicle shadow signal service.
const ServiceName = "vehicle_shadow.SignalService"

const (
	methodGet         = "/" + ServiceName + "/Get"
	methodSet         = "/" + ServiceName + "/Set"
	methodSubscribe   = "/" + ServiceName + "/Subscribe"
	methodUnsubscribe = "/" + ServiceName + "/Unsubscribe"
	methodLock        = "/" + ServiceName + "/Lock"
	methodUnlock      = "/" + ServiceName + "/Unlock"
)

// SignalServiceServer is the server API for the SignalService.
//
// Message bodies are google.protobuf.Struct values so this package does not
// require a protoc/codegen toolchain. The Encode*/Decode* helpers convert them
// to and from the typed messages in package shadow.
type SignalServiceServer interface {
	Get(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Set(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, SignalService_SubscribeServer) error
	Unsubscribe(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Lock(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unlock(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// UnimplementedSignalServiceServer can be embedded to have forward compatible implementations.
type UnimplementedSignalServiceServer struct{}

func (UnimplementedSignalServiceServer) Get(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedSignalServiceServer) Set(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Set not implemented")
}
func (UnimplementedSignalServiceServer) Subscribe(*structpb.Struct, SignalService_SubscribeServer) error {
	return status.Error(codes.Unimplemented, "method Subscribe not implemented")
}
func (UnimplementedSignalServiceServer) Unsubscribe(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Unsubscribe not implemented")
}
func (UnimplementedSignalServiceServer) Lock(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Lock not implemented")
}
func (UnimplementedSignalServiceServer) Unlock(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Unlock not implemented")
}

// RegisterSignalServiceServer registers the SignalService on a gRPC server.
func RegisterSignalServiceServer(s grpc.ServiceRegistrar, srv SignalServiceServer) {
	s.RegisterService(&SignalService_ServiceDesc, srv)
}

// SignalServiceClient is the client API for the SignalService.
type SignalServiceClient interface {
	Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Set(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (SignalService_SubscribeClient, error)
	Unsubscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Lock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Unlock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type signalServiceClient struct{ cc grpc.ClientConnInterface }

func NewSignalServiceClient(cc grpc.ClientConnInterface) SignalServiceClient {
	return &signalServiceClient{cc: cc}
}

func (c *signalServiceClient) unary(ctx context.Context, method string, in *structpb.Struct, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *signalServiceClient) Get(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, methodGet, in, opts)
}

func (c *signalServiceClient) Set(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, methodSet, in, opts)
}

func (c *signalServiceClient) Subscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (SignalService_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &SignalService_ServiceDesc.Streams[0], methodSubscribe, opts...)
	if err != nil {
		return nil, err
	}
	x := &signalServiceSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *signalServiceClient) Unsubscribe(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, methodUnsubscribe, in, opts)
}

func (c *signalServiceClient) Lock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, methodLock, in, opts)
}

func (c *signalServiceClient) Unlock(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.unary(ctx, methodUnlock, in, opts)
}

// SignalService_SubscribeClient is the client side of the Subscribe server stream.
type SignalService_SubscribeClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type signalServiceSubscribeClient struct {
	grpc.ClientStream
}

func (x *signalServiceSubscribeClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// SignalService_SubscribeServer is the server side of the Subscribe server stream.
type SignalService_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type signalServiceSubscribeServer struct {
	grpc.ServerStream
}

func (x *signalServiceSubscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

type unaryMethod func(SignalServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SignalServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(SignalServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _SignalService_Subscribe_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(SignalServiceServer).Subscribe(m, &signalServiceSubscribeServer{stream})
}

// SignalService_ServiceDesc is the grpc.ServiceDesc for the SignalService.
var SignalService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SignalServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: unaryHandler(methodGet, SignalServiceServer.Get)},
		{MethodName: "Set", Handler: unaryHandler(methodSet, SignalServiceServer.Set)},
		{MethodName: "Unsubscribe", Handler: unaryHandler(methodUnsubscribe, SignalServiceServer.Unsubscribe)},
		{MethodName: "Lock", Handler: unaryHandler(methodLock, SignalServiceServer.Lock)},
		{MethodName: "Unlock", Handler: unaryHandler(methodUnlock, SignalServiceServer.Unlock)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       _SignalService_Subscribe_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "vehicle-shadow/signal.proto",
}
