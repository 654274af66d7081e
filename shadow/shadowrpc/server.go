package shadowrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"vshadow.io/vss/shadow"
)

// Service is the typed server-side API of one shard.
type Service interface {
	Get(ctx context.Context, req *shadow.GetRequest) (*shadow.GetResponse, error)
	Set(ctx context.Context, req *shadow.SetRequest) (*shadow.SetResponse, error)
	// Subscribe blocks, pushing updates through send, until ctx is done or the
	// subscription is removed by Unsubscribe.
	Subscribe(ctx context.Context, req *shadow.SubscribeRequest, send func(*shadow.SubscribeResponse) error) error
	Unsubscribe(ctx context.Context, req *shadow.UnsubscribeRequest) (*shadow.UnsubscribeResponse, error)
	Lock(ctx context.Context, req *shadow.LockRequest) (*shadow.LockResponse, error)
	Unlock(ctx context.Context, req *shadow.UnlockRequest) (*shadow.UnlockResponse, error)
}

// Server exposes a Service over the SignalService gRPC service.
type Server struct {
	UnimplementedSignalServiceServer
	Service Service
}

// Register registers svc on s.
func Register(s grpc.ServiceRegistrar, svc Service) {
	RegisterSignalServiceServer(s, &Server{Service: svc})
}

func (s *Server) ready() error {
	if s == nil || s.Service == nil {
		return status.Error(codes.FailedPrecondition, "missing service")
	}
	return nil
}

func (s *Server) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	req, err := DecodeGetRequest(in)
	if err != nil {
		return nil, decodeErr(err)
	}
	resp, err := s.Service.Get(ctx, req)
	if err != nil {
		return nil, mapErr(err)
	}
	return EncodeGetResponse(resp), nil
}

func (s *Server) Set(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	req, err := DecodeSetRequest(in)
	if err != nil {
		return nil, decodeErr(err)
	}
	resp, err := s.Service.Set(ctx, req)
	if err != nil {
		return nil, mapErr(err)
	}
	return EncodeSetResponse(resp), nil
}

func (s *Server) Subscribe(in *structpb.Struct, stream SignalService_SubscribeServer) error {
	if err := s.ready(); err != nil {
		return err
	}
	req, err := DecodeSubscribeRequest(in)
	if err != nil {
		return decodeErr(err)
	}
	send := func(m *shadow.SubscribeResponse) error {
		return stream.Send(EncodeSubscribeResponse(m))
	}
	return mapErr(s.Service.Subscribe(stream.Context(), req, send))
}

func (s *Server) Unsubscribe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	req, err := DecodeUnsubscribeRequest(in)
	if err != nil {
		return nil, decodeErr(err)
	}
	resp, err := s.Service.Unsubscribe(ctx, req)
	if err != nil {
		return nil, mapErr(err)
	}
	return EncodeUnsubscribeResponse(resp), nil
}

func (s *Server) Lock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	req, err := DecodeLockRequest(in)
	if err != nil {
		return nil, decodeErr(err)
	}
	resp, err := s.Service.Lock(ctx, req)
	if err != nil {
		return nil, mapErr(err)
	}
	return EncodeLockResponse(resp), nil
}

func (s *Server) Unlock(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	req, err := DecodeUnlockRequest(in)
	if err != nil {
		return nil, decodeErr(err)
	}
	resp, err := s.Service.Unlock(ctx, req)
	if err != nil {
		return nil, mapErr(err)
	}
	return EncodeUnlockResponse(resp), nil
}
