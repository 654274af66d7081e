package shadowrpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"vshadow.io/vss/shadow"
)

// RPCError is a failed SignalService call.
//
// It matches shadow.ErrTransport and, when the status code maps onto one, the
// finer-grained shadow sentinel (Kind). The gRPC status stays reachable through
// Unwrap, so status.FromError and status.Code work on wrapped RPCErrors.
type RPCError struct {
	Method string
	Kind   error
	Err    error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("shadowrpc: %s: %v", e.Method, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

func (e *RPCError) Is(target error) bool {
	if target == shadow.ErrTransport {
		return true
	}
	return e.Kind != nil && target == e.Kind
}

// Code reports the gRPC status code of the failure.
func (e *RPCError) Code() codes.Code { return status.Code(e.Err) }

func mapRPC(method string, err error) error {
	if err == nil {
		return nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return err
	}
	return &RPCError{Method: method, Kind: kindOf(err), Err: err}
}

func kindOf(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		switch {
		case errors.Is(err, context.Canceled):
			return context.Canceled
		case errors.Is(err, context.DeadlineExceeded):
			return context.DeadlineExceeded
		}
		return nil
	}
	switch st.Code() {
	case codes.NotFound:
		return shadow.ErrNotFound
	case codes.InvalidArgument:
		return shadow.ErrInvalidInput
	case codes.Unimplemented:
		return shadow.ErrNotImplemented
	case codes.Aborted:
		// Shards use Aborted when a path is held by another token.
		return shadow.ErrLocked
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return nil
	}
}

// mapErr converts a Service error into a gRPC status error.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, shadow.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, shadow.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, shadow.ErrNotImplemented):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, shadow.ErrLocked):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func decodeErr(err error) error {
	return status.Error(codes.InvalidArgument, fmt.Sprintf("%v: %v", shadow.ErrInvalidInput, err))
}
