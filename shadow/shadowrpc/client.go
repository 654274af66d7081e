package shadowrpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"vshadow.io/vss/shadow"
)

// Conn is the typed per-shard API the routing client talks to.
// *Client implements it over gRPC; tests may supply fakes.
type Conn interface {
	Get(ctx context.Context, req *shadow.GetRequest) (*shadow.GetResponse, error)
	Set(ctx context.Context, req *shadow.SetRequest) (*shadow.SetResponse, error)
	Subscribe(ctx context.Context, req *shadow.SubscribeRequest) (Stream, error)
	Unsubscribe(ctx context.Context, req *shadow.UnsubscribeRequest) (*shadow.UnsubscribeResponse, error)
	Lock(ctx context.Context, req *shadow.LockRequest) (*shadow.LockResponse, error)
	Unlock(ctx context.Context, req *shadow.UnlockRequest) (*shadow.UnlockResponse, error)
}

// Stream yields the push messages of one subscription. Recv returns io.EOF
// when the shard ends the stream.
type Stream interface {
	Recv() (*shadow.SubscribeResponse, error)
}

// Client implements Conn over a SignalService gRPC connection.
type Client struct {
	cc     grpc.ClientConnInterface
	client SignalServiceClient

	// Timeout applies per unary RPC when non-zero. Streams are bounded only by
	// the caller's context.
	Timeout time.Duration
}

var _ Conn = (*Client)(nil)

// DefaultDialTimeout bounds Dial when neither DialOptions.Timeout nor the
// context sets a deadline.
const DefaultDialTimeout = 10 * time.Second

type DialOptions struct {
	// Timeout bounds the initial dial. When zero, the context deadline applies,
	// or DefaultDialTimeout if the context has none.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra options appended after the defaults (e.g. transport credentials).
	Options []grpc.DialOption
}

// Dial connects to the shard at target and waits until the connection is
// ready, so an unreachable shard fails here rather than on the first RPC.
// Connections are insecure unless opts.Options supplies transport credentials.
func Dial(ctx context.Context, target string, opts DialOptions) (*Client, error) {
	if target == "" {
		return nil, fmt.Errorf("%w: empty dial target", shadow.ErrInvalidInput)
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
		grpc.WithReturnConnectionError(),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	timeout := opts.Timeout
	if _, ok := ctx.Deadline(); !ok && timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	dialOpts = append(dialOpts, opts.Options...)

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", shadow.ErrTransport, target, err)
	}
	return NewClient(cc), nil
}

// NewClient wraps an established connection, e.g. a bufconn in tests.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc, client: NewSignalServiceClient(cc)}
}

// Close closes the underlying connection when the Client owns a *grpc.ClientConn.
func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	if cc, ok := c.cc.(*grpc.ClientConn); ok {
		return cc.Close()
	}
	return nil
}

func (c *Client) Get(ctx context.Context, req *shadow.GetRequest) (*shadow.GetResponse, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Get(ctx, EncodeGetRequest(req))
	if err != nil {
		return nil, mapRPC("Get", err)
	}
	out, err := DecodeGetResponse(reply)
	if err != nil {
		return nil, malformed("Get", err)
	}
	return out, nil
}

func (c *Client) Set(ctx context.Context, req *shadow.SetRequest) (*shadow.SetResponse, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Set(ctx, EncodeSetRequest(req))
	if err != nil {
		return nil, mapRPC("Set", err)
	}
	out, err := DecodeSetResponse(reply)
	if err != nil {
		return nil, malformed("Set", err)
	}
	return out, nil
}

func (c *Client) Subscribe(ctx context.Context, req *shadow.SubscribeRequest) (Stream, error) {
	stream, err := c.client.Subscribe(ctx, EncodeSubscribeRequest(req))
	if err != nil {
		return nil, mapRPC("Subscribe", err)
	}
	return &subscribeStream{stream: stream}, nil
}

func (c *Client) Unsubscribe(ctx context.Context, req *shadow.UnsubscribeRequest) (*shadow.UnsubscribeResponse, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Unsubscribe(ctx, EncodeUnsubscribeRequest(req))
	if err != nil {
		return nil, mapRPC("Unsubscribe", err)
	}
	out, err := DecodeUnsubscribeResponse(reply)
	if err != nil {
		return nil, malformed("Unsubscribe", err)
	}
	return out, nil
}

func (c *Client) Lock(ctx context.Context, req *shadow.LockRequest) (*shadow.LockResponse, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Lock(ctx, EncodeLockRequest(req))
	if err != nil {
		return nil, mapRPC("Lock", err)
	}
	out, err := DecodeLockResponse(reply)
	if err != nil {
		return nil, malformed("Lock", err)
	}
	return out, nil
}

func (c *Client) Unlock(ctx context.Context, req *shadow.UnlockRequest) (*shadow.UnlockResponse, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()
	reply, err := c.client.Unlock(ctx, EncodeUnlockRequest(req))
	if err != nil {
		return nil, mapRPC("Unlock", err)
	}
	out, err := DecodeUnlockResponse(reply)
	if err != nil {
		return nil, malformed("Unlock", err)
	}
	return out, nil
}

func (c *Client) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

type subscribeStream struct {
	stream SignalService_SubscribeClient
}

func (s *subscribeStream) Recv() (*shadow.SubscribeResponse, error) {
	m, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, mapRPC("Subscribe", err)
	}
	out, err := DecodeSubscribeResponse(m)
	if err != nil {
		return nil, malformed("Subscribe", err)
	}
	return out, nil
}

func malformed(method string, err error) error {
	return &RPCError{Method: method, Err: fmt.Errorf("malformed response: %w", err)}
}
