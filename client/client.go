// Package client routes vehicle signal operations across a set of shards.
//
// Each shard is a SignalService backend owning the paths below one prefix.
// A Client is built empty with New and gains shards with Connect (or Attach),
// once per shard, before operations touching that shard's namespace can
// resolve. Bindings accumulate and are never replaced; the first registered
// binding whose prefix matches a path owns it.
//
// Routing rules:
//
//   - GetSignals / SetSignals send one single-path RPC per resolved path and
//     merge the replies in input order. Paths no binding owns are dropped
//     (SkipUnresolved, the default) or fail the call (FailUnresolved).
//     The first RPC failure aborts the rest of the batch.
//   - SetSignals is not atomic across shards. Writes already applied when a
//     later path fails are not rolled back; the partial response is returned
//     with the error.
//   - Subscribe opens the stream of the single shard owning the path.
//   - Lock is routed by its first path only. Unlock is broadcast to every
//     binding because the client cannot tell which shard issued a token.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"

	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shadow/shadowrpc"
	"vshadow.io/vss/shard"
)

type binding = shard.Binding[shadowrpc.Conn]

// Client is a routing client over a set of shard bindings.
// It is safe for concurrent use.
type Client struct {
	opts     options
	log      logr.Logger
	registry *shard.Registry[shadowrpc.Conn]

	mu      sync.Mutex
	closed  bool
	closers []io.Closer
	subs    map[*Subscription]struct{}
}

// New returns a client with no bindings.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{
		opts:     o,
		log:      o.log.WithName("vss-client"),
		registry: shard.NewRegistry[shadowrpc.Conn](o.matchMode),
		subs:     make(map[*Subscription]struct{}),
	}
}

// Connect dials the shard at addr and binds it to prefix.
// Calling Connect twice with the same prefix adds a second, unreachable binding.
func (c *Client) Connect(ctx context.Context, addr string, prefix shadow.Path) error {
	if err := c.usable(); err != nil {
		return err
	}
	c.log.Info("Connecting to Vehicle Signal Shadow server", "addr", addr, "prefix", prefix)

	conn, err := shadowrpc.Dial(ctx, addr, c.opts.dial)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return shadow.ErrClosed
	}
	c.closers = append(c.closers, conn)
	c.bind(prefix, addr, conn)
	return nil
}

// Attach binds an already established connection to prefix. The caller keeps
// ownership of conn; Close does not close it. Attach fails with
// shadow.ErrClosed once the client is closed.
func (c *Client) Attach(prefix shadow.Path, addr string, conn shadowrpc.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return shadow.ErrClosed
	}
	c.bind(prefix, addr, conn)
	return nil
}

// bind must be called with c.mu held and the client open.
func (c *Client) bind(prefix shadow.Path, addr string, conn shadowrpc.Conn) {
	b := c.registry.Add(prefix, addr, conn)
	for _, o := range c.registry.Overlaps() {
		if o.Later != b.Index {
			continue
		}
		earlier := c.registry.Bindings()[o.Earlier]
		c.log.Info("Shard binding overlaps an earlier binding",
			"prefix", prefix, "earlierPrefix", earlier.Prefix, "unreachable", o.Shadowed)
	}
}

// Bindings returns the shard bindings in registration order.
func (c *Client) Bindings() []shard.Binding[shadowrpc.Conn] {
	return c.registry.Bindings()
}

// Close cancels open subscriptions and closes every connection opened by
// Connect. Bindings stay registered but all later calls fail with
// shadow.ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*Subscription, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	var errs []error
	for _, cl := range closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return shadow.ErrClosed
	}
	return nil
}

// call runs one per-shard RPC with the configured timeout and instrumentation.
func (c *Client) call(ctx context.Context, method string, b binding, fn func(ctx context.Context) error) error {
	if c.opts.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.callTimeout)
		defer cancel()
	}
	shardLabel := string(b.Prefix)
	timer := c.opts.metrics.RPCDuration(method, shardLabel)
	err := fn(ctx)
	timer.ObserveDuration()
	c.opts.metrics.RPCCompleted(method, shardLabel, err == nil)
	if err != nil {
		c.log.V(1).Info("Shard RPC failed", "method", method, "shard", b.Prefix, "addr", b.Addr, "error", err.Error())
		return transportErr(method, b, err)
	}
	return nil
}

func transportErr(method string, b binding, err error) error {
	if errors.Is(err, shadow.ErrTransport) {
		return fmt.Errorf("shard %q (%s): %w", b.Prefix, b.Addr, err)
	}
	return fmt.Errorf("%w: %s on shard %q (%s): %w", shadow.ErrTransport, method, b.Prefix, b.Addr, err)
}
