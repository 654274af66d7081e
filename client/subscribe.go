package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shadow/shadowrpc"
)

// Subscription is the push stream of one shard for one path. Messages are the
// shard's own SubscribeResponses; nothing is merged or rewritten.
type Subscription struct {
	Path shadow.Path
	// Shard is the prefix of the binding serving the subscription.
	Shard shadow.Path

	stream shadowrpc.Stream
	ctx    context.Context
	cancel context.CancelFunc
	client *Client

	once   sync.Once
	mu     sync.Mutex
	closed bool
}

// Recv blocks until the shard pushes the next update. It returns io.EOF once
// the stream has ended, including after Close or Unsubscribe.
func (s *Subscription) Recv() (*shadow.SubscribeResponse, error) {
	m, err := s.stream.Recv()
	if err == nil {
		return m, nil
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || errors.Is(err, io.EOF) {
		s.release()
		return nil, io.EOF
	}
	s.release()
	return nil, fmt.Errorf("subscription %q: %w", s.Path, err)
}

// Close cancels the stream locally. It does not notify the shard; use
// Client.Unsubscribe for a shard-acknowledged cancellation.
func (s *Subscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.release()
	return nil
}

// Done is closed when the subscription's stream context ends.
func (s *Subscription) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Subscription) release() {
	s.once.Do(func() {
		s.cancel()
		s.client.forget(s)
	})
}

// Subscribe opens a push stream for path on the shard that owns it. Exactly
// one path is accepted; it fails with shadow.ErrNotFound when no binding owns
// path. The stream lives until ctx ends, Close or Unsubscribe is called, or
// the shard ends it.
func (c *Client) Subscribe(ctx context.Context, path shadow.Path) (*Subscription, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	c.log.V(1).Info("Subscribing to signal", "path", path)

	b, ok := c.registry.Resolve(path)
	if !ok {
		c.opts.metrics.Unresolved("subscribe")
		return nil, fmt.Errorf("%w: client for %s not found", shadow.ErrNotFound, path)
	}

	sctx, cancel := context.WithCancel(ctx)
	var stream shadowrpc.Stream
	err := c.call(sctx, "Subscribe", b, func(context.Context) error {
		var err error
		// The call timeout must not bound the stream's lifetime.
		stream, err = b.Conn.Subscribe(sctx, &shadow.SubscribeRequest{Paths: []shadow.Path{path}})
		return err
	})
	if err != nil {
		cancel()
		return nil, err
	}

	sub := &Subscription{
		Path:   path,
		Shard:  b.Prefix,
		stream: stream,
		ctx:    sctx,
		cancel: cancel,
		client: c,
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil, shadow.ErrClosed
	}
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	c.opts.metrics.SubscriptionOpened(string(b.Prefix))
	return sub, nil
}

func (c *Client) forget(s *Subscription) {
	c.mu.Lock()
	_, ok := c.subs[s]
	delete(c.subs, s)
	c.mu.Unlock()
	if ok {
		c.opts.metrics.SubscriptionClosed(string(s.Shard))
	}
}

// Unsubscribe asks the shards owning paths to drop their subscriptions and
// closes this client's Subscriptions for those paths.
//
// Paths are grouped per owning shard, in order of first appearance, and each
// shard receives one Unsubscribe RPC. Success is the AND of the shard replies.
// A path no binding owns fails the call with shadow.ErrNotFound before any RPC
// is sent. Local subscriptions are closed even when a shard RPC fails; a shard
// without unsubscribe support surfaces as shadow.ErrNotImplemented.
func (c *Client) Unsubscribe(ctx context.Context, paths []shadow.Path) (*shadow.UnsubscribeResponse, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths to unsubscribe", shadow.ErrInvalidInput)
	}
	c.log.V(1).Info("Unsubscribing from signals", "paths", paths)

	type group struct {
		binding binding
		paths   []shadow.Path
	}
	var groups []*group
	byIndex := make(map[int]*group)
	for _, p := range paths {
		b, ok := c.registry.Resolve(p)
		if !ok {
			c.opts.metrics.Unresolved("unsubscribe")
			return nil, fmt.Errorf("%w: client for %s not found", shadow.ErrNotFound, p)
		}
		g, ok := byIndex[b.Index]
		if !ok {
			g = &group{binding: b}
			byIndex[b.Index] = g
			groups = append(groups, g)
		}
		g.paths = append(g.paths, p)
	}
	defer c.closeLocal(paths)

	replies := make([]*shadow.UnsubscribeResponse, len(groups))
	err := c.fanout(ctx, len(groups), func(ctx context.Context, i int) error {
		g := groups[i]
		return c.call(ctx, "Unsubscribe", g.binding, func(ctx context.Context) error {
			resp, err := g.binding.Conn.Unsubscribe(ctx, &shadow.UnsubscribeRequest{Paths: g.paths})
			if err != nil {
				return err
			}
			replies[i] = resp
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	out := &shadow.UnsubscribeResponse{Success: true}
	var msgs []string
	for _, r := range replies {
		if r == nil {
			out.Success = false
			continue
		}
		out.Success = out.Success && r.Success
		if r.ErrorMessage != "" {
			msgs = append(msgs, r.ErrorMessage)
		}
	}
	out.ErrorMessage = strings.Join(msgs, "; ")
	return out, nil
}

func (c *Client) closeLocal(paths []shadow.Path) {
	want := make(map[shadow.Path]struct{}, len(paths))
	for _, p := range paths {
		want[p] = struct{}{}
	}
	c.mu.Lock()
	var matched []*Subscription
	for s := range c.subs {
		if _, ok := want[s.Path]; ok {
			matched = append(matched, s)
		}
	}
	c.mu.Unlock()
	for _, s := range matched {
		_ = s.Close()
	}
}
