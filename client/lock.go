package client

import (
	"context"
	"fmt"

	"vshadow.io/vss/shadow"
)

// Lock asks the shard owning paths[0] to lock all of paths and returns its
// reply unmodified.
//
// Only the first path picks the shard. Paths owned by other shards are sent
// along but are not locked separately on their own shards.
func (c *Client) Lock(ctx context.Context, paths []shadow.Path) (*shadow.LockResponse, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths to lock", shadow.ErrInvalidInput)
	}
	c.log.V(1).Info("Locking signals", "paths", paths)

	b, ok := c.registry.Resolve(paths[0])
	if !ok {
		c.opts.metrics.Unresolved("lock")
		return nil, fmt.Errorf("%w: client for %s not found", shadow.ErrNotFound, paths[0])
	}
	for _, p := range paths[1:] {
		if other, ok := c.registry.Resolve(p); !ok || other.Index != b.Index {
			c.log.V(1).Info("Lock request spans shards; only the first path's shard is locked",
				"shard", b.Prefix, "path", p)
			break
		}
	}

	var resp *shadow.LockResponse
	err := c.call(ctx, "Lock", b, func(ctx context.Context) error {
		var err error
		resp, err = b.Conn.Lock(ctx, &shadow.LockRequest{Paths: paths})
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Unlock sends token to every bound shard, one RPC each, and reports success
// only if all of them do. With no bindings it trivially succeeds.
//
// The token is opaque, so the client cannot tell which shard issued it;
// shards that did not issue it are expected to answer success.
func (c *Client) Unlock(ctx context.Context, token string) (*shadow.UnlockResponse, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	c.log.V(1).Info("Unlocking on all shards")

	bindings := c.registry.Bindings()
	replies := make([]*shadow.UnlockResponse, len(bindings))
	err := c.fanout(ctx, len(bindings), func(ctx context.Context, i int) error {
		b := bindings[i]
		return c.call(ctx, "Unlock", b, func(ctx context.Context) error {
			resp, err := b.Conn.Unlock(ctx, &shadow.UnlockRequest{Token: token})
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

	out := &shadow.UnlockResponse{Success: true}
	for _, r := range replies {
		out.Success = out.Success && r != nil && r.Success
	}
	return out, nil
}
