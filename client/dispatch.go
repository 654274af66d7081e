package client

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"vshadow.io/vss/shadow"
)

// target is one resolved path of a batch; index is its input position.
type target struct {
	index   int
	path    shadow.Path
	binding binding
}

// resolveAll maps paths to their bindings in input order, applying the
// unresolved policy.
func (c *Client) resolveAll(op string, paths []shadow.Path) ([]target, error) {
	out := make([]target, 0, len(paths))
	for i, p := range paths {
		b, ok := c.registry.Resolve(p)
		if !ok {
			c.opts.metrics.Unresolved(op)
			if c.opts.unresolved == FailUnresolved {
				return nil, fmt.Errorf("%w: no shard owns %q", shadow.ErrNotFound, p)
			}
			c.log.V(1).Info("Skipping path without shard", "op", op, "path", p)
			continue
		}
		out = append(out, target{index: i, path: p, binding: b})
	}
	return out, nil
}

// fanout runs call for i in [0, n) and stops at the first error. Calls are
// sequential unless parallelism > 1, in which case up to parallelism calls are
// in flight and the first failure cancels the rest. Calls not yet issued when
// the context ends are skipped; issued calls are never retried.
func (c *Client) fanout(ctx context.Context, n int, call func(ctx context.Context, i int) error) error {
	if c.opts.parallelism <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := call(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.parallelism)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return call(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	// The caller's context may end after the last call was issued but before
	// the loop noticed.
	return ctx.Err()
}

// GetSignals reads each path from the shard that owns it, one RPC per path,
// and returns the signals in input order.
//
// Success is true when every shard reported success; shard error messages are
// joined with "; ". The first failed RPC aborts the call.
func (c *Client) GetSignals(ctx context.Context, paths []shadow.Path) (*shadow.GetResponse, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	c.log.V(1).Info("Getting signals", "paths", paths)

	targets, err := c.resolveAll("get", paths)
	if err != nil {
		return nil, err
	}

	replies := make([]*shadow.GetResponse, len(targets))
	err = c.fanout(ctx, len(targets), func(ctx context.Context, i int) error {
		t := targets[i]
		return c.call(ctx, "Get", t.binding, func(ctx context.Context) error {
			resp, err := t.binding.Conn.Get(ctx, &shadow.GetRequest{Paths: []shadow.Path{t.path}})
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

	out := &shadow.GetResponse{Signals: []*shadow.Signal{}, Success: true}
	var msgs []string
	for _, r := range replies {
		if r == nil {
			continue
		}
		out.Signals = append(out.Signals, r.Signals...)
		out.Success = out.Success && r.Success
		if r.ErrorMessage != "" {
			msgs = append(msgs, r.ErrorMessage)
		}
	}
	out.ErrorMessage = strings.Join(msgs, "; ")
	return out, nil
}

// SetSignals writes each signal through the shard that owns its path, one RPC
// per signal, every RPC carrying token.
//
// On an RPC failure SetSignals returns the error together with the results of
// the writes that completed before it, in input order. Those writes are not
// rolled back.
func (c *Client) SetSignals(ctx context.Context, signals []*shadow.SetSignalRequest, token string) (*shadow.SetResponse, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	c.log.V(1).Info("Setting signals", "count", len(signals), "locked", token != "")

	paths := make([]shadow.Path, 0, len(signals))
	for i, s := range signals {
		if s == nil {
			return nil, fmt.Errorf("%w: nil signal at index %d", shadow.ErrInvalidInput, i)
		}
		paths = append(paths, s.Path)
	}
	targets, err := c.resolveAll("set", paths)
	if err != nil {
		return nil, err
	}

	replies := make([]*shadow.SetResponse, len(targets))
	err = c.fanout(ctx, len(targets), func(ctx context.Context, i int) error {
		t := targets[i]
		return c.call(ctx, "Set", t.binding, func(ctx context.Context) error {
			resp, err := t.binding.Conn.Set(ctx, &shadow.SetRequest{
				Signals: []*shadow.SetSignalRequest{signals[t.index]},
				Token:   token,
			})
			if err != nil {
				return err
			}
			replies[i] = resp
			return nil
		})
	})

	out := &shadow.SetResponse{Results: []*shadow.SetResult{}, Success: true}
	var msgs []string
	for _, r := range replies {
		if r == nil {
			continue
		}
		out.Results = append(out.Results, r.Results...)
		out.Success = out.Success && r.Success
		if r.ErrorMessage != "" {
			msgs = append(msgs, r.ErrorMessage)
		}
	}
	out.ErrorMessage = strings.Join(msgs, "; ")
	if err != nil {
		out.Success = false
		return out, err
	}
	return out, nil
}
