// Package clientconfig opens a routing client from a YAML (or JSON) file.
package clientconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"vshadow.io/vss/client"
	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shadow/shadowrpc"
	"vshadow.io/vss/shard"
)

// Config describes the shards a client binds and how it routes between them.
//
// Shards are bound in file order, so an earlier prefix wins over a later one
// that also matches.
//
// Example:
//
//	match_mode: prefix
//	unresolved: skip
//	parallelism: 4
//	call_timeout: 2s
//	shards:
//	  - prefix: Vehicle.Body.
//	    address: body-shadow:50051
//	  - prefix: Vehicle.
//	    address: vehicle-shadow:50051
type Config struct {
	// MatchMode is "prefix" (default) or "segment".
	MatchMode string `yaml:"match_mode,omitempty" json:"match_mode,omitempty"`
	// Unresolved is "skip" (default) or "fail".
	Unresolved  string `yaml:"unresolved,omitempty" json:"unresolved,omitempty"`
	Parallelism int    `yaml:"parallelism,omitempty" json:"parallelism,omitempty"`
	// CallTimeout and DialTimeout are Go durations such as "500ms".
	CallTimeout string        `yaml:"call_timeout,omitempty" json:"call_timeout,omitempty"`
	DialTimeout string        `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	MaxMsgBytes int           `yaml:"max_msg_bytes,omitempty" json:"max_msg_bytes,omitempty"`
	Shards      []ShardConfig `yaml:"shards" json:"shards"`
}

type ShardConfig struct {
	Prefix  string `yaml:"prefix" json:"prefix"`
	Address string `yaml:"address" json:"address"`
	// ID is an optional label for logs; Address is used when empty.
	ID string `yaml:"id,omitempty" json:"id,omitempty"`
}

func (s ShardConfig) Name() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Address
}

func LoadFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, errors.New("clientconfig: empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	return Parse(b)
}

// Parse decodes and validates a config document.
func Parse(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.UnmarshalWithOptions(b, &cfg, yaml.Strict()); err != nil {
		return cfg, fmt.Errorf("clientconfig: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Shards) == 0 {
		return errors.New("clientconfig: at least one shard is required")
	}
	seen := make(map[string]struct{}, len(c.Shards))
	for i, s := range c.Shards {
		if s.Address == "" {
			return fmt.Errorf("clientconfig: shard %d: address is required", i)
		}
		if s.ID == "" {
			continue
		}
		if _, ok := seen[s.ID]; ok {
			return fmt.Errorf("clientconfig: duplicate shard id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("clientconfig: negative parallelism %d", c.Parallelism)
	}
	if c.MaxMsgBytes < 0 {
		return fmt.Errorf("clientconfig: negative max_msg_bytes %d", c.MaxMsgBytes)
	}
	_, err := c.Options()
	return err
}

// Options translates the routing settings into client options. Shards are
// not included; Open binds them.
func (c Config) Options() ([]client.Option, error) {
	mode, err := shard.ParseMatchMode(c.MatchMode)
	if err != nil {
		return nil, fmt.Errorf("clientconfig: %w", err)
	}
	policy, err := client.ParseUnresolvedPolicy(c.Unresolved)
	if err != nil {
		return nil, fmt.Errorf("clientconfig: %w", err)
	}
	callTimeout, err := duration("call_timeout", c.CallTimeout)
	if err != nil {
		return nil, err
	}
	dialTimeout, err := duration("dial_timeout", c.DialTimeout)
	if err != nil {
		return nil, err
	}

	opts := []client.Option{
		client.WithMatchMode(mode),
		client.WithUnresolvedPolicy(policy),
		client.WithCallTimeout(callTimeout),
		client.WithDialOptions(shadowrpc.DialOptions{Timeout: dialTimeout, MaxMsgBytes: c.MaxMsgBytes}),
	}
	if c.Parallelism > 0 {
		opts = append(opts, client.WithParallelism(c.Parallelism))
	}
	return opts, nil
}

func duration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("clientconfig: invalid %s %q: %w", field, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("clientconfig: negative %s %q", field, s)
	}
	return d, nil
}

// Open builds a client and connects every shard in order. extra options are
// applied after the file's, so callers can add a logger or metrics, or
// override a setting. On error every connection opened so far is closed.
func (c Config) Open(ctx context.Context, extra ...client.Option) (*client.Client, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	cl := client.New(append(opts, extra...)...)
	for _, s := range c.Shards {
		if err := cl.Connect(ctx, s.Address, shadow.Path(s.Prefix)); err != nil {
			_ = cl.Close()
			return nil, fmt.Errorf("clientconfig: shard %s: %w", s.Name(), err)
		}
	}
	return cl, nil
}
