package client

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"vshadow.io/vss/metrics"
	"vshadow.io/vss/shadow/shadowrpc"
	"vshadow.io/vss/shard"
)

// UnresolvedPolicy decides what GetSignals and SetSignals do with a path that
// no binding owns. Subscribe, Unsubscribe and Lock always fail with
// shadow.ErrNotFound for such paths, whatever the policy.
type UnresolvedPolicy int

const (
	// SkipUnresolved drops the path silently: no result entry, no error.
	SkipUnresolved UnresolvedPolicy = iota
	// FailUnresolved fails the whole call with shadow.ErrNotFound before any RPC is sent.
	FailUnresolved
)

func (p UnresolvedPolicy) String() string {
	switch p {
	case SkipUnresolved:
		return "skip"
	case FailUnresolved:
		return "fail"
	default:
		return fmt.Sprintf("UnresolvedPolicy(%d)", int(p))
	}
}

// ParseUnresolvedPolicy parses "skip" or "fail". The empty string is SkipUnresolved.
func ParseUnresolvedPolicy(s string) (UnresolvedPolicy, error) {
	switch s {
	case "", "skip":
		return SkipUnresolved, nil
	case "fail":
		return FailUnresolved, nil
	default:
		return 0, fmt.Errorf("client: invalid unresolved policy %q", s)
	}
}

type options struct {
	log         logr.Logger
	metrics     metrics.ClientMetrics
	matchMode   shard.MatchMode
	unresolved  UnresolvedPolicy
	parallelism int
	callTimeout time.Duration
	dial        shadowrpc.DialOptions
}

func defaultOptions() options {
	return options{
		log:         logr.Discard(),
		metrics:     metrics.Nop(),
		matchMode:   shard.MatchPrefix,
		unresolved:  SkipUnresolved,
		parallelism: 1,
	}
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger. Routing decisions are logged at V(1).
func WithLogger(log logr.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m metrics.ClientMetrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithMatchMode selects how binding prefixes match paths. Default MatchPrefix.
func WithMatchMode(m shard.MatchMode) Option {
	return func(o *options) { o.matchMode = m }
}

// WithUnresolvedPolicy selects the get/set behavior for unowned paths. Default SkipUnresolved.
func WithUnresolvedPolicy(p UnresolvedPolicy) Option {
	return func(o *options) { o.unresolved = p }
}

// WithParallelism bounds how many per-shard RPCs of one call are in flight.
// Values below 2 keep the default sequential issuance. Results are always
// merged in input order.
func WithParallelism(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.parallelism = n
	}
}

// WithCallTimeout bounds each unary per-shard RPC. Zero means only the
// caller's context applies.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

// WithDialOptions sets the options Connect dials with.
func WithDialOptions(d shadowrpc.DialOptions) Option {
	return func(o *options) { o.dial = d }
}
