// Package memshard is an in-memory SignalService shard.
//
// It keeps the latest State per path, hands out lock tokens with an optional
// expiry and pushes updates to subscribers. It exists for tests, local
// development and the vss-shardd daemon; it makes no durability promises.
package memshard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shadow/shadowrpc"
)

// subscriberBuffer is the number of updates queued per subscriber before
// further updates to that subscriber are dropped.
const subscriberBuffer = 64

type Options struct {
	// LockTTL expires locks that are not released. Zero keeps locks until Unlock.
	LockTTL time.Duration
	// Now defaults to time.Now. It stamps Set requests that carry no timestamp.
	Now func() time.Time
	Log logr.Logger
}

// Shard implements shadowrpc.Service in memory. The zero value is not usable;
// construct with New.
type Shard struct {
	now func() time.Time
	log logr.Logger

	// locks maps a locked path to the token holding it.
	locks *ttlcache.Cache[shadow.Path, string]

	mu     sync.RWMutex
	states map[shadow.Path]*shadow.State
	subs   map[uint64]*subscriber
	nextID uint64
}

var _ shadowrpc.Service = (*Shard)(nil)

type subscriber struct {
	paths   map[shadow.Path]struct{}
	updates chan *shadow.SubscribeResponse
	done    chan struct{}
}

func New(opts Options) *Shard {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log.GetSink() == nil {
		opts.Log = logr.Discard()
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	s := &Shard{
		now:    opts.Now,
		log:    opts.Log,
		locks:  ttlcache.New(ttlcache.WithTTL[shadow.Path, string](ttl)),
		states: make(map[shadow.Path]*shadow.State),
		subs:   make(map[uint64]*subscriber),
	}
	s.locks.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[shadow.Path, string]) {
		if reason == ttlcache.EvictionReasonExpired {
			s.log.V(1).Info("Lock expired", "path", item.Key())
		}
	})
	return s
}

// Put stores a state directly, bypassing locks. It notifies subscribers.
func (s *Shard) Put(path shadow.Path, st *shadow.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLocked(path, st)
}

func (s *Shard) storeLocked(path shadow.Path, st *shadow.State) {
	s.states[path] = st
	sig := &shadow.Signal{Path: path, State: st}
	for id, sub := range s.subs {
		if _, ok := sub.paths[path]; !ok {
			continue
		}
		select {
		case sub.updates <- &shadow.SubscribeResponse{Signals: []*shadow.Signal{sig}}:
		default:
			s.log.Info("Dropping update for slow subscriber", "subscriber", id, "path", path)
		}
	}
}

func (s *Shard) Get(ctx context.Context, req *shadow.GetRequest) (*shadow.GetResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := &shadow.GetResponse{Signals: []*shadow.Signal{}, Success: true}
	for _, p := range req.Paths {
		st, ok := s.states[p]
		if !ok {
			out.Success = false
			out.ErrorMessage = joinMsg(out.ErrorMessage, fmt.Sprintf("signal %s not found", p))
			continue
		}
		out.Signals = append(out.Signals, &shadow.Signal{Path: p, State: st})
	}
	return out, nil
}

func (s *Shard) Set(ctx context.Context, req *shadow.SetRequest) (*shadow.SetResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &shadow.SetResponse{Results: []*shadow.SetResult{}, Success: true}
	for _, sig := range req.Signals {
		r := &shadow.SetResult{Path: sig.Path, Success: true}
		switch {
		case sig.Path.Validate() != nil:
			r.Success, r.ErrorMessage = false, sig.Path.Validate().Error()
		case sig.State == nil:
			r.Success, r.ErrorMessage = false, "missing state"
		default:
			if holder := s.holder(sig.Path); holder != "" && holder != req.Token {
				r.Success, r.ErrorMessage = false, fmt.Sprintf("signal %s is locked", sig.Path)
				break
			}
			st := &shadow.State{Value: sig.State.Value, Timestamp: sig.State.Timestamp}
			if st.Timestamp.IsZero() {
				st.Timestamp = s.now()
			}
			s.storeLocked(sig.Path, st)
		}
		if !r.Success {
			out.Success = false
			out.ErrorMessage = joinMsg(out.ErrorMessage, r.ErrorMessage)
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

// Subscribe sends the current value of every subscribed path that has one,
// then every later update, until ctx ends or Unsubscribe drops all paths.
func (s *Shard) Subscribe(ctx context.Context, req *shadow.SubscribeRequest, send func(*shadow.SubscribeResponse) error) error {
	if len(req.Paths) == 0 {
		return fmt.Errorf("%w: no paths to subscribe", shadow.ErrInvalidInput)
	}
	sub := &subscriber{
		paths:   make(map[shadow.Path]struct{}, len(req.Paths)),
		updates: make(chan *shadow.SubscribeResponse, subscriberBuffer),
		done:    make(chan struct{}),
	}
	initial := &shadow.SubscribeResponse{}

	s.mu.Lock()
	for _, p := range req.Paths {
		sub.paths[p] = struct{}{}
		if st, ok := s.states[p]; ok {
			initial.Signals = append(initial.Signals, &shadow.Signal{Path: p, State: st})
		}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}()

	if len(initial.Signals) > 0 {
		if err := send(initial); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.done:
			return nil
		case m := <-sub.updates:
			if err := send(m); err != nil {
				return err
			}
		}
	}
}

// Unsubscribe removes paths from every subscription. Subscriptions left
// without paths end their streams.
func (s *Shard) Unsubscribe(ctx context.Context, req *shadow.UnsubscribeRequest) (*shadow.UnsubscribeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		before := len(sub.paths)
		for _, p := range req.Paths {
			delete(sub.paths, p)
		}
		if before > 0 && len(sub.paths) == 0 {
			close(sub.done)
			delete(s.subs, id)
		}
	}
	return &shadow.UnsubscribeResponse{Success: true}, nil
}

// Lock grants a fresh token over all paths, or fails without a token when any
// of them is already held.
func (s *Shard) Lock(ctx context.Context, req *shadow.LockRequest) (*shadow.LockResponse, error) {
	if len(req.Paths) == 0 {
		return nil, fmt.Errorf("%w: no paths to lock", shadow.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks.DeleteExpired()
	for _, p := range req.Paths {
		if s.holder(p) != "" {
			return &shadow.LockResponse{Success: false}, nil
		}
	}
	token := uuid.NewString()
	for _, p := range req.Paths {
		s.locks.Set(p, token, ttlcache.DefaultTTL)
	}
	return &shadow.LockResponse{Token: token, Success: true}, nil
}

// Unlock releases every path held by token. Unknown tokens succeed, so a
// broadcast unlock is harmless on shards that did not issue the token.
func (s *Shard) Unlock(ctx context.Context, req *shadow.UnlockRequest) (*shadow.UnlockResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Token == "" {
		return &shadow.UnlockResponse{Success: true}, nil
	}
	for _, p := range s.locks.Keys() {
		if s.holder(p) == req.Token {
			s.locks.Delete(p)
		}
	}
	return &shadow.UnlockResponse{Success: true}, nil
}

// holder returns the token locking path, or "" when it is free.
func (s *Shard) holder(path shadow.Path) string {
	item := s.locks.Get(path, ttlcache.WithDisableTouchOnHit[shadow.Path, string]())
	if item == nil || item.IsExpired() {
		return ""
	}
	return item.Value()
}

func joinMsg(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}
