package client

import (
	"context"
	"io"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shadow/shadowrpc"
)

// fakeConn is a scriptable shadowrpc.Conn that records every request.
type fakeConn struct {
	name string

	mu       sync.Mutex
	gets     []*shadow.GetRequest
	sets     []*shadow.SetRequest
	subs     []*shadow.SubscribeRequest
	unsubs   []*shadow.UnsubscribeRequest
	locks    []*shadow.LockRequest
	unlocks  []*shadow.UnlockRequest
	failOn   map[shadow.Path]error
	unlockOK bool
	unsubErr error
	stream   *fakeStream
}

func newFake(name string) *fakeConn {
	return &fakeConn{name: name, failOn: map[shadow.Path]error{}, unlockOK: true}
}

var _ shadowrpc.Conn = (*fakeConn)(nil)

func (f *fakeConn) Get(ctx context.Context, req *shadow.GetRequest) (*shadow.GetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, req)
	out := &shadow.GetResponse{Success: true}
	for _, p := range req.Paths {
		if err := f.failOn[p]; err != nil {
			return nil, err
		}
		out.Signals = append(out.Signals, &shadow.Signal{
			Path:  p,
			State: &shadow.State{Value: structpb.NewStringValue(f.name)},
		})
	}
	return out, nil
}

func (f *fakeConn) Set(ctx context.Context, req *shadow.SetRequest) (*shadow.SetResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, req)
	out := &shadow.SetResponse{Success: true}
	for _, s := range req.Signals {
		if err := f.failOn[s.Path]; err != nil {
			return nil, err
		}
		out.Results = append(out.Results, &shadow.SetResult{Path: s.Path, Success: true})
	}
	return out, nil
}

func (f *fakeConn) Subscribe(ctx context.Context, req *shadow.SubscribeRequest) (shadowrpc.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, req)
	if f.stream == nil {
		f.stream = newFakeStream(ctx)
	}
	return f.stream, nil
}

func (f *fakeConn) Unsubscribe(ctx context.Context, req *shadow.UnsubscribeRequest) (*shadow.UnsubscribeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, req)
	if f.unsubErr != nil {
		return nil, f.unsubErr
	}
	return &shadow.UnsubscribeResponse{Success: true}, nil
}

func (f *fakeConn) Lock(ctx context.Context, req *shadow.LockRequest) (*shadow.LockResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks = append(f.locks, req)
	return &shadow.LockResponse{Token: "token-from-" + f.name, Success: true}, nil
}

func (f *fakeConn) Unlock(ctx context.Context, req *shadow.UnlockRequest) (*shadow.UnlockResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocks = append(f.unlocks, req)
	return &shadow.UnlockResponse{Success: f.unlockOK}, nil
}

func (f *fakeConn) calls() (gets, sets, unlocks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.gets), len(f.sets), len(f.unlocks)
}

// fakeStream delivers pushed messages until its context ends.
type fakeStream struct {
	ctx  context.Context
	msgs chan *shadow.SubscribeResponse
}

func newFakeStream(ctx context.Context) *fakeStream {
	return &fakeStream{ctx: ctx, msgs: make(chan *shadow.SubscribeResponse, 8)}
}

func (s *fakeStream) push(m *shadow.SubscribeResponse) { s.msgs <- m }

func (s *fakeStream) Recv() (*shadow.SubscribeResponse, error) {
	select {
	case m, ok := <-s.msgs:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}
