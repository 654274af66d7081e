package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shard"
)

func signalPaths(sigs []*shadow.Signal) []shadow.Path {
	out := make([]shadow.Path, 0, len(sigs))
	for _, s := range sigs {
		out = append(out, s.Path)
	}
	return out
}

func samePaths(a, b []shadow.Path) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func setReqs(paths ...string) []*shadow.SetSignalRequest {
	out := make([]*shadow.SetSignalRequest, 0, len(paths))
	for _, p := range paths {
		out = append(out, &shadow.SetSignalRequest{
			Path:  shadow.Path(p),
			State: &shadow.State{Value: structpb.NewNumberValue(1)},
		})
	}
	return out
}

func TestGetSignals_SkipsUnresolvedSilently(t *testing.T) {
	a := newFake("a")
	c := New()
	c.Attach("A.", "a", a)

	resp, err := c.GetSignals(context.Background(), shadow.Paths("A.x", "Z.y"))
	if err != nil {
		t.Fatalf("GetSignals: %v", err)
	}
	if !resp.Success || resp.ErrorMessage != "" {
		t.Fatalf("GetSignals: expected clean success, got %+v", resp)
	}
	if got := signalPaths(resp.Signals); !samePaths(got, shadow.Paths("A.x")) {
		t.Fatalf("GetSignals: got paths %v want [A.x]", got)
	}
	if len(a.gets) != 1 || !samePaths(a.gets[0].Paths, shadow.Paths("A.x")) {
		t.Fatalf("expected one single-path Get for A.x, got %+v", a.gets)
	}
}

func TestGetSignals_FailUnresolvedPolicy(t *testing.T) {
	a := newFake("a")
	c := New(WithUnresolvedPolicy(FailUnresolved))
	c.Attach("A.", "a", a)

	_, err := c.GetSignals(context.Background(), shadow.Paths("A.x", "Z.y"))
	if !errors.Is(err, shadow.ErrNotFound) {
		t.Fatalf("GetSignals: got %v want ErrNotFound", err)
	}
	if gets, _, _ := a.calls(); gets != 0 {
		t.Fatalf("strict mode must fail before any RPC, saw %d", gets)
	}
}

func TestGetSignals_OnePathPerRPCInInputOrder(t *testing.T) {
	a, b := newFake("a"), newFake("b")
	c := New()
	c.Attach("A.", "a", a)
	c.Attach("B.", "b", b)

	resp, err := c.GetSignals(context.Background(), shadow.Paths("B.1", "A.1", "B.2"))
	if err != nil {
		t.Fatalf("GetSignals: %v", err)
	}
	if got := signalPaths(resp.Signals); !samePaths(got, shadow.Paths("B.1", "A.1", "B.2")) {
		t.Fatalf("order: got %v", got)
	}
	wantShard := []string{"b", "a", "b"}
	for i, s := range resp.Signals {
		if s.State.Value.GetStringValue() != wantShard[i] {
			t.Fatalf("signal %d served by %q want %q", i, s.State.Value.GetStringValue(), wantShard[i])
		}
	}
	if ag, _, _ := a.calls(); ag != 1 {
		t.Fatalf("shard a: got %d Gets want 1", ag)
	}
	if bg, _, _ := b.calls(); bg != 2 {
		t.Fatalf("shard b: got %d Gets want 2 (no batching)", bg)
	}
}

func TestGetSignals_FailFast(t *testing.T) {
	a := newFake("a")
	a.failOn["A.2"] = errors.New("connection reset")
	c := New()
	c.Attach("A.", "a", a)

	resp, err := c.GetSignals(context.Background(), shadow.Paths("A.1", "A.2", "A.3"))
	if !errors.Is(err, shadow.ErrTransport) {
		t.Fatalf("GetSignals: got %v want ErrTransport", err)
	}
	if resp != nil {
		t.Fatalf("GetSignals: expected no response on failure, got %+v", resp)
	}
	if gets, _, _ := a.calls(); gets != 2 {
		t.Fatalf("expected the batch to stop after the failing path, saw %d Gets", gets)
	}
}

type unhappyConn struct {
	*fakeConn
}

func (u unhappyConn) Get(ctx context.Context, req *shadow.GetRequest) (*shadow.GetResponse, error) {
	return &shadow.GetResponse{Success: false, ErrorMessage: fmt.Sprintf("signal %s not found", req.Paths[0])}, nil
}

func TestGetSignals_MergesShardStatus(t *testing.T) {
	c := New()
	c.Attach("A.", "a", newFake("a"))
	c.Attach("B.", "b", unhappyConn{newFake("b")})
	c.Attach("C.", "c", unhappyConn{newFake("c")})

	resp, err := c.GetSignals(context.Background(), shadow.Paths("A.1", "B.1", "C.1"))
	if err != nil {
		t.Fatalf("GetSignals: %v", err)
	}
	if resp.Success {
		t.Fatalf("Success must be false when a shard reports failure")
	}
	if want := "signal B.1 not found; signal C.1 not found"; resp.ErrorMessage != want {
		t.Fatalf("ErrorMessage: got %q want %q", resp.ErrorMessage, want)
	}
	if len(resp.Signals) != 1 {
		t.Fatalf("expected A.1 only, got %v", signalPaths(resp.Signals))
	}
}

func TestGetSignals_NoResolvedPaths(t *testing.T) {
	c := New()
	resp, err := c.GetSignals(context.Background(), shadow.Paths("A.1"))
	if err != nil {
		t.Fatalf("GetSignals: %v", err)
	}
	if !resp.Success || resp.Signals == nil || len(resp.Signals) != 0 {
		t.Fatalf("expected empty successful response, got %+v", resp)
	}
}

func TestSetSignals_CarriesTokenAndKeepsPartialResults(t *testing.T) {
	a, b := newFake("a"), newFake("b")
	b.failOn["B.1"] = errors.New("unavailable")
	c := New()
	c.Attach("A.", "a", a)
	c.Attach("B.", "b", b)

	resp, err := c.SetSignals(context.Background(), setReqs("A.1", "Z.9", "B.1", "A.2"), "tok")
	if !errors.Is(err, shadow.ErrTransport) {
		t.Fatalf("SetSignals: got %v want ErrTransport", err)
	}
	if resp == nil {
		t.Fatalf("SetSignals: expected a partial response")
	}
	if len(resp.Results) != 1 || resp.Results[0].Path != "A.1" {
		t.Fatalf("partial results: got %+v want [A.1]", resp.Results)
	}
	if resp.Success {
		t.Fatalf("partial response must not report success")
	}
	// A.1 stays written: no rollback.
	if _, sets, _ := a.calls(); sets != 1 {
		t.Fatalf("shard a: got %d Sets want 1 (A.2 must not be issued)", sets)
	}
	for _, f := range []*fakeConn{a, b} {
		for _, req := range f.sets {
			if req.Token != "tok" {
				t.Fatalf("shard %s: token %q want tok", f.name, req.Token)
			}
			if len(req.Signals) != 1 {
				t.Fatalf("shard %s: expected single-signal Set, got %d", f.name, len(req.Signals))
			}
		}
	}
}

func TestSetSignals_Success(t *testing.T) {
	a, b := newFake("a"), newFake("b")
	c := New()
	c.Attach("A.", "a", a)
	c.Attach("B.", "b", b)

	resp, err := c.SetSignals(context.Background(), setReqs("B.1", "A.1"), "")
	if err != nil {
		t.Fatalf("SetSignals: %v", err)
	}
	if !resp.Success || len(resp.Results) != 2 || resp.Results[0].Path != "B.1" || resp.Results[1].Path != "A.1" {
		t.Fatalf("SetSignals: unexpected response %+v", resp)
	}
	if b.sets[0].Token != "" {
		t.Fatalf("expected empty token without a lock")
	}
}

func TestSetSignals_RejectsNilSignal(t *testing.T) {
	c := New()
	c.Attach("A.", "a", newFake("a"))
	_, err := c.SetSignals(context.Background(), []*shadow.SetSignalRequest{nil}, "")
	if !errors.Is(err, shadow.ErrInvalidInput) {
		t.Fatalf("SetSignals(nil): got %v want ErrInvalidInput", err)
	}
}

func TestParallelism_PreservesInputOrder(t *testing.T) {
	shards := []*fakeConn{newFake("a"), newFake("b"), newFake("c")}
	c := New(WithParallelism(4))
	c.Attach("A.", "a", shards[0])
	c.Attach("B.", "b", shards[1])
	c.Attach("C.", "c", shards[2])

	var paths []shadow.Path
	for i := 0; i < 30; i++ {
		paths = append(paths, shadow.Path(fmt.Sprintf("%c.%d", 'A'+rune(i%3), i)))
	}
	resp, err := c.GetSignals(context.Background(), paths)
	if err != nil {
		t.Fatalf("GetSignals: %v", err)
	}
	if got := signalPaths(resp.Signals); !samePaths(got, paths) {
		t.Fatalf("parallel order: got %v want %v", got, paths)
	}
}

func TestParallelism_FailureAborts(t *testing.T) {
	a := newFake("a")
	a.failOn["A.3"] = errors.New("boom")
	c := New(WithParallelism(2))
	c.Attach("A.", "a", a)

	_, err := c.SetSignals(context.Background(), setReqs("A.1", "A.2", "A.3", "A.4"), "")
	if !errors.Is(err, shadow.ErrTransport) {
		t.Fatalf("SetSignals: got %v want ErrTransport", err)
	}
}

type blockingConn struct {
	*fakeConn
}

func (b blockingConn) Get(ctx context.Context, req *shadow.GetRequest) (*shadow.GetResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCallTimeout(t *testing.T) {
	c := New(WithCallTimeout(10 * time.Millisecond))
	c.Attach("A.", "a", blockingConn{newFake("a")})

	_, err := c.GetSignals(context.Background(), shadow.Paths("A.1"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GetSignals: got %v want DeadlineExceeded", err)
	}
	if !errors.Is(err, shadow.ErrTransport) {
		t.Fatalf("GetSignals: %v must match ErrTransport", err)
	}
}

func TestCanceledContextIssuesNoRPC(t *testing.T) {
	a := newFake("a")
	c := New()
	c.Attach("A.", "a", a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetSignals(ctx, shadow.Paths("A.1", "A.2"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("GetSignals: got %v want context.Canceled", err)
	}
	if gets, _, _ := a.calls(); gets != 0 {
		t.Fatalf("expected no RPC after cancellation, saw %d", gets)
	}
}

func TestClosedClient(t *testing.T) {
	c := New()
	c.Attach("A.", "a", newFake("a"))
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := c.GetSignals(context.Background(), shadow.Paths("A.1")); !errors.Is(err, shadow.ErrClosed) {
		t.Fatalf("GetSignals after Close: got %v want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSegmentMatchMode(t *testing.T) {
	body, body1 := newFake("body"), newFake("body1")
	c := New(WithMatchMode(shard.MatchSegment))
	c.Attach("Body", "a", body)
	c.Attach("Body1", "b", body1)

	resp, err := c.GetSignals(context.Background(), shadow.Paths("Body1.X"))
	if err != nil {
		t.Fatalf("GetSignals: %v", err)
	}
	if len(resp.Signals) != 1 || resp.Signals[0].State.Value.GetStringValue() != "body1" {
		t.Fatalf("segment mode: Body1.X must route to Body1, got %+v", resp.Signals)
	}
}
