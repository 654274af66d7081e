package memshard

import (
	"context"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"vshadow.io/vss/memshard/shardtest"
	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shadow/shadowrpc"
)

func TestShardConformance(t *testing.T) {
	shardtest.RunServiceConformance(t, func(t *testing.T) shadowrpc.Service {
		return New(Options{})
	})
}

func TestSetStampsMissingTimestamp(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	s := New(Options{Now: func() time.Time { return now }})
	ctx := context.Background()

	_, err := s.Set(ctx, &shadow.SetRequest{Signals: []*shadow.SetSignalRequest{
		{Path: "Vehicle.Speed", State: &shadow.State{Value: structpb.NewNumberValue(1)}},
	}})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, &shadow.GetRequest{Paths: []shadow.Path{"Vehicle.Speed"}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Signals[0].State.Timestamp.Equal(now) {
		t.Fatalf("timestamp: got %v want %v", got.Signals[0].State.Timestamp, now)
	}
}

func TestSetRejectsInvalidPath(t *testing.T) {
	s := New(Options{})
	resp, err := s.Set(context.Background(), &shadow.SetRequest{Signals: []*shadow.SetSignalRequest{
		{Path: "Vehicle..Speed", State: &shadow.State{Value: structpb.NewNumberValue(1)}},
		{Path: "Vehicle.Speed"},
	}})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if resp.Success || len(resp.Results) != 2 || resp.Results[0].Success || resp.Results[1].Success {
		t.Fatalf("Set: expected both results to fail, got %+v", resp)
	}
}

func TestLockExpires(t *testing.T) {
	s := New(Options{LockTTL: 20 * time.Millisecond})
	ctx := context.Background()

	first, err := s.Lock(ctx, &shadow.LockRequest{Paths: []shadow.Path{"Vehicle.Door"}})
	if err != nil || !first.Success {
		t.Fatalf("Lock: got (%+v, %v)", first, err)
	}
	time.Sleep(50 * time.Millisecond)

	second, err := s.Lock(ctx, &shadow.LockRequest{Paths: []shadow.Path{"Vehicle.Door"}})
	if err != nil || !second.Success {
		t.Fatalf("Lock after expiry: got (%+v, %v)", second, err)
	}
	if second.Token == first.Token {
		t.Fatalf("expected a fresh token")
	}
}

func TestLockIsAllOrNothing(t *testing.T) {
	s := New(Options{})
	ctx := context.Background()
	if _, err := s.Lock(ctx, &shadow.LockRequest{Paths: []shadow.Path{"B"}}); err != nil {
		t.Fatalf("Lock(B): %v", err)
	}
	resp, err := s.Lock(ctx, &shadow.LockRequest{Paths: []shadow.Path{"A", "B"}})
	if err != nil {
		t.Fatalf("Lock(A,B): %v", err)
	}
	if resp.Success {
		t.Fatalf("Lock(A,B) must fail while B is held")
	}
	if s.holder("A") != "" {
		t.Fatalf("A must stay unlocked after a refused lock")
	}
}

func TestSubscribeSendsCurrentValue(t *testing.T) {
	s := New(Options{})
	s.Put("Vehicle.Speed", &shadow.State{Value: structpb.NewNumberValue(3)})

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan *shadow.SubscribeResponse, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- s.Subscribe(ctx, &shadow.SubscribeRequest{Paths: []shadow.Path{"Vehicle.Speed"}},
			func(m *shadow.SubscribeResponse) error {
				got <- m
				return nil
			})
	}()

	select {
	case m := <-got:
		if len(m.Signals) != 1 || m.Signals[0].Path != "Vehicle.Speed" {
			t.Fatalf("initial update: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no initial update")
	}
	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("Subscribe: got %v want context.Canceled", err)
	}
}
