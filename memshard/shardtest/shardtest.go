// Package shardtest is a conformance kit for shadowrpc.Service implementations.
package shardtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shadow/shadowrpc"
)

// NewService constructs a fresh, empty shard for a test.
// The returned service MUST be isolated from other tests.
type NewService func(t *testing.T) shadowrpc.Service

func RunServiceConformance(t *testing.T, newService NewService) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetGetRoundTrip", func(t *testing.T) {
		svc := newService(t)
		ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		set, err := svc.Set(ctx, &shadow.SetRequest{Signals: []*shadow.SetSignalRequest{
			{Path: "Vehicle.Speed", State: &shadow.State{Value: structpb.NewNumberValue(42), Timestamp: ts}},
		}})
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if !set.Success || len(set.Results) != 1 || !set.Results[0].Success {
			t.Fatalf("Set: unexpected response %+v", set)
		}

		got, err := svc.Get(ctx, &shadow.GetRequest{Paths: []shadow.Path{"Vehicle.Speed"}})
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(got.Signals) != 1 {
			t.Fatalf("Get: got %d signals want 1", len(got.Signals))
		}
		sig := got.Signals[0]
		if sig.Path != "Vehicle.Speed" || !proto.Equal(sig.State.Value, structpb.NewNumberValue(42)) {
			t.Fatalf("Get: got %s", shadow.FormatSignal(sig))
		}
		if !sig.State.Timestamp.Equal(ts) {
			t.Fatalf("Get: timestamp %v want %v", sig.State.Timestamp, ts)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		svc := newService(t)
		got, err := svc.Get(ctx, &shadow.GetRequest{Paths: []shadow.Path{"Vehicle.Missing"}})
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if len(got.Signals) != 0 || got.Success {
			t.Fatalf("Get missing: expected no signals and Success=false, got %+v", got)
		}
	})

	t.Run("LockExcludesOtherTokens", func(t *testing.T) {
		svc := newService(t)
		lock, err := svc.Lock(ctx, &shadow.LockRequest{Paths: []shadow.Path{"Vehicle.Door"}})
		if err != nil {
			t.Fatalf("Lock failed: %v", err)
		}
		if !lock.Success || lock.Token == "" {
			t.Fatalf("Lock: expected a token, got %+v", lock)
		}

		again, err := svc.Lock(ctx, &shadow.LockRequest{Paths: []shadow.Path{"Vehicle.Door"}})
		if err != nil {
			t.Fatalf("Lock(2) failed: %v", err)
		}
		if again.Success || again.Token != "" {
			t.Fatalf("Lock(2): expected refusal, got %+v", again)
		}

		st := &shadow.State{Value: structpb.NewBoolValue(true)}
		denied, err := svc.Set(ctx, &shadow.SetRequest{Signals: []*shadow.SetSignalRequest{{Path: "Vehicle.Door", State: st}}})
		if err != nil {
			t.Fatalf("Set without token failed: %v", err)
		}
		if denied.Success {
			t.Fatalf("Set without token must be refused on a locked path")
		}

		allowed, err := svc.Set(ctx, &shadow.SetRequest{Signals: []*shadow.SetSignalRequest{{Path: "Vehicle.Door", State: st}}, Token: lock.Token})
		if err != nil {
			t.Fatalf("Set with token failed: %v", err)
		}
		if !allowed.Success {
			t.Fatalf("Set with token refused: %+v", allowed)
		}

		unlock, err := svc.Unlock(ctx, &shadow.UnlockRequest{Token: lock.Token})
		if err != nil || !unlock.Success {
			t.Fatalf("Unlock: got (%+v, %v)", unlock, err)
		}
		free, err := svc.Set(ctx, &shadow.SetRequest{Signals: []*shadow.SetSignalRequest{{Path: "Vehicle.Door", State: st}}})
		if err != nil || !free.Success {
			t.Fatalf("Set after Unlock: got (%+v, %v)", free, err)
		}
	})

	t.Run("LockEmptyRejected", func(t *testing.T) {
		svc := newService(t)
		if _, err := svc.Lock(ctx, &shadow.LockRequest{}); !errors.Is(err, shadow.ErrInvalidInput) {
			t.Fatalf("Lock(empty): got %v want ErrInvalidInput", err)
		}
	})

	t.Run("UnlockUnknownTokenSucceeds", func(t *testing.T) {
		svc := newService(t)
		got, err := svc.Unlock(ctx, &shadow.UnlockRequest{Token: "issued-elsewhere"})
		if err != nil || !got.Success {
			t.Fatalf("Unlock(unknown): got (%+v, %v)", got, err)
		}
	})

	t.Run("SubscribeAndUnsubscribe", func(t *testing.T) {
		svc := newService(t)
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		received := make(chan *shadow.SubscribeResponse, 4)
		var wg sync.WaitGroup
		var subErr error
		wg.Add(1)
		go func() {
			defer wg.Done()
			subErr = svc.Subscribe(sctx, &shadow.SubscribeRequest{Paths: []shadow.Path{"Vehicle.Speed"}},
				func(m *shadow.SubscribeResponse) error {
					select {
					case received <- m:
					default:
					}
					return nil
				})
		}()

		// Retry until the subscription is registered and sees the write.
		var got *shadow.SubscribeResponse
		for got == nil {
			if _, err := svc.Set(ctx, &shadow.SetRequest{Signals: []*shadow.SetSignalRequest{
				{Path: "Vehicle.Speed", State: &shadow.State{Value: structpb.NewNumberValue(7)}},
			}}); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			select {
			case got = <-received:
			case <-time.After(20 * time.Millisecond):
			case <-sctx.Done():
				t.Fatalf("no update received")
			}
		}
		if len(got.Signals) != 1 || got.Signals[0].Path != "Vehicle.Speed" {
			t.Fatalf("Subscribe: unexpected update %+v", got)
		}

		resp, err := svc.Unsubscribe(ctx, &shadow.UnsubscribeRequest{Paths: []shadow.Path{"Vehicle.Speed"}})
		if err != nil || !resp.Success {
			t.Fatalf("Unsubscribe: got (%+v, %v)", resp, err)
		}
		wg.Wait()
		if subErr != nil {
			t.Fatalf("Subscribe returned %v after Unsubscribe, want nil", subErr)
		}
	})
}
