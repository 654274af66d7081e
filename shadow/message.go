package shadow

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// State is the last known value of a signal together with the time the shard
// recorded it. Value is opaque: number, bool, string or null.
type State struct {
	Value     *structpb.Value
	Timestamp time.Time
}

// Signal pairs a path with its current state.
type Signal struct {
	Path  Path
	State *State
}

type GetRequest struct {
	Paths []Path
}

type GetResponse struct {
	Signals      []*Signal
	Success      bool
	ErrorMessage string
}

type SetSignalRequest struct {
	Path  Path
	State *State
}

type SetRequest struct {
	Signals []*SetSignalRequest
	// Token authorizes writes to locked paths. Empty when the caller holds no lock.
	Token string
}

// SetResult is the per-path outcome of a Set.
type SetResult struct {
	Path         Path
	Success      bool
	ErrorMessage string
}

type SetResponse struct {
	Results      []*SetResult
	Success      bool
	ErrorMessage string
}

type SubscribeRequest struct {
	Paths []Path
}

// SubscribeResponse is one push message on a subscription stream.
type SubscribeResponse struct {
	Signals []*Signal
}

type UnsubscribeRequest struct {
	Paths []Path
}

type UnsubscribeResponse struct {
	Success      bool
	ErrorMessage string
}

type LockRequest struct {
	Paths []Path
}

// LockResponse carries the token issued by the servicing shard. Token is
// empty when the lock was not granted.
type LockResponse struct {
	Token   string
	Success bool
}

type UnlockRequest struct {
	Token string
}

type UnlockResponse struct {
	Success bool
}

// NewState builds a State from a Go value accepted by structpb.NewValue.
func NewState(v any, ts time.Time) (*State, error) {
	val, err := structpb.NewValue(v)
	if err != nil {
		return nil, err
	}
	return &State{Value: val, Timestamp: ts}, nil
}
