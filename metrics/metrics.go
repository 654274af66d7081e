// Package metrics declares the instrumentation hooks of the routing client so
// that backends (Prometheus, or none) can be plugged in without the client
// depending on them.
package metrics

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	ObserveDuration()
}

// ClientMetrics receives routing client events. Labels are low-cardinality:
// method is the SignalService method name and shard is the binding prefix.
type ClientMetrics interface {
	// RPCDuration starts a timer for one per-shard RPC.
	RPCDuration(method, shard string) Timer
	// RPCCompleted counts a finished per-shard RPC.
	RPCCompleted(method, shard string, success bool)
	// Unresolved counts a path that no binding owns.
	Unresolved(op string)
	// SubscriptionOpened and SubscriptionClosed track live subscriptions.
	SubscriptionOpened(shard string)
	SubscriptionClosed(shard string)
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

type nopClientMetrics struct{}

func (nopClientMetrics) RPCDuration(string, string) Timer  { return NopTimer() }
func (nopClientMetrics) RPCCompleted(string, string, bool) {}
func (nopClientMetrics) Unresolved(string)                 {}
func (nopClientMetrics) SubscriptionOpened(string)         {}
func (nopClientMetrics) SubscriptionClosed(string)         {}

// Nop returns ClientMetrics that discards everything.
func Nop() ClientMetrics { return nopClientMetrics{} }

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }
