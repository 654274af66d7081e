// Package shadow defines the data model shared by the vehicle signal shadow
// client and its shards: signal paths, states, the request/response messages
// of the SignalService and the sentinel errors callers match with errors.Is.
//
// Values carried in a State are opaque to this module. They are passed through
// exactly as the owning shard reported them.
package shadow
