package shadow

import "errors"

var (
	// ErrNotFound reports that no shard binding owns a required path.
	ErrNotFound = errors.New("shadow: not found")
	// ErrInvalidInput reports a malformed request, e.g. an empty lock path list.
	ErrInvalidInput = errors.New("shadow: invalid input")
	// ErrTransport wraps a failed per-shard RPC.
	ErrTransport = errors.New("shadow: transport failure")
	// ErrNotImplemented reports a capability the shard does not provide.
	ErrNotImplemented = errors.New("shadow: not implemented")
	// ErrLocked reports that a shard refused an operation because another token holds the lock.
	ErrLocked = errors.New("shadow: locked")
	// ErrClosed reports use of a closed client.
	ErrClosed = errors.New("shadow: client closed")
)

func IsNotFound(err error) bool       { return errors.Is(err, ErrNotFound) }
func IsInvalidInput(err error) bool   { return errors.Is(err, ErrInvalidInput) }
func IsTransport(err error) bool      { return errors.Is(err, ErrTransport) }
func IsNotImplemented(err error) bool { return errors.Is(err, ErrNotImplemented) }
