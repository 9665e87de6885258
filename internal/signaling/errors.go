package signaling

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation requires a connected
// transport. It is fatal to the call, never to the engine.
var ErrNotConnected = errors.New("signaling transport is not connected")

// RelayError wraps a network or HTTP failure on any relay call. Relay
// failures are transient: no call is retried in place, the next timer tick
// retries naturally.
type RelayError struct {
	Op  string // "write", "read", "isOffering" or "delete"
	Err error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay %s failed: %v", e.Op, e.Err)
}

func (e *RelayError) Unwrap() error { return e.Err }
