package negotiation

import (
	"context"

	"github.com/nkondo/peerlink/internal/signaling"
)

// Signaler is what the engine needs from the signaling transport. It is
// injected rather than a package singleton so tests can substitute an
// in-memory fake. *signaling.Client satisfies it.
type Signaler interface {
	// Connect joins the named session and starts polling. Idempotent for
	// the same session.
	Connect(session string)

	// Disconnect leaves the session entirely.
	Disconnect()

	// StopNegotiation halts polling while keeping the session identity.
	StopNegotiation()

	// Send writes a message to the relay, best effort. Returns
	// signaling.ErrNotConnected when disconnected.
	Send(msg signaling.Message) error

	// IsOffering reports whether another peer already has an offer pending
	// for the session. False on query failure.
	IsOffering(ctx context.Context) bool

	// DeleteOwnMessages removes this side's pending relay records.
	DeleteOwnMessages(ctx context.Context)

	// OnMessage registers the callback receiving every polled message.
	OnMessage(fn func(signaling.Message))
}

var _ Signaler = (*signaling.Client)(nil)
