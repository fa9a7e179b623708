// Package netio specifies the point-to-point transport spec.md §1/§4.5
// treats as an external collaborator, and provides one reference
// implementation sufficient to run the protocol end-to-end: a
// length-prefixed gob stream over TCP, one connection per peer.
package netio

import (
	"context"

	"github.com/rbc-go/rbc/types"
	"github.com/rbc-go/rbc/wire"
)

// CancelHandle lets a caller request cancellation of an in-flight send
// (spec.md §4.1, §5: "best-effort, no durability contract"). Dropping
// it without calling Cancel is also valid; Context retains handles
// only so a clean shutdown can cancel everything outstanding.
type CancelHandle interface {
	Cancel()
}

// Sender delivers wrapped frames to peers. Implementations must be
// safe for the dispatcher goroutine to call repeatedly without
// synchronizing with themselves (the dispatcher is single-threaded per
// spec.md §4.1, so Sender need not be goroutine-safe against itself,
// only against its own background workers).
type Sender interface {
	// Send enqueues w for delivery to replica. It returns immediately
	// with a handle that can cancel the in-flight send.
	Send(ctx context.Context, replica types.Replica, w wire.Wrapper) CancelHandle
	// Close stops every per-peer worker, cancelling outstanding sends.
	Close() error
}

// Receiver is the inbound half: a channel of wrapped frames that
// arrived from any peer, plus the sender's network-level address
// (used only for logging, never trusted for authentication — spec.md
// §4.5 authenticates via MAC, not origin address).
type Receiver interface {
	Inbound() <-chan InboundFrame
	Close() error
}

// InboundFrame is one frame as it arrives off the wire, still carrying
// whatever remote address the transport saw it from.
type InboundFrame struct {
	Wrapper    wire.Wrapper
	RemoteAddr string
}
