// Package transport implements the wire adapters that make heterogeneous
// backends look identical to the router: a stdio child process, an in-process
// server, a remote SSE endpoint and a remote streamable HTTP endpoint all
// satisfy the same Transport interface. Adapters frame bytes into discrete
// JSON-RPC messages and carry no request state; correlation is the router's
// concern.
package transport

import (
	"context"

	"golang.org/x/exp/jsonrpc2"
)

// frameBuffer is the capacity of each adapter's inbound frame channel.
// A full buffer applies backpressure to the read pump, never to other
// transports.
const frameBuffer = 100

// Transport is the uniform capability over one backend connection.
//
// The lifecycle is: Start establishes the connection, Frames delivers inbound
// messages until the peer disconnects, Done is closed exactly once when the
// transport terminates for any reason, and Err reports the terminal reason
// after Done is closed (nil for a clean local Close).
type Transport interface {
	// Start establishes the connection or spawns the process. It must be
	// called once, before any Send.
	Start(ctx context.Context) error

	// Send writes one message to the peer. It fails if the transport is
	// closed or the peer rejected the write. Implementations bound the time
	// a write may block; a stalled peer fails the whole transport.
	Send(ctx context.Context, msg jsonrpc2.Message) error

	// Frames returns the inbound message channel. It is closed when the
	// peer disconnects or the transport is closed. Frames are delivered in
	// arrival order.
	Frames() <-chan jsonrpc2.Message

	// Done is closed when the transport has fully terminated.
	Done() <-chan struct{}

	// Err returns the terminal error once Done is closed. A nil result
	// means the transport was closed locally.
	Err() error

	// Close tears the transport down. It is idempotent and safe to call
	// from any goroutine.
	Close() error
}
