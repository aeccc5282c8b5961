package presentment

import "context"

// TransportState mirrors the underlying BLE/NFC/HTTP mechanism's
// connection lifecycle. Concrete transports live outside this module
// (spec out-of-scope); Transport is the narrow contract the request
// loop needs from whichever one the host wires in.
type TransportState int

const (
	TransportConnecting TransportState = iota
	TransportConnected
	TransportFailed
	TransportClosed
)

// Transport is the narrow surface Iso18013Presentment depends on: wait
// for a connection, exchange opaque session-encrypted frames, and
// close exactly once. A concrete BLE/NFC/HTTP mechanism implements
// this; this module never constructs one.
type Transport interface {
	// State returns the transport's current connection state.
	State() TransportState

	// WaitConnected blocks until State() is Connected, Failed or
	// Closed, or ctx is canceled.
	WaitConnected(ctx context.Context) (TransportState, error)

	// Receive blocks for the next inbound frame, honoring ctx's
	// deadline. Implementations return context.DeadlineExceeded on
	// timeout; the request loop translates that into
	// model.ErrPresentmentTimeout.
	Receive(ctx context.Context) ([]byte, error)

	// Send writes an outbound frame.
	Send(ctx context.Context, frame []byte) error

	// Close releases the transport. Close is idempotent.
	Close() error
}
