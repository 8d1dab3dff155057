package domain

import (
	"context"
	"encoding/json"
)

// TransportEventKind enumerates what a transport reports to its listener.
type TransportEventKind int

const (
	TransportOpen TransportEventKind = iota
	TransportMessage
	TransportPing
	TransportClose
	TransportError
)

func (k TransportEventKind) String() string {
	switch k {
	case TransportOpen:
		return "open"
	case TransportMessage:
		return "message"
	case TransportPing:
		return "ping"
	case TransportClose:
		return "close"
	case TransportError:
		return "error"
	default:
		return "unknown"
	}
}

// TransportEvent is delivered to a TransportListener.
type TransportEvent struct {
	Kind TransportEventKind
	// Message is set for TransportMessage.
	Message IncomingCommand
	// Payload is the raw ping payload for TransportPing.
	Payload json.RawMessage
	// Reason explains a TransportClose.
	Reason string
	// Err is set for TransportError, and for TransportClose when the
	// connection ended because of an I/O error.
	Err error
}

// TransportListener receives transport events. Events for one connection are
// delivered sequentially from the transport's read goroutine, so a listener
// must not block.
type TransportListener func(TransportEvent)

// Transport carries command envelopes between the client and a local
// Discord RPC server.
type Transport interface {
	// Name identifies the transport in logs ("ipc", "websocket").
	Name() string
	// Connect locates an endpoint, opens it and performs the handshake.
	// TransportClose is delivered exactly once for every successful Connect.
	Connect(ctx context.Context, listener TransportListener) error
	Send(ctx context.Context, cmd OutgoingCommand) error
	Ping(ctx context.Context) error
	// Close is a no-op if the transport was never opened.
	Close(ctx context.Context) error
	Connected() bool
}

// Platform names the OS family an endpoint applies to.
type Platform string

const (
	PlatformWindows  Platform = "windows"
	PlatformUnix     Platform = "unix"
	PlatformLoopback Platform = "loopback"
)

// Endpoint is one candidate address a transport may try.
type Endpoint struct {
	Address            string
	Platform           Platform
	SkipExistenceCheck bool
}
