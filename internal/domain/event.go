package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventKind identifies the kind of client notification being published.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventReady        EventKind = "ready"
	EventDebug        EventKind = "debug"
	EventDispatch     EventKind = "dispatch"
)

// Event is the envelope published on the event bus.
type Event struct {
	Kind      EventKind
	Timestamp time.Time

	// Name is the RPC event name for dispatch events.
	Name EventName
	// Data is the raw dispatch payload, or the debug payload for debug events.
	Data json.RawMessage
	// Message is a human readable note for debug and disconnected events.
	Message string
	// Err carries the cause for disconnected events.
	Err error
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus publishes events to subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(kind EventKind, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
	Close()
}
