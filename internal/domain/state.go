package domain

// ConnState is the lifecycle state of a client connection.
type ConnState int

const (
	StateIdle ConnState = iota
	StateConnecting
	StateAwaitingReady
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingReady:
		return "awaiting_ready"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
