package discordrpc

import "discord-rpc/internal/domain"

// Re-exported domain types for library callers.
type (
	Event          = domain.Event
	EventKind      = domain.EventKind
	Handler        = domain.EventHandler
	Command        = domain.Command
	EventName      = domain.EventName
	ConnState      = domain.ConnState
	Activity       = domain.Activity
	ActivityButton = domain.ActivityButton
	Credential     = domain.Credential
	Transport      = domain.Transport
	TokenExchanger = domain.TokenExchanger
	Store          = domain.CredentialStore

	RPCError             = domain.RPCError
	RPCErrorCode         = domain.RPCErrorCode
	RPCCloseCode         = domain.RPCCloseCode
	ConnectionEndedError = domain.ConnectionEndedError
)

// Notification kinds accepted by On.
const (
	EventConnected    = domain.EventConnected
	EventDisconnected = domain.EventDisconnected
	EventReady        = domain.EventReady
	EventDebug        = domain.EventDebug
	EventDispatch     = domain.EventDispatch
)

// Connection states.
const (
	StateIdle          = domain.StateIdle
	StateConnecting    = domain.StateConnecting
	StateAwaitingReady = domain.StateAwaitingReady
	StateConnected     = domain.StateConnected
	StateDisconnected  = domain.StateDisconnected
)

// Errors callers are expected to match with errors.Is.
var (
	ErrCouldNotFindClient     = domain.ErrCouldNotFindClient
	ErrCouldNotConnect        = domain.ErrCouldNotConnect
	ErrConnectionTimeout      = domain.ErrConnectionTimeout
	ErrConnectionEnded        = domain.ErrConnectionEnded
	ErrNotConnected           = domain.ErrNotConnected
	ErrDestroyed              = domain.ErrDestroyed
	ErrMissingClientSecret    = domain.ErrMissingClientSecret
	ErrMalformedTokenResponse = domain.ErrMalformedTokenResponse
)
