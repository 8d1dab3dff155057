package domain

import (
	"errors"
	"fmt"
)

// Transport discovery errors.
var (
	ErrCouldNotFindClient = fmt.Errorf("could not find a running discord client")
	ErrCouldNotConnect    = fmt.Errorf("could not connect to discord client")
)

// Protocol errors.
var (
	ErrProtocol      = fmt.Errorf("protocol error")
	ErrFrameTooLarge = fmt.Errorf("frame exceeds maximum size")
)

// Connection lifecycle errors.
var (
	ErrConnectionTimeout = fmt.Errorf("connection timed out")
	ErrConnectionEnded   = fmt.Errorf("connection ended")
	ErrNotConnected      = fmt.Errorf("not connected")
	ErrDuplicateNonce    = fmt.Errorf("nonce already pending")
	ErrDestroyed         = fmt.Errorf("client destroyed")
)

// Credential errors.
var (
	ErrMissingClientSecret    = fmt.Errorf("client secret required")
	ErrMalformedTokenResponse = fmt.Errorf("malformed token response")
	ErrCredentialNotFound     = fmt.Errorf("credential not found")
	ErrTokenExchange          = fmt.Errorf("token exchange failed")
)

// Configuration errors.
var (
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrDecryption   = fmt.Errorf("decryption failed")
	ErrInvalidInput = fmt.Errorf("invalid input")
	ErrRateLimit    = fmt.Errorf("rate limit exceeded")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Client.Connect")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ConnectionEndedError rejects every request pending when the transport closed.
type ConnectionEndedError struct {
	Reason string
}

func (e *ConnectionEndedError) Error() string {
	if e.Reason == "" {
		return ErrConnectionEnded.Error()
	}
	return fmt.Sprintf("%s: %s", ErrConnectionEnded, e.Reason)
}

func (e *ConnectionEndedError) Unwrap() error { return ErrConnectionEnded }

// RPCError is a server-reported command error correlated by nonce.
type RPCError struct {
	Code    RPCErrorCode
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d (%s): %s", int(e.Code), e.Code, e.Message)
}

// RPCErrorCode is the numeric code carried by an ERROR event.
type RPCErrorCode int

const (
	RPCUnknownError                    RPCErrorCode = 1000
	RPCInvalidPayload                  RPCErrorCode = 4000
	RPCInvalidCommand                  RPCErrorCode = 4002
	RPCInvalidGuild                    RPCErrorCode = 4003
	RPCInvalidEvent                    RPCErrorCode = 4004
	RPCInvalidChannel                  RPCErrorCode = 4005
	RPCInvalidPermission               RPCErrorCode = 4006
	RPCInvalidClientID                 RPCErrorCode = 4007
	RPCInvalidOrigin                   RPCErrorCode = 4008
	RPCInvalidToken                    RPCErrorCode = 4009
	RPCInvalidUser                     RPCErrorCode = 4010
	RPCOAuth2Error                     RPCErrorCode = 5000
	RPCSelectChannelTimeout            RPCErrorCode = 5001
	RPCGetGuildTimeout                 RPCErrorCode = 5002
	RPCSelectVoiceForceRequired        RPCErrorCode = 5003
	RPCCaptureShortcutAlreadyListening RPCErrorCode = 5004
)

var rpcErrorNames = map[RPCErrorCode]string{
	RPCUnknownError:                    "UNKNOWN_ERROR",
	RPCInvalidPayload:                  "INVALID_PAYLOAD",
	RPCInvalidCommand:                  "INVALID_COMMAND",
	RPCInvalidGuild:                    "INVALID_GUILD",
	RPCInvalidEvent:                    "INVALID_EVENT",
	RPCInvalidChannel:                  "INVALID_CHANNEL",
	RPCInvalidPermission:               "INVALID_PERMISSION",
	RPCInvalidClientID:                 "INVALID_CLIENT_ID",
	RPCInvalidOrigin:                   "INVALID_ORIGIN",
	RPCInvalidToken:                    "INVALID_TOKEN",
	RPCInvalidUser:                     "INVALID_USER",
	RPCOAuth2Error:                     "OAUTH2_ERROR",
	RPCSelectChannelTimeout:            "SELECT_CHANNEL_TIMEOUT",
	RPCGetGuildTimeout:                 "GET_GUILD_TIMEOUT",
	RPCSelectVoiceForceRequired:        "SELECT_VOICE_FORCE_REQUIRED",
	RPCCaptureShortcutAlreadyListening: "CAPTURE_SHORTCUT_ALREADY_LISTENING",
}

func (c RPCErrorCode) String() string {
	if name, ok := rpcErrorNames[c]; ok {
		return name
	}
	return "UNKNOWN"
}

// RPCCloseCode is sent by the server when it closes the connection.
type RPCCloseCode int

const (
	CloseInvalidClientID RPCCloseCode = 4000
	CloseInvalidOrigin   RPCCloseCode = 4001
	CloseRateLimited     RPCCloseCode = 4002
	CloseTokenRevoked    RPCCloseCode = 4003
	CloseInvalidVersion  RPCCloseCode = 4004
	CloseInvalidEncoding RPCCloseCode = 4005
)

func (c RPCCloseCode) String() string {
	switch c {
	case CloseInvalidClientID:
		return "INVALID_CLIENT_ID"
	case CloseInvalidOrigin:
		return "INVALID_ORIGIN"
	case CloseRateLimited:
		return "RATE_LIMITED"
	case CloseTokenRevoked:
		return "TOKEN_REVOKED"
	case CloseInvalidVersion:
		return "INVALID_VERSION"
	case CloseInvalidEncoding:
		return "INVALID_ENCODING"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown                ErrorCode = "UNKNOWN"
	CodeCouldNotFindClient     ErrorCode = "COULD_NOT_FIND_CLIENT"
	CodeCouldNotConnect        ErrorCode = "COULD_NOT_CONNECT"
	CodeProtocol               ErrorCode = "PROTOCOL"
	CodeFrameTooLarge          ErrorCode = "FRAME_TOO_LARGE"
	CodeConnectionTimeout      ErrorCode = "CONNECTION_TIMEOUT"
	CodeConnectionEnded        ErrorCode = "CONNECTION_ENDED"
	CodeNotConnected           ErrorCode = "NOT_CONNECTED"
	CodeDuplicateNonce         ErrorCode = "DUPLICATE_NONCE"
	CodeDestroyed              ErrorCode = "DESTROYED"
	CodeMissingClientSecret    ErrorCode = "MISSING_CLIENT_SECRET"
	CodeMalformedTokenResponse ErrorCode = "MALFORMED_TOKEN_RESPONSE"
	CodeCredentialNotFound     ErrorCode = "CREDENTIAL_NOT_FOUND"
	CodeTokenExchange          ErrorCode = "TOKEN_EXCHANGE"
	CodeConfigLoad             ErrorCode = "CONFIG_LOAD"
	CodeDecryption             ErrorCode = "DECRYPTION"
	CodeInvalidInput           ErrorCode = "INVALID_INPUT"
	CodeRateLimit              ErrorCode = "RATE_LIMIT"
	CodeRPCError               ErrorCode = "RPC_ERROR"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrCouldNotFindClient:     CodeCouldNotFindClient,
	ErrCouldNotConnect:        CodeCouldNotConnect,
	ErrProtocol:               CodeProtocol,
	ErrFrameTooLarge:          CodeFrameTooLarge,
	ErrConnectionTimeout:      CodeConnectionTimeout,
	ErrConnectionEnded:        CodeConnectionEnded,
	ErrNotConnected:           CodeNotConnected,
	ErrDuplicateNonce:         CodeDuplicateNonce,
	ErrDestroyed:              CodeDestroyed,
	ErrMissingClientSecret:    CodeMissingClientSecret,
	ErrMalformedTokenResponse: CodeMalformedTokenResponse,
	ErrCredentialNotFound:     CodeCredentialNotFound,
	ErrTokenExchange:          CodeTokenExchange,
	ErrConfigLoad:             CodeConfigLoad,
	ErrDecryption:             CodeDecryption,
	ErrInvalidInput:           CodeInvalidInput,
	ErrRateLimit:              CodeRateLimit,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return CodeRPCError
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
