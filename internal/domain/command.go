package domain

import (
	"encoding/json"

	"github.com/bwmarrin/discordgo"
)

// Command names an RPC command. The core only interprets CmdDispatch; every
// other value is passed through to the server unchanged.
type Command string

const (
	CmdDispatch                Command = "DISPATCH"
	CmdAuthorize               Command = "AUTHORIZE"
	CmdAuthenticate            Command = "AUTHENTICATE"
	CmdGetGuild                Command = "GET_GUILD"
	CmdGetGuilds               Command = "GET_GUILDS"
	CmdGetChannel              Command = "GET_CHANNEL"
	CmdGetChannels             Command = "GET_CHANNELS"
	CmdGetUser                 Command = "GET_USER"
	CmdSubscribe               Command = "SUBSCRIBE"
	CmdUnsubscribe             Command = "UNSUBSCRIBE"
	CmdSetUserVoiceSettings    Command = "SET_USER_VOICE_SETTINGS"
	CmdSelectVoiceChannel      Command = "SELECT_VOICE_CHANNEL"
	CmdGetSelectedVoiceChannel Command = "GET_SELECTED_VOICE_CHANNEL"
	CmdSelectTextChannel       Command = "SELECT_TEXT_CHANNEL"
	CmdGetVoiceSettings        Command = "GET_VOICE_SETTINGS"
	CmdSetVoiceSettings        Command = "SET_VOICE_SETTINGS"
	CmdSetActivity             Command = "SET_ACTIVITY"
	CmdSendActivityJoinInvite  Command = "SEND_ACTIVITY_JOIN_INVITE"
	CmdCloseActivityRequest    Command = "CLOSE_ACTIVITY_JOIN_REQUEST"
	CmdSetCertifiedDevices     Command = "SET_CERTIFIED_DEVICES"
)

// EventName names a server-originated RPC event.
type EventName string

const (
	EvtReady               EventName = "READY"
	EvtError               EventName = "ERROR"
	EvtGuildStatus         EventName = "GUILD_STATUS"
	EvtGuildCreate         EventName = "GUILD_CREATE"
	EvtChannelCreate       EventName = "CHANNEL_CREATE"
	EvtVoiceChannelSelect  EventName = "VOICE_CHANNEL_SELECT"
	EvtVoiceStateCreate    EventName = "VOICE_STATE_CREATE"
	EvtVoiceStateUpdate    EventName = "VOICE_STATE_UPDATE"
	EvtVoiceStateDelete    EventName = "VOICE_STATE_DELETE"
	EvtVoiceSettingsUpdate EventName = "VOICE_SETTINGS_UPDATE"
	EvtVoiceConnStatus     EventName = "VOICE_CONNECTION_STATUS"
	EvtSpeakingStart       EventName = "SPEAKING_START"
	EvtSpeakingStop        EventName = "SPEAKING_STOP"
	EvtMessageCreate       EventName = "MESSAGE_CREATE"
	EvtMessageUpdate       EventName = "MESSAGE_UPDATE"
	EvtMessageDelete       EventName = "MESSAGE_DELETE"
	EvtNotificationCreate  EventName = "NOTIFICATION_CREATE"
	EvtActivityJoin        EventName = "ACTIVITY_JOIN"
	EvtActivitySpectate    EventName = "ACTIVITY_SPECTATE"
	EvtActivityJoinRequest EventName = "ACTIVITY_JOIN_REQUEST"
	EvtCurrentUserUpdate   EventName = "CURRENT_USER_UPDATE"
)

// OutgoingCommand is the envelope written for every request.
type OutgoingCommand struct {
	Cmd   Command         `json:"cmd"`
	Args  json.RawMessage `json:"args,omitempty"`
	Evt   EventName       `json:"evt,omitempty"`
	Nonce string          `json:"nonce"`
}

// IncomingCommand is the envelope received from the server. Nonce is empty for
// unsolicited dispatches.
type IncomingCommand struct {
	Cmd   Command         `json:"cmd"`
	Evt   EventName       `json:"evt,omitempty"`
	Nonce string          `json:"nonce,omitempty"`
	Args  json.RawMessage `json:"args,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// IsReady reports whether the message is the one-time READY dispatch.
func (c IncomingCommand) IsReady() bool {
	return c.Cmd == CmdDispatch && c.Evt == EvtReady
}

// IsError reports whether the message carries a server error.
func (c IncomingCommand) IsError() bool {
	return c.Evt == EvtError
}

// ServerConfig is the config block of the READY dispatch.
type ServerConfig struct {
	CDNHost     string `json:"cdn_host"`
	APIEndpoint string `json:"api_endpoint"`
	Environment string `json:"environment"`
}

// ReadyData is the payload of the READY dispatch.
type ReadyData struct {
	V      int             `json:"v"`
	Config ServerConfig    `json:"config"`
	User   *discordgo.User `json:"user,omitempty"`
}

// ErrorData is the payload of an ERROR event.
type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AuthorizeData is the AUTHORIZE response payload.
type AuthorizeData struct {
	Code string `json:"code"`
}

// AuthenticateData is the AUTHENTICATE response payload.
type AuthenticateData struct {
	Application *discordgo.Application `json:"application"`
	User        *discordgo.User        `json:"user"`
	Scopes      []string               `json:"scopes"`
	Expires     string                 `json:"expires"`
	AccessToken string                 `json:"access_token"`
}

// Handshake is the first payload sent over a local socket.
type Handshake struct {
	V        int    `json:"v"`
	ClientID string `json:"client_id"`
}

// ProtocolVersion is the RPC protocol version sent during the handshake.
const ProtocolVersion = 1
