// Package message defines the JSON envelopes exchanged with the peer.
//
// Envelope is what the client sends inside an OpFrame; Notification is the
// decoded form of everything the peer sends back (command replies and
// unsolicited events alike). Replies echo the request nonce; events have none.
package message

import (
	"encoding/json"
	"errors"
	"time"

	"presence-rpc/rpcerror"
)

// Command names a peer command ("cmd" field).
type Command string

const (
	CmdDispatch     Command = "DISPATCH" // Peer → client events
	CmdAuthorize    Command = "AUTHORIZE"
	CmdAuthenticate Command = "AUTHENTICATE"
	CmdSubscribe    Command = "SUBSCRIBE"
	CmdUnsubscribe  Command = "UNSUBSCRIBE"
	CmdSetActivity  Command = "SET_ACTIVITY"
	CmdGetGuilds    Command = "GET_GUILDS"
	CmdGetChannels  Command = "GET_CHANNELS"
)

// Event names an event type ("evt" field).
type Event string

const (
	EvtReady              Event = "READY"
	EvtError              Event = "ERROR"
	EvtGuildStatus        Event = "GUILD_STATUS"
	EvtGuildCreate        Event = "GUILD_CREATE"
	EvtChannelCreate      Event = "CHANNEL_CREATE"
	EvtVoiceChannelSelect Event = "VOICE_CHANNEL_SELECT"
	EvtVoiceStateCreate   Event = "VOICE_STATE_CREATE"
	EvtVoiceStateUpdate   Event = "VOICE_STATE_UPDATE"
	EvtVoiceStateDelete   Event = "VOICE_STATE_DELETE"
	EvtVoiceSettings      Event = "VOICE_SETTINGS_UPDATE"
	EvtVoiceConnection    Event = "VOICE_CONNECTION_STATUS"
	EvtSpeakingStart      Event = "SPEAKING_START"
	EvtSpeakingStop       Event = "SPEAKING_STOP"
	EvtMessageCreate      Event = "MESSAGE_CREATE"
	EvtMessageUpdate      Event = "MESSAGE_UPDATE"
	EvtMessageDelete      Event = "MESSAGE_DELETE"
	EvtNotificationCreate Event = "NOTIFICATION_CREATE"
	EvtActivityJoin       Event = "ACTIVITY_JOIN"
	EvtActivitySpectate   Event = "ACTIVITY_SPECTATE"
	EvtActivityJoinReq    Event = "ACTIVITY_JOIN_REQUEST"
)

// ErrInvalidArgs is wrapped by every Validate failure.
var ErrInvalidArgs = errors.New("invalid command arguments")

// Envelope is one request. It is serialized into the payload of a single frame.
type Envelope struct {
	Cmd   Command `json:"cmd"`
	Nonce string  `json:"nonce,omitempty"`
	Evt   Event   `json:"evt,omitempty"`
	Args  any     `json:"args,omitempty"`
}

// Notification is a decoded reply or event delivered by the receive path.
//
//   - Reply:  Nonce echoes the request, Cmd is the command name.
//   - Event:  Nonce is empty, Cmd is DISPATCH (or ERROR replies to handshakes).
//
// Payload keeps the raw bytes so error replies can be translated verbatim.
type Notification struct {
	Nonce   string
	Cmd     Command
	Evt     Event
	IsError bool
	Data    json.RawMessage
	Payload []byte
}

type wireReply struct {
	Cmd   Command         `json:"cmd"`
	Evt   Event           `json:"evt"`
	Nonce string          `json:"nonce"`
	Data  json.RawMessage `json:"data"`
}

// ParseNotification decodes the payload of an OpFrame.
// A payload that is not a JSON object is a malformed error.
func ParseNotification(payload []byte) (Notification, error) {
	var w wireReply
	if err := json.Unmarshal(payload, &w); err != nil {
		return Notification{}, rpcerror.Malformed("notification", payload, err)
	}
	return Notification{
		Nonce:   w.Nonce,
		Cmd:     w.Cmd,
		Evt:     w.Evt,
		IsError: w.Evt == EvtError,
		Data:    w.Data,
		Payload: payload,
	}, nil
}

// PeekNonce extracts only the nonce from a payload ParseNotification
// rejected. It returns "" when the nonce itself is missing or unreadable.
func PeekNonce(payload []byte) string {
	var w struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(payload, &w); err != nil {
		return ""
	}
	return w.Nonce
}

// Call is what flows through the client middleware chain: one envelope plus
// how the engine should wait for it.
type Call struct {
	Envelope  *Envelope
	Async     bool          // Return after send; no waiter is registered
	Unbounded bool          // Wait without the client timeout (ctx still applies)
	Timeout   time.Duration // Bounded wait; resolved by the client from its default
}
