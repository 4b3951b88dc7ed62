package rpcerror

import (
	"encoding/json"
	"errors"
)

// Error codes the peer reports in ERROR events.
const (
	CodeUnknownError         = 1000
	CodeInvalidPayload       = 4000
	CodeInvalidCommand       = 4002
	CodeInvalidGuild         = 4003
	CodeInvalidEvent         = 4004
	CodeInvalidChannel       = 4005
	CodeInvalidPermissions   = 4006
	CodeInvalidClientID      = 4007
	CodeInvalidOrigin        = 4008
	CodeInvalidToken         = 4009
	CodeInvalidUser          = 4010
	CodeOAuth2Error          = 5000
	CodeSelectChannelTimeout = 5001
	CodeGetGuildTimeout      = 5002
	CodeSelectVoiceForce     = 5003
	CodeCaptureShortcut      = 5004
)

type errorEvent struct {
	Data *struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
	} `json:"data"`
}

// Translate converts the raw payload of an error-flagged reply into a
// *ProtocolError. A payload that cannot be parsed, or has no numeric
// data.code, yields a *MalformedError instead.
func Translate(payload []byte) error {
	var evt errorEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Malformed("error reply", payload, err)
	}
	if evt.Data == nil {
		return Malformed("error reply", payload, errors.New("missing data object"))
	}
	if evt.Data.Code == nil {
		return Malformed("error reply", payload, errors.New("missing data.code"))
	}
	return &ProtocolError{Code: *evt.Data.Code, Message: evt.Data.Message}
}
