// Package rpcerror defines the failure taxonomy surfaced by the IPC client.
//
// Every failure a command caller can observe falls into one of four kinds:
//
//	Timeout    bounded wait elapsed before the matching reply arrived
//	Protocol   the peer answered with an ERROR event (code + message)
//	Malformed  a frame or reply did not have the expected shape
//	Transport  the connection failed to send or receive
//
// Each kind has a sentinel for errors.Is and a concrete type for errors.As.
package rpcerror

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrTimeout   = errors.New("rpc: timeout")
	ErrProtocol  = errors.New("rpc: protocol error")
	ErrMalformed = errors.New("rpc: malformed payload")
	ErrTransport = errors.New("rpc: transport failure")
)

// Kind classifies an error returned by the client.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindProtocol
	KindMalformed
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindMalformed:
		return "malformed"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// KindOf reports which taxonomy bucket err belongs to.
// nil maps to KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrProtocol):
		return KindProtocol
	case errors.Is(err, ErrMalformed):
		return KindMalformed
	case errors.Is(err, ErrTransport):
		return KindTransport
	default:
		return KindUnknown
	}
}

// TimeoutError is returned when a bounded synchronous call gets no reply in time.
type TimeoutError struct {
	Command string
	Nonce   string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rpc: %s (nonce %s) timed out after %s", e.Command, e.Nonce, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ProtocolError carries the code and message of an ERROR reply from the peer.
type ProtocolError struct {
	Code    int
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("rpc: peer error %d: %s", e.Code, e.Message)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// MalformedError reports a frame or payload that violates the protocol shape.
type MalformedError struct {
	Reason  string
	Payload []byte
	Err     error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rpc: malformed %s: %v", e.Reason, e.Err)
	}
	return "rpc: malformed " + e.Reason
}

func (e *MalformedError) Is(target error) bool { return target == ErrMalformed }

func (e *MalformedError) Unwrap() error { return e.Err }

// Malformed builds a MalformedError. payload may be nil.
func Malformed(reason string, payload []byte, err error) *MalformedError {
	return &MalformedError{Reason: reason, Payload: payload, Err: err}
}

// TransportError wraps a failure of the underlying connection.
type TransportError struct {
	Op  string // "dial", "read", "write", "close"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }

// CloseError is the reason carried by a close frame sent by the peer.
type CloseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed by peer: %d %s", e.Code, e.Message)
}
