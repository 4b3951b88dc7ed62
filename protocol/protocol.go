// Package protocol implements the frame envelope of the local IPC protocol.
//
// Every message on the connection is an opcode-tagged, length-prefixed frame.
// The receiver reads the fixed 8-byte header first to learn the payload length,
// then reads exactly that many bytes. The header length field is authoritative.
//
// Frame format:
//
//	0         4         8
//	┌─────────┬─────────┬───────────────────┐
//	│ opcode  │ length  │   payload ...     │
//	│ uint32  │ uint32  │   length bytes    │
//	└─────────┴─────────┴───────────────────┘
//
// Both header fields are little-endian. Payloads are UTF-8 JSON.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"presence-rpc/rpcerror"
)

const HeaderSize = 8 // 4 (opcode) + 4 (length)

// Opcode identifies the kind of frame.
type Opcode uint32

const (
	OpHandshake Opcode = 0 // Client → peer, first frame on a connection
	OpFrame     Opcode = 1 // Commands, replies and events
	OpClose     Opcode = 2 // Either side is closing; payload carries code + message
	OpPing      Opcode = 3 // Liveness probe
	OpPong      Opcode = 4 // Answer to a ping, echoes its payload
)

var opcodeNames = map[Opcode]string{
	OpHandshake: "HANDSHAKE",
	OpFrame:     "FRAME",
	OpClose:     "CLOSE",
	OpPing:      "PING",
	OpPong:      "PONG",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("OPCODE(%d)", uint32(op))
}

// Valid reports whether op is one of the known opcodes.
func (op Opcode) Valid() bool {
	_, ok := opcodeNames[op]
	return ok
}

// Frame is one decoded unit of transmission.
type Frame struct {
	Opcode  Opcode
	Payload []byte
}

// Marshal returns the wire form of a frame: header followed by payload.
func Marshal(op Opcode, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(op))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Unmarshal is the inverse of Marshal. It fails with a malformed error when
// b holds fewer than 8 header bytes or fewer payload bytes than the header
// announces. Bytes past the announced length are ignored.
func Unmarshal(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, rpcerror.Malformed("frame header", b, fmt.Errorf("need %d bytes, have %d", HeaderSize, len(b)))
	}
	op := Opcode(binary.LittleEndian.Uint32(b[0:4]))
	length := binary.LittleEndian.Uint32(b[4:8])
	if uint64(len(b)-HeaderSize) < uint64(length) {
		return Frame{}, rpcerror.Malformed("frame payload", b, fmt.Errorf("need %d bytes, have %d", length, len(b)-HeaderSize))
	}
	payload := make([]byte, length)
	copy(payload, b[HeaderSize:HeaderSize+int(length)])
	return Frame{Opcode: op, Payload: payload}, nil
}

// Encode writes a complete frame to w in a single Write call.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different requests will interleave and corrupt the stream.
func Encode(w io.Writer, op Opcode, payload []byte) error {
	_, err := w.Write(Marshal(op, payload))
	return err
}

// Decode reads exactly one frame from r.
// Uses io.ReadFull so a frame split across several reads is reassembled.
// Read errors are returned as-is; an unknown opcode is a malformed error,
// since the stream cannot be resynchronised after it.
func Decode(r io.Reader) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}

	op := Opcode(binary.LittleEndian.Uint32(header[0:4]))
	if !op.Valid() {
		return Frame{}, rpcerror.Malformed("frame opcode", header[:], fmt.Errorf("unknown opcode %d", uint32(op)))
	}

	length := binary.LittleEndian.Uint32(header[4:8])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	return Frame{Opcode: op, Payload: payload}, nil
}
