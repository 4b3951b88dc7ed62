// Package codec serializes request envelopes and reply data.
//
// The peer only speaks JSON, but the engine depends on the Codec interface
// so tests can observe or break serialization.
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

// GetCodec returns the codec for codecType, falling back to JSON.
func GetCodec(codecType CodecType) Codec {
	return &JSONCodec{}
}
