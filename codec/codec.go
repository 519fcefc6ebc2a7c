// Package codec serializes record sequences for transmission.
//
// Two formats are provided: a compact binary layout with an explicit End marker after
// every record, and JSON for debugging. The codec type travels in the protocol frame
// header so each side can decode whatever the other chose.
package codec

import "cs-router/message"

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	if t == CodecTypeJSON {
		return "json"
	}
	return "binary"
}

// ParseCodecType maps a config name to a codec type; anything but "json" selects binary.
func ParseCodecType(name string) CodecType {
	if name == "json" {
		return CodecTypeJSON
	}
	return CodecTypeBinary
}

type Codec interface {
	Encode(records []message.Record) ([]byte, error)
	Decode(data []byte) ([]message.Record, error)
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}
