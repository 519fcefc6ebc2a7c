package codec

import (
	"encoding/json"

	"cs-router/message"
)

// JSONCodec uses encoding/json for serialization.
// Human-readable and easy to debug, but larger and slower than BinaryCodec.
type JSONCodec struct{}

func (c *JSONCodec) Encode(records []message.Record) ([]byte, error) {
	return json.Marshal(records)
}

func (c *JSONCodec) Decode(data []byte) ([]message.Record, error) {
	var records []message.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, malformed("JSONCodec", "%v", err)
	}
	for i, rec := range records {
		if !rec.Command.Valid() {
			return nil, malformed("JSONCodec", "record %d: unknown command %d", i, rec.Command)
		}
		for j, arg := range rec.Args {
			if !arg.Kind.Valid() {
				return nil, malformed("JSONCodec", "record %d: argument %d: unknown value kind %d", i, j, arg.Kind)
			}
			rec.Args[j] = arg.Normalized()
		}
	}
	return records, nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
