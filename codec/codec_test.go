package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cs-router/errors"
	"cs-router/message"
)

func sampleRecords() []message.Record {
	return []message.Record{
		{Command: message.New, Target: 4, Method: "Sphere"},
		{
			Command: message.Invoke,
			Target:  4,
			Method:  "SetCenter",
			Args: []message.Value{
				message.Float(1.5),
				message.Int(-3),
				message.String("x"),
				message.Bool(true),
				message.IDValue(message.ProcessModuleID),
				message.Ints(1, 2, 3),
				message.Floats(0.25),
				message.Bytes([]byte{0xde, 0xad}),
				message.Nil(),
			},
		},
		{Command: message.Delete, Target: 4},
	}
}

func TestJSONCodec(t *testing.T) {
	jsonCodec := &JSONCodec{}

	data, err := jsonCodec.Encode(sampleRecords())
	require.NoError(t, err, "JSONCodec Encode failed")

	decoded, err := jsonCodec.Decode(data)
	require.NoError(t, err, "JSONCodec Decode failed")
	assert.Equal(t, sampleRecords(), decoded)
}

func TestBinaryCodec(t *testing.T) {
	binaryCodec := &BinaryCodec{}

	data, err := binaryCodec.Encode(sampleRecords())
	require.NoError(t, err, "BinaryCodec Encode failed")

	decoded, err := binaryCodec.Decode(data)
	require.NoError(t, err, "BinaryCodec Decode failed")
	assert.Equal(t, sampleRecords(), decoded)
}

func TestBinaryCodecEmpty(t *testing.T) {
	data, err := (&BinaryCodec{}).Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, data)

	records, err := (&BinaryCodec{}).Decode(data)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBinaryCodecRejectsMalformed(t *testing.T) {
	data, err := (&BinaryCodec{}).Encode(sampleRecords())
	require.NoError(t, err)

	cases := map[string][]byte{
		"truncated":      data[:len(data)-3],
		"missing end":    data[:len(data)-1],
		"unknown cmd":    append([]byte{0x7f}, data[1:]...),
		"huge string":    {byte(message.Invoke), 0, 0, 0, 1, 0, 0, 0, 1, byte(message.KindString), 0xff, 0xff, 0xff, 0xff},
		"bad end marker": {byte(message.Delete), 0, 0, 0, 1, 0, 0, 0, 0, 0x00},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := (&BinaryCodec{}).Decode(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrMalformedStream)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestJSONCodecRejectsMalformed(t *testing.T) {
	_, err := (&JSONCodec{}).Decode([]byte(`[{"command":`))
	assert.ErrorIs(t, err, errors.ErrMalformedStream)

	_, err = (&JSONCodec{}).Decode([]byte(`[{"command":99}]`))
	assert.ErrorIs(t, err, errors.ErrMalformedStream)
}

func TestJSONCodecRejectsUnknownValueKind(t *testing.T) {
	_, err := (&JSONCodec{}).Decode([]byte(`[{"command":0,"target":5,"method":"Foo","args":[{"kind":42}]}]`))
	assert.ErrorIs(t, err, errors.ErrMalformedStream)
	assert.True(t, errors.IsInvalid(err))
}

func TestBinaryCodecRefusesToEncodeUnknownValueKind(t *testing.T) {
	records := []message.Record{{
		Command: message.Invoke, Target: 5, Method: "Foo",
		Args: []message.Value{{Kind: message.Kind(42)}},
	}}
	_, err := (&BinaryCodec{}).Encode(records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown value kind 42")
}

func TestCodecsRoundTripEveryKind(t *testing.T) {
	values := map[string]message.Value{
		"nil":          message.Nil(),
		"true":         message.Bool(true),
		"false":        message.Bool(false),
		"zero int":     message.Int(0),
		"max int":      message.Int(math.MaxInt64),
		"min int":      message.Int(math.MinInt64),
		"float":        message.Float(-0.125),
		"max float":    message.Float(math.MaxFloat64),
		"tiny float":   message.Float(math.SmallestNonzeroFloat64),
		"empty string": message.String(""),
		"string":       message.String("héllo\x00"),
		"null id":      message.IDValue(message.NullID),
		"max id":       message.IDValue(message.ID(math.MaxUint32)),
		"empty ints":   message.Ints(),
		"ints":         message.Ints(math.MinInt64, 0, math.MaxInt64),
		"empty floats": message.Floats(),
		"floats":       message.Floats(1.5, -2),
		"empty bytes":  message.Bytes(nil),
		"bytes":        message.Bytes([]byte{0, 0xff}),
	}
	for _, cdc := range []Codec{&BinaryCodec{}, &JSONCodec{}} {
		for name, v := range values {
			t.Run(cdc.Type().String()+"/"+name, func(t *testing.T) {
				in := []message.Record{{Command: message.Invoke, Target: 9, Method: "Set", Args: []message.Value{v}}}
				data, err := cdc.Encode(in)
				require.NoError(t, err)
				out, err := cdc.Decode(data)
				require.NoError(t, err)
				assert.Equal(t, in, out)
			})
		}
	}

	// JSON has no representation for infinities.
	in := []message.Record{{Command: message.Invoke, Target: 9, Method: "Set", Args: []message.Value{message.Float(math.Inf(-1))}}}
	data, err := (&BinaryCodec{}).Encode(in)
	require.NoError(t, err)
	out, err := (&BinaryCodec{}).Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestGetCodec(t *testing.T) {
	assert.Equal(t, CodecTypeJSON, GetCodec(CodecTypeJSON).Type())
	assert.Equal(t, CodecTypeBinary, GetCodec(CodecTypeBinary).Type())
	assert.Equal(t, CodecTypeJSON, ParseCodecType("json"))
	assert.Equal(t, CodecTypeBinary, ParseCodecType("binary"))
}
