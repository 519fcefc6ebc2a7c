package codec

import (
	"encoding/binary"
	"fmt"
	"math"

	"cs-router/errors"
	"cs-router/message"
)

// EndMarker terminates every record in the binary layout. A record is complete
// only once its marker has been read.
const EndMarker byte = 0xEE

// BinaryCodec lays records out back to back:
//
//	┌───┬────────┬──────┬────────┬──────┬─────────┬─────┐
//	│cmd│ target │ mlen │ method │ argc │ args... │ End │
//	│ 1 │   4    │  2   │  mlen  │  2   │         │  1  │
//	└───┴────────┴──────┴────────┴──────┴─────────┴─────┘
//
// Each argument is a kind byte followed by its payload; strings, arrays and
// byte slices carry a 4-byte length. All integers are big-endian.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(records []message.Record) ([]byte, error) {
	buf := make([]byte, 0, 64*len(records))
	for i, rec := range records {
		if len(rec.Method) > math.MaxUint16 {
			return nil, fmt.Errorf("BinaryCodec: record %d: method name too long", i)
		}
		if len(rec.Args) > math.MaxUint16 {
			return nil, fmt.Errorf("BinaryCodec: record %d: too many arguments", i)
		}
		buf = append(buf, byte(rec.Command))
		buf = binary.BigEndian.AppendUint32(buf, uint32(rec.Target))
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(rec.Method)))
		buf = append(buf, rec.Method...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(rec.Args)))
		for j, arg := range rec.Args {
			if !arg.Kind.Valid() {
				return nil, fmt.Errorf("BinaryCodec: record %d: argument %d: unknown value kind %d", i, j, arg.Kind)
			}
			buf = appendValue(buf, arg)
		}
		buf = append(buf, EndMarker)
	}
	return buf, nil
}

func appendValue(buf []byte, v message.Value) []byte {
	buf = append(buf, byte(v.Kind))
	switch v.Kind {
	case message.KindBool:
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case message.KindInt:
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Int))
	case message.KindFloat:
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v.Float))
	case message.KindString:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Str)))
		buf = append(buf, v.Str...)
	case message.KindID:
		buf = binary.BigEndian.AppendUint32(buf, uint32(v.ID))
	case message.KindIntArray:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Ints)))
		for _, n := range v.Ints {
			buf = binary.BigEndian.AppendUint64(buf, uint64(n))
		}
	case message.KindFloatArray:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Floats)))
		for _, f := range v.Floats {
			buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
		}
	case message.KindBytes:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(v.Bytes)))
		buf = append(buf, v.Bytes...)
	}
	return buf
}

func (c *BinaryCodec) Decode(data []byte) ([]message.Record, error) {
	r := &reader{data: data}
	var records []message.Record
	for r.remaining() > 0 {
		rec, err := r.record()
		if err != nil {
			return nil, malformed("BinaryCodec", "record %d: %v", len(records), err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// reader walks a binary buffer with bounds checks on every read.
type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, fmt.Errorf("truncated at offset %d", r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *reader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// count reads a 4-byte element count and checks that size*count bytes are available.
func (r *reader) count(size int) (int, error) {
	n, err := r.u32()
	if err != nil {
		return 0, err
	}
	if uint64(n)*uint64(size) > uint64(r.remaining()) {
		return 0, fmt.Errorf("length %d exceeds buffer at offset %d", n, r.off)
	}
	return int(n), nil
}

func (r *reader) record() (message.Record, error) {
	var rec message.Record

	cmd, err := r.u8()
	if err != nil {
		return rec, err
	}
	rec.Command = message.Command(cmd)
	if !rec.Command.Valid() {
		return rec, fmt.Errorf("unknown command %d", cmd)
	}

	target, err := r.u32()
	if err != nil {
		return rec, err
	}
	rec.Target = message.ID(target)

	mlen, err := r.u16()
	if err != nil {
		return rec, err
	}
	method, err := r.take(int(mlen))
	if err != nil {
		return rec, err
	}
	rec.Method = string(method)

	argc, err := r.u16()
	if err != nil {
		return rec, err
	}
	for i := 0; i < int(argc); i++ {
		v, err := r.value()
		if err != nil {
			return rec, fmt.Errorf("argument %d: %w", i, err)
		}
		rec.Args = append(rec.Args, v)
	}

	end, err := r.u8()
	if err != nil {
		return rec, fmt.Errorf("missing end marker: %w", err)
	}
	if end != EndMarker {
		return rec, fmt.Errorf("expected end marker, got 0x%02x", end)
	}
	return rec, nil
}

func (r *reader) value() (message.Value, error) {
	k, err := r.u8()
	if err != nil {
		return message.Value{}, err
	}
	kind := message.Kind(k)
	v := message.Value{Kind: kind}
	switch kind {
	case message.KindNil:
	case message.KindBool:
		b, err := r.u8()
		if err != nil {
			return v, err
		}
		v.Bool = b != 0
	case message.KindInt:
		n, err := r.u64()
		if err != nil {
			return v, err
		}
		v.Int = int64(n)
	case message.KindFloat:
		n, err := r.u64()
		if err != nil {
			return v, err
		}
		v.Float = math.Float64frombits(n)
	case message.KindString:
		n, err := r.count(1)
		if err != nil {
			return v, err
		}
		b, _ := r.take(n)
		v.Str = string(b)
	case message.KindID:
		n, err := r.u32()
		if err != nil {
			return v, err
		}
		v.ID = message.ID(n)
	case message.KindIntArray:
		n, err := r.count(8)
		if err != nil {
			return v, err
		}
		v.Ints = make([]int64, n)
		for i := range v.Ints {
			u, _ := r.u64()
			v.Ints[i] = int64(u)
		}
	case message.KindFloatArray:
		n, err := r.count(8)
		if err != nil {
			return v, err
		}
		v.Floats = make([]float64, n)
		for i := range v.Floats {
			u, _ := r.u64()
			v.Floats[i] = math.Float64frombits(u)
		}
	case message.KindBytes:
		n, err := r.count(1)
		if err != nil {
			return v, err
		}
		b, _ := r.take(n)
		v.Bytes = append([]byte{}, b...)
	default:
		return v, fmt.Errorf("unknown value kind %d", k)
	}
	return v, nil
}

func malformed(component, format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrMalformedStream}, args...)...),
		component, "Decode", "decode records")
}
