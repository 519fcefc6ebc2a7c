package message

import (
	"fmt"
	"strconv"
)

// Kind tags the type held by a Value.
type Kind byte

const (
	KindNil        Kind = 0
	KindBool       Kind = 1
	KindInt        Kind = 2
	KindFloat      Kind = 3
	KindString     Kind = 4
	KindID         Kind = 5
	KindIntArray   Kind = 6
	KindFloatArray Kind = 7
	KindBytes      Kind = 8
)

func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindID:
		return "id"
	case KindIntArray:
		return "int[]"
	case KindFloatArray:
		return "float[]"
	case KindBytes:
		return "bytes"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k <= KindBytes
}

// Value is a tagged argument. Only the field matching Kind is meaningful.
type Value struct {
	Kind   Kind      `json:"kind"`
	Bool   bool      `json:"bool,omitempty"`
	Int    int64     `json:"int,omitempty"`
	Float  float64   `json:"float,omitempty"`
	Str    string    `json:"str,omitempty"`
	ID     ID        `json:"id,omitempty"`
	Ints   []int64   `json:"ints,omitempty"`
	Floats []float64 `json:"floats,omitempty"`
	Bytes  []byte    `json:"bytes,omitempty"`
}

func Nil() Value {
	return Value{Kind: KindNil}
}

func Bool(v bool) Value {
	return Value{Kind: KindBool, Bool: v}
}

func Int(v int64) Value {
	return Value{Kind: KindInt, Int: v}
}

func Float(v float64) Value {
	return Value{Kind: KindFloat, Float: v}
}

func String(v string) Value {
	return Value{Kind: KindString, Str: v}
}

func IDValue(v ID) Value {
	return Value{Kind: KindID, ID: v}
}

// Ints, Floats and Bytes never hold a nil slice, so an empty array survives
// a codec round trip unchanged.
func Ints(v ...int64) Value {
	if v == nil {
		v = []int64{}
	}
	return Value{Kind: KindIntArray, Ints: v}
}

func Floats(v ...float64) Value {
	if v == nil {
		v = []float64{}
	}
	return Value{Kind: KindFloatArray, Floats: v}
}

func Bytes(v []byte) Value {
	if v == nil {
		v = []byte{}
	}
	return Value{Kind: KindBytes, Bytes: v}
}

// Normalized returns v with a non-nil slice when v is an array kind.
func (v Value) Normalized() Value {
	switch v.Kind {
	case KindIntArray:
		return Ints(v.Ints...)
	case KindFloatArray:
		return Floats(v.Floats...)
	case KindBytes:
		return Bytes(v.Bytes)
	}
	return v
}

// Interface returns the Go value held by v.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindString:
		return v.Str
	case KindID:
		return v.ID
	case KindIntArray:
		return v.Ints
	case KindFloatArray:
		return v.Floats
	case KindBytes:
		return v.Bytes
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNil:
		return "nil"
	case KindString:
		return "string " + strconv.Quote(v.Str)
	case KindID:
		return fmt.Sprintf("id %d", v.ID)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(v.Bytes))
	default:
		return fmt.Sprintf("%s %v", v.Kind, v.Interface())
	}
}
