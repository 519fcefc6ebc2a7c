// Package property holds vector properties that serialize themselves into streams.
//
// A property mirrors one setter on a remote object. Appending it to a stream emits the
// Invoke records that apply its current elements, e.g. for Command "SetCenter" and
// elements [1 2 3]:
//
//	Invoke id=7 SetCenter(float 1, float 2, float 3)
package property

import (
	"cs-router/message"
	"cs-router/stream"
)

// Element is the set of element types a Vector can hold.
type Element interface {
	~int64 | ~float64
}

// Vector is an ordered list of numeric elements bound to a setter method.
type Vector[T Element] struct {
	// Command is the method invoked on the target. Empty means the property is not sent.
	Command string
	// ReadOnly properties ignore writes and are never sent.
	ReadOnly bool
	// RepeatCommand emits one record per ElementsPerCommand elements instead of one record.
	RepeatCommand bool
	// UseIndex prefixes each repeated record with its chunk index.
	UseIndex bool
	// ArgumentIsArray packs the elements of a record into a single array argument.
	ArgumentIsArray    bool
	ElementsPerCommand int

	values []T
}

// Len returns the number of elements.
func (v *Vector[T]) Len() int {
	return len(v.values)
}

// SetLen resizes the vector, zero-filling new elements.
func (v *Vector[T]) SetLen(n int) {
	if n <= len(v.values) {
		v.values = v.values[:n]
		return
	}
	v.values = append(v.values, make([]T, n-len(v.values))...)
}

// Element returns element i, or zero when i is out of range.
func (v *Vector[T]) Element(i int) T {
	if i < 0 || i >= len(v.values) {
		var zero T
		return zero
	}
	return v.values[i]
}

// Elements returns a copy of all elements.
func (v *Vector[T]) Elements() []T {
	return append([]T(nil), v.values...)
}

// SetElement stores value at i, growing the vector when i is past the end.
func (v *Vector[T]) SetElement(i int, value T) {
	if v.ReadOnly || i < 0 {
		return
	}
	if i >= len(v.values) {
		v.SetLen(i + 1)
	}
	v.values[i] = value
}

// SetElements replaces all elements.
func (v *Vector[T]) SetElements(values ...T) {
	if v.ReadOnly {
		return
	}
	v.values = append(v.values[:0], values...)
}

// AppendCommandToStream appends the records applying the property to object id.
func (v *Vector[T]) AppendCommandToStream(s *stream.Stream, id message.ID) {
	if v.Command == "" || v.ReadOnly {
		return
	}

	if !v.RepeatCommand {
		s.Invoke(id, v.Command, v.args(v.values)...)
		return
	}

	per := v.ElementsPerCommand
	if per <= 0 {
		per = 1
	}
	for i := 0; i < len(v.values)/per; i++ {
		var args []message.Value
		if v.UseIndex {
			args = append(args, message.Int(int64(i)))
		}
		args = append(args, v.args(v.values[i*per:(i+1)*per])...)
		s.Invoke(id, v.Command, args...)
	}
}

func (v *Vector[T]) args(chunk []T) []message.Value {
	if v.ArgumentIsArray {
		return []message.Value{array(chunk)}
	}
	var out []message.Value
	for _, e := range chunk {
		out = append(out, scalar(e))
	}
	return out
}

func scalar[T Element](e T) message.Value {
	if isFloat[T]() {
		return message.Float(float64(e))
	}
	return message.Int(int64(e))
}

func array[T Element](chunk []T) message.Value {
	if isFloat[T]() {
		out := make([]float64, len(chunk))
		for i, e := range chunk {
			out[i] = float64(e)
		}
		return message.Floats(out...)
	}
	out := make([]int64, len(chunk))
	for i, e := range chunk {
		out[i] = int64(e)
	}
	return message.Ints(out...)
}

// isFloat reports whether T is a float type: only a float keeps half of one.
func isFloat[T Element]() bool {
	one := T(1)
	return one/2 != 0
}
