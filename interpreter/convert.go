package interpreter

import (
	"fmt"
	"reflect"

	"cs-router/message"
)

// convertArg turns a tagged value into a parameter of type t.
// Pointer and interface parameters receive the object bound at an id argument.
func (in *Interpreter) convertArg(v message.Value, t reflect.Type) (reflect.Value, error) {
	switch {
	case t == valueType:
		return reflect.ValueOf(v), nil
	case t == idType:
		switch v.Kind {
		case message.KindID:
			return reflect.ValueOf(v.ID), nil
		case message.KindInt:
			if v.Int < 0 || v.Int > int64(^uint32(0)) {
				return reflect.Value{}, fmt.Errorf("id %d out of range", v.Int)
			}
			return reflect.ValueOf(message.ID(v.Int)), nil
		}
		return reflect.Value{}, mismatch(v, t)
	}

	out := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		if v.Kind != message.KindBool {
			return out, mismatch(v, t)
		}
		out.SetBool(v.Bool)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := intOf(v)
		if !ok {
			return out, mismatch(v, t)
		}
		if out.OverflowInt(n) {
			return out, fmt.Errorf("%d overflows %s", n, t)
		}
		out.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := intOf(v)
		if !ok {
			return out, mismatch(v, t)
		}
		if n < 0 || out.OverflowUint(uint64(n)) {
			return out, fmt.Errorf("%d overflows %s", n, t)
		}
		out.SetUint(uint64(n))

	case reflect.Float32, reflect.Float64:
		switch v.Kind {
		case message.KindFloat:
			out.SetFloat(v.Float)
		case message.KindInt:
			out.SetFloat(float64(v.Int))
		default:
			return out, mismatch(v, t)
		}

	case reflect.String:
		if v.Kind != message.KindString {
			return out, mismatch(v, t)
		}
		out.SetString(v.Str)

	case reflect.Slice:
		return convertSlice(v, t)

	case reflect.Ptr, reflect.Interface:
		return in.convertObject(v, t)

	default:
		return out, mismatch(v, t)
	}
	return out, nil
}

func intOf(v message.Value) (int64, bool) {
	switch v.Kind {
	case message.KindInt:
		return v.Int, true
	case message.KindID:
		return int64(v.ID), true
	}
	return 0, false
}

func convertSlice(v message.Value, t reflect.Type) (reflect.Value, error) {
	elem := t.Elem().Kind()
	if v.Kind == message.KindBytes && elem == reflect.Uint8 {
		return reflect.ValueOf(append([]byte(nil), v.Bytes...)).Convert(t), nil
	}

	var src []float64
	switch v.Kind {
	case message.KindIntArray:
		src = make([]float64, len(v.Ints))
		for i, n := range v.Ints {
			src[i] = float64(n)
		}
		if isIntKind(elem) {
			out := reflect.MakeSlice(t, len(v.Ints), len(v.Ints))
			for i, n := range v.Ints {
				if out.Index(i).OverflowInt(n) {
					return out, fmt.Errorf("%d overflows %s", n, t.Elem())
				}
				out.Index(i).SetInt(n)
			}
			return out, nil
		}
	case message.KindFloatArray:
		src = v.Floats
	default:
		return reflect.Value{}, mismatch(v, t)
	}

	if elem != reflect.Float32 && elem != reflect.Float64 {
		return reflect.Value{}, mismatch(v, t)
	}
	out := reflect.MakeSlice(t, len(src), len(src))
	for i, f := range src {
		out.Index(i).SetFloat(f)
	}
	return out, nil
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func (in *Interpreter) convertObject(v message.Value, t reflect.Type) (reflect.Value, error) {
	switch v.Kind {
	case message.KindNil:
		return reflect.Zero(t), nil
	case message.KindID:
		obj, ok := in.Object(v.ID)
		if !ok {
			return reflect.Value{}, fmt.Errorf("no object at id %d", v.ID)
		}
		if obj == nil {
			return reflect.Zero(t), nil
		}
		ov := reflect.ValueOf(obj)
		if !ov.Type().AssignableTo(t) {
			return reflect.Value{}, fmt.Errorf("object %d is %s, want %s", v.ID, ov.Type(), t)
		}
		return ov, nil
	}
	if t.Kind() == reflect.Interface && t.NumMethod() == 0 {
		return reflect.ValueOf(v.Interface()), nil
	}
	return reflect.Value{}, mismatch(v, t)
}

// toValue turns a method result into a tagged value. Objects bound in the
// interpreter are returned by id.
func (in *Interpreter) toValue(r reflect.Value) (message.Value, error) {
	if r.Type() == valueType {
		return r.Interface().(message.Value), nil
	}
	if r.Type() == idType {
		return message.IDValue(message.ID(r.Uint())), nil
	}

	switch r.Kind() {
	case reflect.Bool:
		return message.Bool(r.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return message.Int(r.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return message.Int(int64(r.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return message.Float(r.Float()), nil
	case reflect.String:
		return message.String(r.String()), nil
	case reflect.Slice:
		switch k := r.Type().Elem().Kind(); {
		case k == reflect.Uint8:
			return message.Bytes(append([]byte(nil), r.Bytes()...)), nil
		case isIntKind(k):
			ints := make([]int64, r.Len())
			for i := range ints {
				ints[i] = r.Index(i).Int()
			}
			return message.Ints(ints...), nil
		case k == reflect.Float32 || k == reflect.Float64:
			floats := make([]float64, r.Len())
			for i := range floats {
				floats[i] = r.Index(i).Float()
			}
			return message.Floats(floats...), nil
		}
	case reflect.Ptr, reflect.Interface, reflect.Map:
		if r.IsNil() {
			return message.Nil(), nil
		}
		if id, ok := in.idOf(r.Interface()); ok {
			return message.IDValue(id), nil
		}
	}
	return message.Value{}, fmt.Errorf("cannot return %s", r.Type())
}

func (in *Interpreter) idOf(obj any) (message.ID, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for id, o := range in.objects {
		if o == nil || !reflect.TypeOf(o).Comparable() || reflect.TypeOf(o) != reflect.TypeOf(obj) {
			continue
		}
		if o == obj {
			return id, true
		}
	}
	return 0, false
}

func mismatch(v message.Value, t reflect.Type) error {
	return fmt.Errorf("cannot use %s value as %s", v.Kind, t)
}
