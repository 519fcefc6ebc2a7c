// Package interpreter executes streams against a table of local objects.
//
// Objects live at IDs. New creates one from a registered class factory, Delete drops it,
// Assign binds a plain value, and Invoke calls an exported method by reflection:
//
//	Invoke id=5 SetRadius(float 0.5)  →  objects[5].SetRadius(0.5)
//
// Every executed record leaves a result: a Reply carrying the method's return values, or
// an Error carrying a message. Execution stops at the first Error. A method that panics
// fails its record like one returning an error.
package interpreter

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"

	"cs-router/errors"
	"cs-router/message"
	"cs-router/stream"
)

// ErrorInfo identifies the record whose execution failed.
type ErrorInfo struct {
	Stream *stream.Stream
	Index  int
}

// ExecError is returned by ProcessStream when a record fails.
type ExecError struct {
	Index  int
	Record message.Record
	Err    error
}

func (e *ExecError) Error() string { return e.Err.Error() }

func (e *ExecError) Unwrap() error { return e.Err }

// Interpreter is safe for concurrent use, but streams executed concurrently interleave;
// callers needing stream-level ordering serialize ProcessStream themselves.
type Interpreter struct {
	mu         sync.Mutex
	objects    map[message.ID]any
	classes    map[string]func() any
	lastResult *stream.Stream
	observers  []func(ErrorInfo)
	logger     *zap.Logger
}

// New returns an interpreter with an empty object table.
func New(logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		objects:    make(map[message.ID]any),
		classes:    make(map[string]func() any),
		lastResult: &stream.Stream{},
		logger:     logger,
	}
}

// RegisterClass makes class creatable by New records.
func (in *Interpreter) RegisterClass(class string, factory func() any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.classes[class] = factory
}

// Classes returns the registered class names, sorted.
func (in *Interpreter) Classes() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	names := make([]string, 0, len(in.classes))
	for name := range in.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind places obj at id, replacing whatever was there.
func (in *Interpreter) Bind(id message.ID, obj any) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.objects[id] = obj
}

// Unbind removes the object at id.
func (in *Interpreter) Unbind(id message.ID) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.objects, id)
}

// Object returns the object at id.
func (in *Interpreter) Object(id message.ID) (any, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	obj, ok := in.objects[id]
	return obj, ok
}

// OnError registers fn to run whenever a record fails, before ProcessStream returns.
func (in *Interpreter) OnError(fn func(ErrorInfo)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.observers = append(in.observers, fn)
}

// LastResult returns the result of the most recently executed record.
func (in *Interpreter) LastResult() *stream.Stream {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.lastResult.Clone()
}

// ProcessStream executes the records of s in order.
func (in *Interpreter) ProcessStream(s *stream.Stream) error {
	return in.ProcessStreamContext(context.Background(), s)
}

// ProcessStreamContext is ProcessStream stopping before the next record once ctx is done.
// The record running when ctx ends completes; the following ones fail with ctx's error.
func (in *Interpreter) ProcessStreamContext(ctx context.Context, s *stream.Stream) error {
	for i, rec := range s.Records() {
		var result message.Record
		err := ctx.Err()
		if err != nil {
			err = fmt.Errorf("record %d not executed: %w", i, err)
		} else {
			result, err = in.execute(rec)
		}
		if err != nil {
			result = message.Record{
				Command: message.Error,
				Args:    []message.Value{message.String(err.Error())},
			}
		}
		in.setLastResult(result)

		if err != nil {
			in.logger.Debug("record failed",
				zap.Int("index", i),
				zap.Stringer("record", rec),
				zap.Error(err))
			in.notify(ErrorInfo{Stream: s, Index: i})
			return &ExecError{Index: i, Record: rec, Err: err}
		}
	}
	return nil
}

func (in *Interpreter) setLastResult(rec message.Record) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.lastResult = stream.New(rec)
}

func (in *Interpreter) notify(info ErrorInfo) {
	in.mu.Lock()
	observers := append([]func(ErrorInfo){}, in.observers...)
	in.mu.Unlock()
	for _, fn := range observers {
		fn(info)
	}
}

func (in *Interpreter) execute(rec message.Record) (message.Record, error) {
	reply := message.Record{Command: message.Reply}
	switch rec.Command {
	case message.New:
		in.mu.Lock()
		factory, ok := in.classes[rec.Method]
		in.mu.Unlock()
		if !ok {
			return reply, fmt.Errorf("New %s: %w", rec.Method, errors.ErrUnknownClass)
		}
		if rec.Target == message.NullID {
			return reply, fmt.Errorf("New %s: %w: null id", rec.Method, errors.ErrBadArgument)
		}
		in.Bind(rec.Target, factory())
		reply.Args = []message.Value{message.IDValue(rec.Target)}
		return reply, nil

	case message.Delete:
		if _, ok := in.Object(rec.Target); !ok {
			return reply, fmt.Errorf("Delete id=%d: %w", rec.Target, errors.ErrUnknownObject)
		}
		in.Unbind(rec.Target)
		return reply, nil

	case message.Assign:
		if len(rec.Args) != 1 {
			return reply, fmt.Errorf("Assign id=%d: %w: want 1 value, got %d", rec.Target, errors.ErrBadArgument, len(rec.Args))
		}
		in.Bind(rec.Target, rec.Args[0].Interface())
		return reply, nil

	case message.Invoke:
		return in.invoke(rec)

	default:
		return reply, fmt.Errorf("%s: %w: command is not executable", rec.Command, errors.ErrBadArgument)
	}
}

var (
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
	idType     = reflect.TypeOf(message.ID(0))
	valueType  = reflect.TypeOf(message.Value{})
	valuesType = reflect.TypeOf([]message.Value(nil))
)

func (in *Interpreter) invoke(rec message.Record) (reply message.Record, err error) {
	reply = message.Record{Command: message.Reply}

	obj, ok := in.Object(rec.Target)
	if !ok || obj == nil {
		return reply, fmt.Errorf("Invoke id=%d %s: %w", rec.Target, rec.Method, errors.ErrUnknownObject)
	}
	method := reflect.ValueOf(obj).MethodByName(rec.Method)
	if !method.IsValid() {
		return reply, fmt.Errorf("Invoke id=%d %s on %T: %w", rec.Target, rec.Method, obj, errors.ErrUnknownMethod)
	}

	mtype := method.Type()
	if mtype.IsVariadic() {
		return reply, fmt.Errorf("Invoke id=%d %s: %w: variadic methods are not callable", rec.Target, rec.Method, errors.ErrUnknownMethod)
	}
	if mtype.NumIn() != len(rec.Args) {
		return reply, fmt.Errorf("Invoke id=%d %s: %w: want %d arguments, got %d",
			rec.Target, rec.Method, errors.ErrBadArgument, mtype.NumIn(), len(rec.Args))
	}
	args := make([]reflect.Value, len(rec.Args))
	for i, v := range rec.Args {
		arg, err := in.convertArg(v, mtype.In(i))
		if err != nil {
			return reply, fmt.Errorf("Invoke id=%d %s argument %d: %w: %v",
				rec.Target, rec.Method, i, errors.ErrBadArgument, err)
		}
		args[i] = arg
	}

	defer func() {
		if p := recover(); p != nil {
			in.logger.Warn("method panicked",
				zap.Stringer("record", rec),
				zap.Any("panic", p))
			reply = message.Record{Command: message.Reply}
			err = fmt.Errorf("Invoke id=%d %s: %w: panic: %v", rec.Target, rec.Method, errors.ErrBadArgument, p)
		}
	}()
	results := method.Call(args)

	// A trailing error result is the method's failure report.
	if n := len(results); n > 0 && mtype.Out(n-1) == errorType {
		if errv := results[n-1]; !errv.IsNil() {
			return reply, errv.Interface().(error)
		}
		results = results[:n-1]
	}
	for i, r := range results {
		if r.Type() == valuesType {
			reply.Args = append(reply.Args, r.Interface().([]message.Value)...)
			continue
		}
		v, err := in.toValue(r)
		if err != nil {
			return reply, fmt.Errorf("Invoke id=%d %s result %d: %w", rec.Target, rec.Method, i, err)
		}
		reply.Args = append(reply.Args, v)
	}
	return reply, nil
}
