package router

import (
	"fmt"

	"cs-router/destination"
	"cs-router/errors"
	"cs-router/message"
	"cs-router/stream"
)

// Information describes an object in a form that travels between processes. Every
// process asked to gather a class must have it registered with RegisterInformation.
type Information interface {
	ClassName() string
	CopyFromObject(obj any) error
	Values() []message.Value
	CopyFromValues(values []message.Value) error
}

// ObjectInformation reports the Go type of an object. It is registered on every router.
type ObjectInformation struct {
	Type string
}

func (o *ObjectInformation) ClassName() string {
	return "ObjectInformation"
}

func (o *ObjectInformation) CopyFromObject(obj any) error {
	o.Type = fmt.Sprintf("%T", obj)
	return nil
}

func (o *ObjectInformation) Values() []message.Value {
	return []message.Value{message.String(o.Type)}
}

func (o *ObjectInformation) CopyFromValues(values []message.Value) error {
	if len(values) != 1 || values[0].Kind != message.KindString {
		return fmt.Errorf("ObjectInformation: %w: want one string, got %v", errors.ErrBadArgument, values)
	}
	o.Type = values[0].Str
	return nil
}

// RegisterInformation makes the class built by factory gatherable in this process.
func (r *Router) RegisterInformation(factory func() Information) {
	r.infos[factory().ClassName()] = factory
}

// GatherInformation asks the processes in mask to describe the object at id and copies
// the answer into info. Remote answers are preferred over the local one, in priority order.
func (r *Router) GatherInformation(mask destination.Mask, info Information, id message.ID) error {
	s := &stream.Stream{}
	s.Invoke(message.ProcessModuleID, "GatherInformationInternal",
		message.String(info.ClassName()), message.IDValue(id))
	results, err := r.send(mask, s, true)
	if err != nil {
		return err
	}
	for _, d := range destination.Resolve(r.topology(mask)) {
		if d.Flag == destination.Client {
			continue
		}
		if rec, ok := reply(results[d.Flag]); ok {
			return info.CopyFromValues(rec.Args)
		}
	}
	if rec, ok := reply(results[destination.Client]); ok {
		return info.CopyFromValues(rec.Args)
	}
	return fmt.Errorf("gather %s from id=%d: %w: no process answered", info.ClassName(), id, errors.ErrUnknownObject)
}

// GatherInformationInternal runs in every process reached by GatherInformation and
// returns the serialized description of the object at id.
func (r *Router) GatherInformationInternal(class string, id message.ID) ([]message.Value, error) {
	factory, ok := r.infos[class]
	if !ok {
		return nil, fmt.Errorf("information %s: %w", class, errors.ErrUnknownClass)
	}
	obj, ok := r.interp.Object(id)
	if !ok {
		return nil, fmt.Errorf("gather %s from id=%d: %w", class, id, errors.ErrUnknownObject)
	}
	info := factory()
	if err := info.CopyFromObject(obj); err != nil {
		return nil, err
	}
	return info.Values(), nil
}

func reply(result *stream.Stream) (message.Record, bool) {
	if result == nil {
		return message.Record{}, false
	}
	rec, ok := result.Record(0)
	if !ok || rec.Command != message.Reply {
		return message.Record{}, false
	}
	return rec, true
}
