// Package router dispatches streams to the destinations named by a mask.
//
// The Router plays the role of a process module: it owns the local interpreter, a default
// stream, the unique ID allocator and one Transport per destination. Send resolves a mask
// into destinations (see package destination) and hands the stream to each transport in
// priority order, synchronously, one at a time:
//
//	Send(DataServer|Client, s)
//	  → DataServer transport (remote group)   ─ blocks until done
//	  → Client transport (local interpreter)  ─ blocks until done
//	  → s.Reset() if requested
//
// Each transport answers with the result stream of the process it reached; the router keeps
// the latest one per destination. Destinations the process role cannot reach keep a default
// transport that fails loudly.
package router

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"cs-router/destination"
	"cs-router/errors"
	"cs-router/idalloc"
	"cs-router/interpreter"
	"cs-router/message"
	"cs-router/metric"
	"cs-router/stream"
)

// Transport delivers a stream to one destination. It returns once the destination has
// applied the stream or failed to, with the result the destination answered if any.
type Transport interface {
	SendStream(s *stream.Stream) (*stream.Stream, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(s *stream.Stream) (*stream.Stream, error)

func (f TransportFunc) SendStream(s *stream.Stream) (*stream.Stream, error) {
	return f(s)
}

// Router is not safe for concurrent Send calls; ordering across destinations is only
// guaranteed for one sender at a time.
type Router struct {
	logger     *zap.Logger
	transports map[destination.Mask]Transport
	topology   destination.Topology
	interp     *interpreter.Interpreter
	ids        *idalloc.Allocator
	stream     *stream.Stream
	metrics    *metric.Metrics
	stderr     io.Writer

	results    map[destination.Mask]*stream.Stream
	lastServer *stream.Stream
	infos      map[string]func() Information

	reportInterpreterErrors bool
	fatal                   func(error)
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithTransport installs t for every destination flag set in mask.
func WithTransport(mask destination.Mask, t Transport) Option {
	return func(r *Router) {
		for _, d := range destination.Resolve(mask) {
			r.transports[d.Flag] = t
		}
	}
}

// WithTopology sets the mask rewrite applied before resolution.
func WithTopology(topology destination.Topology) Option {
	return func(r *Router) { r.topology = topology }
}

// WithInterpreter makes the router execute Client streams on in.
func WithInterpreter(in *interpreter.Interpreter) Option {
	return func(r *Router) { r.interp = in }
}

// WithMetrics enables dispatch metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithReportInterpreterErrors turns escalation of local interpreter errors on or off.
// It is on by default.
func WithReportInterpreterErrors(report bool) Option {
	return func(r *Router) { r.reportInterpreterErrors = report }
}

// WithFatalHandler replaces what happens when a local interpreter error is escalated.
// The default logs the error and exits the process with status 1.
func WithFatalHandler(fn func(error)) Option {
	return func(r *Router) { r.fatal = fn }
}

// WithStderr sets where escalated messages are echoed. Defaults to os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(r *Router) { r.stderr = w }
}

// New builds a router. The process module itself is bound at message.ProcessModuleID
// in the interpreter so streams can invoke its methods.
func New(opts ...Option) *Router {
	r := &Router{
		logger:                  zap.NewNop(),
		transports:              make(map[destination.Mask]Transport),
		topology:                destination.Identity,
		ids:                     idalloc.New(),
		stream:                  &stream.Stream{},
		stderr:                  os.Stderr,
		results:                 make(map[destination.Mask]*stream.Stream),
		infos:                   make(map[string]func() Information),
		reportInterpreterErrors: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.interp == nil {
		r.interp = interpreter.New(r.logger.Named("interpreter"))
	}
	if r.fatal == nil {
		r.fatal = r.exit
	}
	for _, d := range destination.Priority {
		if _, ok := r.transports[d.Flag]; ok {
			continue
		}
		if d.Flag == destination.Client {
			r.transports[d.Flag] = TransportFunc(r.sendToClient)
		} else {
			r.transports[d.Flag] = Unsupported(d, r.logger)
		}
	}

	r.RegisterInformation(func() Information { return &ObjectInformation{} })
	r.interp.OnError(r.interpreterCallback)
	r.interp.Bind(message.ProcessModuleID, r)
	return r
}

// Unsupported returns the transport of a destination this process role cannot reach.
func Unsupported(d destination.Destination, logger *zap.Logger) Transport {
	return TransportFunc(func(*stream.Stream) (*stream.Stream, error) {
		logger.Error(d.Name+" is not supported by this process role",
			zap.String("destination", d.Name))
		return nil, errors.WrapUnsupported(fmt.Errorf("%w: %s", errors.ErrUnsupportedDestination, d.Name),
			"Router", "SendStream", "send to "+d.Name)
	})
}

// Send delivers s to every destination in mask, in priority order. A failing destination
// does not stop the following ones; all failures are returned together. When reset is set
// the stream is cleared once, after the last destination finished.
func (r *Router) Send(mask destination.Mask, s *stream.Stream, reset bool) error {
	_, err := r.send(mask, s, reset)
	return err
}

// send is Send returning the results answered during this call, keyed by destination.
func (r *Router) send(mask destination.Mask, s *stream.Stream, reset bool) (map[destination.Mask]*stream.Stream, error) {
	if s == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil stream", errors.ErrBadArgument),
			"Router", "Send", "send stream")
	}
	var errs error
	results := make(map[destination.Mask]*stream.Stream)
	for _, d := range destination.Resolve(r.topology(mask)) {
		start := time.Now()
		result, err := r.transports[d.Flag].SendStream(s)
		r.metrics.ObserveDispatch(d.Name, start, err)
		if result != nil {
			results[d.Flag] = result
			r.results[d.Flag] = result
			if d.Flag != destination.Client {
				r.lastServer = result
			}
		}
		if err != nil {
			r.logger.Debug("send failed", zap.String("destination", d.Name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", d.Name, err))
		}
	}
	if reset {
		s.Reset()
	} else {
		s.MarkDispatched()
	}
	return results, errs
}

// Stream returns the router's default stream.
func (r *Router) Stream() *stream.Stream {
	return r.stream
}

// Flush sends the default stream to mask and resets it.
func (r *Router) Flush(mask destination.Mask) error {
	return r.Send(mask, r.stream, true)
}

// SendString loads text into the default stream and flushes it to mask.
// Malformed text sends nothing.
func (r *Router) SendString(mask destination.Mask, text string) error {
	if err := r.stream.FromString(text); err != nil {
		return err
	}
	return r.Flush(mask)
}

// NewStreamObject allocates an ID and appends the creation of class at it to the default stream.
func (r *Router) NewStreamObject(class string) (message.ID, error) {
	id, err := r.ids.Next()
	if err != nil {
		return message.NullID, err
	}
	r.stream.New(class, id)
	return id, nil
}

// DeleteStreamObject appends the removal of id to the default stream.
func (r *Router) DeleteStreamObject(id message.ID) {
	r.stream.Delete(id)
}

// UniqueID returns a fresh object ID.
func (r *Router) UniqueID() (message.ID, error) {
	return r.ids.Next()
}

// ProcessModuleID is the well-known ID of the router inside the interpreter.
func (r *Router) ProcessModuleID() message.ID {
	return message.ProcessModuleID
}

// LastResult returns the result of the last locally executed record.
func (r *Router) LastResult() *stream.Stream {
	return r.interp.LastResult()
}

// LastServerResult returns the result answered by the most recently reached remote
// destination, or an empty stream when no server answered yet.
func (r *Router) LastServerResult() *stream.Stream {
	if r.lastServer == nil {
		return &stream.Stream{}
	}
	return r.lastServer.Clone()
}

// ResultFrom returns the last result answered by the destination flag.
func (r *Router) ResultFrom(flag destination.Mask) *stream.Stream {
	result, ok := r.results[flag]
	if !ok {
		return &stream.Stream{}
	}
	return result.Clone()
}

// StringFromServer returns LastServerResult in text form.
func (r *Router) StringFromServer() (string, error) {
	return r.LastServerResult().ToString()
}

// StringFromClient returns LastResult in text form.
func (r *Router) StringFromClient() (string, error) {
	return r.LastResult().ToString()
}

// PropertyWriter appends the commands setting a property of an object.
type PropertyWriter interface {
	AppendCommandToStream(s *stream.Stream, id message.ID)
}

// PushProperty appends the commands of p for the object at id to the default stream
// and flushes it to mask.
func (r *Router) PushProperty(mask destination.Mask, id message.ID, p PropertyWriter) error {
	p.AppendCommandToStream(r.stream, id)
	if r.stream.Len() == 0 {
		return nil
	}
	return r.Flush(mask)
}

// Interpreter returns the local interpreter.
func (r *Router) Interpreter() *interpreter.Interpreter {
	return r.interp
}

// Close removes the well-known bindings from the interpreter. Closing twice is a no-op.
func (r *Router) Close() error {
	if _, ok := r.interp.Object(message.ProcessModuleID); !ok {
		return nil
	}
	s := &stream.Stream{}
	s.Delete(message.ProcessModuleID)
	return r.interp.ProcessStream(s)
}

func (r *Router) sendToClient(s *stream.Stream) (*stream.Stream, error) {
	if s.Len() == 0 {
		return nil, nil
	}
	err := r.interp.ProcessStream(s)
	result := r.interp.LastResult()
	if err == nil {
		return result, nil
	}
	var ee *interpreter.ExecError
	if !errors.As(err, &ee) {
		return result, err
	}
	msg, ok := result.FirstError()
	if !ok {
		msg = ee.Error()
	}
	return result, &errors.ProtocolError{Message: msg, Replay: replay(s, ee.Index)}
}

// interpreterCallback runs when a locally executed record fails. Unless reporting is off,
// the error is treated as a desynchronization between processes and escalated.
func (r *Router) interpreterCallback(info interpreter.ErrorInfo) {
	r.metrics.InterpreterError()
	if !r.reportInterpreterErrors {
		return
	}
	msg, ok := r.interp.LastResult().FirstError()
	if !ok {
		return
	}
	perr := &errors.ProtocolError{Message: msg, Replay: replay(info.Stream, info.Index)}
	r.logger.Error("interpreter error",
		zap.String("message", msg),
		zap.String("while_processing", perr.Replay))
	fmt.Fprintln(r.stderr, msg)
	r.fatal(perr)
}

func (r *Router) exit(err error) {
	r.logger.Error("aborting execution for debugging purposes", zap.Error(err))
	_ = r.logger.Sync()
	os.Exit(1)
}

func replay(s *stream.Stream, index int) string {
	var b strings.Builder
	if err := s.PrintRecord(&b, index); err != nil {
		return ""
	}
	return strings.TrimSuffix(b.String(), "\n")
}
