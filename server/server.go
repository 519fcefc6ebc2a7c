// Package server runs a remote process: it accepts streams from other processes,
// executes them on the local interpreter, and answers with the result.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (one goroutine per connection, frames handled in arrival order)
//	  → Codec.Decode → Middleware Chain → execute (interpreter) → Codec.Encode → result frame
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"cs-router/codec"
	"cs-router/interpreter"
	"cs-router/middleware"
	"cs-router/protocol"
	"cs-router/registry"
	"cs-router/stream"
	"cs-router/transport"
)

// DefaultTTL is the registry lease in seconds; KeepAlive renews it while the server runs.
const DefaultTTL = 10

// Server executes received streams on one interpreter.
type Server struct {
	interp      *interpreter.Interpreter
	logger      *zap.Logger
	listener    net.Listener
	ready       chan struct{} // closed once listener is set
	wg          sync.WaitGroup
	shutdown    atomic.Bool
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc

	// execMu serializes interpreter execution across connections.
	execMu sync.Mutex

	registry registry.Registry
	instance registry.Instance
	ttl      int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	subs  []*nats.Subscription
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(svr *Server) { svr.logger = logger }
}

// WithRegistry registers instance with reg once the server listens, and deregisters it on Shutdown.
func WithRegistry(reg registry.Registry, instance registry.Instance) Option {
	return func(svr *Server) {
		svr.registry = reg
		svr.instance = instance
	}
}

// WithTTL sets the registry lease in seconds.
func WithTTL(ttl int64) Option {
	return func(svr *Server) { svr.ttl = ttl }
}

func NewServer(interp *interpreter.Interpreter, opts ...Option) *Server {
	svr := &Server{
		ttl:    DefaultTTL,
		interp: interp,
		logger: zap.NewNop(),
		ready:  make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(svr)
	}
	return svr
}

// Use registers middlewares. Middlewares apply in the order they are added.
// Must be called before Serve or ServeNATS.
func (svr *Server) Use(mws ...middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mws...)
}

// Interpreter returns the interpreter streams execute on.
func (svr *Server) Interpreter() *interpreter.Interpreter {
	return svr.interp
}

// Serve listens on address and handles connections until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener handles connections accepted from listener until Shutdown.
func (svr *Server) ServeListener(listener net.Listener) error {
	svr.listener = listener
	svr.buildHandler()

	if svr.registry != nil {
		if svr.instance.Addr == "" {
			svr.instance.Addr = listener.Addr().String()
		}
		if err := svr.registry.Register(context.Background(), svr.instance, svr.ttl); err != nil {
			close(svr.ready)
			listener.Close()
			return fmt.Errorf("register %s at %s: %w", svr.instance.Role, svr.instance.Addr, err)
		}
	}
	close(svr.ready)
	svr.logger.Info("server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("role", svr.instance.Role))

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Shutdown closes the listener; that Accept error is expected.
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr blocks until the server listens (and is registered, when it has a registry)
// and returns the listener address.
func (svr *Server) Addr() net.Addr {
	<-svr.ready
	return svr.listener.Addr()
}

func (svr *Server) buildHandler() {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.handler == nil {
		// Chain(A, B, C)(execute) → A(B(C(execute)))
		svr.handler = middleware.Chain(svr.middlewares...)(svr.execute)
	}
}

// handleConn reads and answers frames one at a time: streams from one sender execute
// in the order they were sent.
func (svr *Server) handleConn(conn net.Conn) {
	svr.track(conn, true)
	defer svr.track(conn, false)
	defer conn.Close()

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !svr.shutdown.Load() {
				svr.logger.Debug("connection closed", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}

		// Heartbeats only keep the connection alive.
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}
		if header.MsgType != protocol.MsgTypeStream {
			svr.logger.Warn("unexpected frame type", zap.Uint8("type", uint8(header.MsgType)))
			continue
		}

		if err := svr.handleFrame(header, body, conn); err != nil {
			svr.logger.Warn("failed to write result", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			return
		}
	}
}

func (svr *Server) track(conn net.Conn, add bool) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if add {
		svr.conns[conn] = struct{}{}
	} else {
		delete(svr.conns, conn)
	}
}

// handleFrame executes one stream frame and writes the result frame with the same seq.
func (svr *Server) handleFrame(header *protocol.Header, body []byte, conn net.Conn) error {
	svr.wg.Add(1)
	defer svr.wg.Done()

	cdc := codec.GetCodec(codec.CodecType(header.CodecType))
	result := svr.handle(cdc, body)

	out, err := cdc.Encode(result.Records())
	if err != nil {
		return err
	}
	reply := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResult,
		Seq:       header.Seq,
	}
	return protocol.Encode(conn, &reply, out)
}

// handle decodes body and runs it through the middleware chain. A body that cannot be
// decoded is answered with an Error result.
func (svr *Server) handle(cdc codec.Codec, body []byte) *stream.Stream {
	records, err := cdc.Decode(body)
	if err != nil {
		svr.logger.Warn("discarding malformed stream", zap.Error(err))
		result := &stream.Stream{}
		result.Error(err.Error())
		return result
	}
	return svr.handler(context.Background(), stream.New(records...))
}

// execute is the innermost handler: it runs s on the interpreter and returns the result
// of the last executed record. Records not started when ctx is done are not executed.
func (svr *Server) execute(ctx context.Context, s *stream.Stream) *stream.Stream {
	if s.Len() == 0 {
		return &stream.Stream{}
	}
	svr.execMu.Lock()
	defer svr.execMu.Unlock()

	// A failed record is reported through the result; the error itself adds nothing.
	_ = svr.interp.ProcessStreamContext(ctx, s)
	return svr.interp.LastResult()
}

// ServeNATS answers stream requests published on subject. Each request is one protocol
// frame; the reply is the result frame.
func (svr *Server) ServeNATS(nc *nats.Conn, subject string) error {
	svr.buildHandler()
	sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
		svr.wg.Add(1)
		defer svr.wg.Done()

		header, records, err := transport.DecodeFrame(m.Data)
		var result *stream.Stream
		switch {
		case err != nil:
			svr.logger.Warn("discarding malformed request", zap.String("subject", subject), zap.Error(err))
			result = &stream.Stream{}
			result.Error(err.Error())
			header = &protocol.Header{CodecType: protocol.CodecTypeBinary}
		case header.MsgType != protocol.MsgTypeStream:
			return
		default:
			result = svr.handler(context.Background(), stream.New(records...))
		}

		data, err := transport.EncodeFrame(codec.CodecType(header.CodecType), protocol.MsgTypeResult, result.Records())
		if err != nil {
			svr.logger.Error("failed to encode result", zap.Error(err))
			return
		}
		if err := m.Respond(data); err != nil {
			svr.logger.Warn("failed to respond", zap.String("subject", subject), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	svr.mu.Lock()
	svr.subs = append(svr.subs, sub)
	svr.mu.Unlock()
	svr.logger.Info("serving nats", zap.String("subject", subject))
	return nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so groups stop sending here
//  2. Set the shutdown flag so the Accept error is recognized as intentional
//  3. Close the listener and NATS subscriptions
//  4. Wait for in-flight streams to finish (with timeout), then close idle connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if svr.registry != nil {
		if err := svr.registry.Deregister(ctx, svr.instance.Role, svr.instance.Addr); err != nil {
			svr.logger.Warn("deregister failed", zap.Error(err))
		}
	}

	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}

	svr.mu.Lock()
	for _, sub := range svr.subs {
		sub.Unsubscribe()
	}
	svr.subs = nil
	svr.mu.Unlock()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for in-flight streams to finish")
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return nil
}
