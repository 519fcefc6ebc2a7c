// Package transport carries streams to remote processes.
//
// ClientTransport multiplexes many stream exchanges over a single TCP connection.
// Each stream frame gets a unique sequence number, and a background goroutine (recvLoop)
// reads result frames and routes them to the waiting caller via pending channels.
//
//	goroutine-1 ──Exchange(seq=1)──┐
//	goroutine-2 ──Exchange(seq=2)──┼──→ single TCP conn ──→ server
//	goroutine-3 ──Exchange(seq=3)──┘
//
//	recvLoop:  ←── result(seq=2) → pending[2] chan → goroutine-2 wakes up
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"cs-router/codec"
	"cs-router/errors"
	"cs-router/message"
	"cs-router/protocol"
	"cs-router/stream"
)

// DefaultHeartbeat is the interval between keep-alive frames.
const DefaultHeartbeat = 30 * time.Second

// Result is what a remote process answered to one stream.
type Result struct {
	Records []message.Record
	Err     error
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	addr    string
	codec   codec.CodecType
	logger  *zap.Logger
	seq     uint32      // protected by sending
	pending sync.Map    // map[uint32]chan *Result
	sending sync.Mutex  // serializes frame writes on conn
	closed  atomic.Bool // Close was called
	broken  atomic.Bool // recvLoop stopped
	done    chan struct{}
}

// Options tune a ClientTransport.
type Options struct {
	Codec     codec.CodecType
	Heartbeat time.Duration // zero means DefaultHeartbeat, negative disables heartbeats
	Logger    *zap.Logger
}

// NewClientTransport wraps conn and starts two background goroutines:
//   - recvLoop: reads result frames and dispatches them to pending callers
//   - heartbeatLoop: sends periodic heartbeat frames to keep the connection alive
func NewClientTransport(conn net.Conn, opts Options) *ClientTransport {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &ClientTransport{
		conn:   conn,
		addr:   conn.RemoteAddr().String(),
		codec:  opts.Codec,
		logger: logger,
		done:   make(chan struct{}),
	}
	go t.recvLoop()

	interval := opts.Heartbeat
	if interval == 0 {
		interval = DefaultHeartbeat
	}
	if interval > 0 {
		go t.heartbeatLoop(interval)
	}
	return t
}

// Dial connects to addr and returns a transport over the new connection.
func Dial(ctx context.Context, addr string, opts Options) (*ClientTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewClientTransport(conn, opts), nil
}

// Addr returns the remote address.
func (t *ClientTransport) Addr() string {
	return t.addr
}

// Send encodes records into a stream frame and writes it.
// It returns the sequence number and a channel that will receive the result.
func (t *ClientTransport) Send(records []message.Record) (uint32, <-chan *Result, error) {
	if t.closed.Load() || t.broken.Load() {
		return 0, nil, errors.ErrTransportClosed
	}

	cdc := codec.GetCodec(t.codec)
	body, err := cdc.Encode(records)
	if err != nil {
		return 0, nil, err
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	t.seq++
	seq := t.seq

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeStream,
		Seq:       seq,
	}

	// Register the result channel BEFORE writing, recvLoop may answer immediately.
	resultChan := make(chan *Result, 1)
	t.pending.Store(seq, resultChan)
	if t.broken.Load() {
		t.pending.Delete(seq)
		return 0, nil, errors.ErrTransportClosed
	}

	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		return 0, nil, err
	}
	return seq, resultChan, nil
}

// Exchange sends records and waits for the result. An Error result is returned
// as *errors.RemoteError.
func (t *ClientTransport) Exchange(ctx context.Context, records []message.Record) ([]message.Record, error) {
	seq, ch, err := t.Send(records)
	if err != nil {
		return nil, err
	}
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if len(res.Records) > 0 {
			if msg, ok := res.Records[0].ErrorMessage(); ok {
				return res.Records, &errors.RemoteError{Addr: t.addr, Message: msg}
			}
		}
		return res.Records, nil
	case <-ctx.Done():
		t.pending.Delete(seq)
		return nil, ctx.Err()
	}
}

// SendStream delivers s and blocks until the remote process has executed it. The
// returned stream is the remote result; it is nil only when no result arrived.
func (t *ClientTransport) SendStream(s *stream.Stream) (*stream.Stream, error) {
	return resultStream(t.Exchange(context.Background(), s.Records()))
}

// Alive reports whether the transport can still carry streams. It turns false once
// Close is called or the connection is lost, and never turns true again.
func (t *ClientTransport) Alive() bool {
	return !t.closed.Load() && !t.broken.Load()
}

func resultStream(records []message.Record, err error) (*stream.Stream, error) {
	if err != nil && records == nil {
		return nil, err
	}
	return stream.New(records...), err
}

// recvLoop reads frames sequentially; TCP is a byte stream, so a single reader
// is needed to keep frame boundaries intact.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			if !t.closed.Load() {
				t.logger.Warn("connection lost", zap.String("addr", t.addr), zap.Error(err))
			}
			t.closeAllPending(fmt.Errorf("%w: %v", errors.ErrTransportClosed, err))
			return
		}
		if header.MsgType != protocol.MsgTypeResult {
			continue
		}

		res := &Result{}
		res.Records, res.Err = codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body)

		if channel, ok := t.pending.LoadAndDelete(header.Seq); ok {
			channel.(chan *Result) <- res
		}
	}
}

// closeAllPending fails every waiting caller so none blocks forever.
func (t *ClientTransport) closeAllPending(err error) {
	t.broken.Store(true)
	t.pending.Range(func(key, value any) bool {
		value.(chan *Result) <- &Result{Err: err}
		t.pending.Delete(key)
		return true
	})
}

// heartbeatLoop keeps idle connections from being dropped by the server or middleboxes.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			return
		}
	}
}

// Close stops the background goroutines and closes the connection.
func (t *ClientTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)
	return t.conn.Close()
}
