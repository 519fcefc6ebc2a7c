package transport

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"cs-router/codec"
	"cs-router/errors"
	"cs-router/message"
	"cs-router/protocol"
	"cs-router/stream"
)

// SubjectPrefix starts every subject a server role listens on.
const SubjectPrefix = "csrouter."

// Subject returns the NATS subject of a process role, e.g. "csrouter.data-server".
func Subject(role string) string {
	return SubjectPrefix + role
}

// NATSTransport sends streams as NATS requests. Each request carries one protocol
// frame; the reply carries the result frame.
type NATSTransport struct {
	nc      *nats.Conn
	subject string
	codec   codec.CodecType
	timeout time.Duration
}

// NewNATSTransport returns a transport publishing to subject. A zero timeout waits
// until the context of each exchange is done.
func NewNATSTransport(nc *nats.Conn, subject string, codecType codec.CodecType, timeout time.Duration) *NATSTransport {
	return &NATSTransport{nc: nc, subject: subject, codec: codecType, timeout: timeout}
}

// EncodeFrame wraps records into a single frame held in memory.
func EncodeFrame(codecType codec.CodecType, msgType protocol.MsgType, records []message.Record) ([]byte, error) {
	body, err := codec.GetCodec(codecType).Encode(records)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	header := &protocol.Header{CodecType: byte(codecType), MsgType: msgType}
	if err := protocol.Encode(&buf, header, body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(data []byte) (*protocol.Header, []message.Record, error) {
	header, body, err := protocol.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}
	records, err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body)
	if err != nil {
		return nil, nil, err
	}
	return header, records, nil
}

// Exchange sends records and waits for the reply.
func (t *NATSTransport) Exchange(ctx context.Context, records []message.Record) ([]message.Record, error) {
	data, err := EncodeFrame(t.codec, protocol.MsgTypeStream, records)
	if err != nil {
		return nil, err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	msg, err := t.nc.RequestWithContext(ctx, t.subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", t.subject, err)
	}
	header, result, err := DecodeFrame(msg.Data)
	if err != nil {
		return nil, err
	}
	if header.MsgType != protocol.MsgTypeResult {
		return nil, fmt.Errorf("request %s: unexpected frame type %d", t.subject, header.MsgType)
	}
	if len(result) > 0 {
		if m, ok := result[0].ErrorMessage(); ok {
			return result, &errors.RemoteError{Addr: t.subject, Message: m}
		}
	}
	return result, nil
}

// SendStream delivers s and blocks until the reply arrives, returning the reply's records.
func (t *NATSTransport) SendStream(s *stream.Stream) (*stream.Stream, error) {
	return resultStream(t.Exchange(context.Background(), s.Records()))
}
