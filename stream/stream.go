// Package stream implements the Stream Buffer: an append-only, ordered sequence of
// invocation records that is built by a caller, dispatched to one or more destinations,
// and reset for reuse.
//
// State machine:
//
//	Empty ──Append──► Populated ──MarkDispatched──► Dispatched
//	  ▲                   │                             │
//	  └──────Reset────────┴──────────Reset──────────────┘
//
// Appending to a Dispatched stream moves it back to Populated.
package stream

import (
	"encoding/base64"
	"fmt"
	"io"
	"sync"

	"cs-router/codec"
	"cs-router/errors"
	"cs-router/message"
)

// State is the lifecycle state of a Stream.
type State int

const (
	Empty State = iota
	Populated
	Dispatched
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Populated:
		return "populated"
	case Dispatched:
		return "dispatched"
	default:
		return "unknown"
	}
}

// wireCodec is the encoding behind the text and binary forms.
var wireCodec codec.Codec = &codec.BinaryCodec{}

// Stream is safe for concurrent use; appends from several goroutines are serialized
// and keep their individual record boundaries.
type Stream struct {
	mu         sync.Mutex
	records    []message.Record
	dispatched bool
}

// New returns a stream holding records.
func New(records ...message.Record) *Stream {
	s := &Stream{}
	s.Append(records...)
	return s
}

// Append adds records at the end of the stream.
func (s *Stream) Append(records ...message.Record) {
	if len(records) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	s.dispatched = false
}

// Invoke appends a call of method on the object target.
func (s *Stream) Invoke(target message.ID, method string, args ...message.Value) {
	s.Append(message.Record{Command: message.Invoke, Target: target, Method: method, Args: args})
}

// New appends the creation of an instance of class at id.
func (s *Stream) New(class string, id message.ID) {
	s.Append(message.Record{Command: message.New, Target: id, Method: class})
}

// Delete appends the removal of the object at id.
func (s *Stream) Delete(id message.ID) {
	s.Append(message.Record{Command: message.Delete, Target: id})
}

// Assign appends binding args[0] to id.
func (s *Stream) Assign(id message.ID, args ...message.Value) {
	s.Append(message.Record{Command: message.Assign, Target: id, Args: args})
}

// Reply appends a result record.
func (s *Stream) Reply(args ...message.Value) {
	s.Append(message.Record{Command: message.Reply, Args: args})
}

// Error appends an error record carrying msg.
func (s *Stream) Error(msg string) {
	s.Append(message.Record{Command: message.Error, Args: []message.Value{message.String(msg)}})
}

// Reset removes every record.
func (s *Stream) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.dispatched = false
}

// MarkDispatched records that the stream was sent without being reset.
func (s *Stream) MarkDispatched() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) > 0 {
		s.dispatched = true
	}
}

// State reports the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case len(s.records) == 0:
		return Empty
	case s.dispatched:
		return Dispatched
	default:
		return Populated
	}
}

// Len returns the number of records.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Records returns a copy of the records in append order.
func (s *Stream) Records() []message.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]message.Record(nil), s.records...)
}

// Record returns the i-th record.
func (s *Stream) Record(i int) (message.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.records) {
		return message.Record{}, false
	}
	return s.records[i], true
}

// Clone returns an independent stream with the same records.
func (s *Stream) Clone() *Stream {
	return New(s.Records()...)
}

// FirstError returns the message of the first record when it is an Error record.
func (s *Stream) FirstError() (string, bool) {
	rec, ok := s.Record(0)
	if !ok {
		return "", false
	}
	return rec.ErrorMessage()
}

// MarshalBinary encodes the records with the binary codec.
func (s *Stream) MarshalBinary() ([]byte, error) {
	return wireCodec.Encode(s.Records())
}

// UnmarshalBinary replaces the records with the decoded data.
// On failure the stream is left untouched.
func (s *Stream) UnmarshalBinary(data []byte) error {
	records, err := wireCodec.Decode(data)
	if err != nil {
		return err
	}
	s.replace(records)
	return nil
}

// ToString returns the text form of the stream, suitable for any transport that
// carries strings. Only oversized method names or argument lists fail to encode.
func (s *Stream) ToString() (string, error) {
	data, err := s.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// FromString replaces the records with those in text. Malformed text leaves the
// stream untouched and returns an error wrapping errors.ErrMalformedStream.
func (s *Stream) FromString(text string) error {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrMalformedStream, err),
			"Stream", "FromString", "decode text")
	}
	return s.UnmarshalBinary(data)
}

func (s *Stream) replace(records []message.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.dispatched = false
}

// Print writes a textual replay of every record, one per line.
func (s *Stream) Print(w io.Writer) error {
	for i, rec := range s.Records() {
		if _, err := fmt.Fprintf(w, "Message %d = %s\n", i, rec); err != nil {
			return err
		}
	}
	return nil
}

// PrintRecord writes the textual replay of record i.
func (s *Stream) PrintRecord(w io.Writer, i int) error {
	rec, ok := s.Record(i)
	if !ok {
		return fmt.Errorf("stream: no record %d", i)
	}
	_, err := fmt.Fprintf(w, "Message %d = %s\n", i, rec)
	return err
}
