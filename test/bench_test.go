package test

import (
	"testing"

	"cs-router/codec"
	"cs-router/destination"
	"cs-router/message"
	"cs-router/registry"
	"cs-router/stream"
)

func benchRecords() []message.Record {
	return []message.Record{
		{Command: message.Invoke, Target: 9, Method: "SetCenter", Args: []message.Value{message.Floats(1, 2, 3)}},
		{Command: message.Invoke, Target: 9, Method: "Note", Args: []message.Value{message.String("bench")}},
	}
}

// Serial sends through the full chain to one data server.
func BenchmarkSendToDataServer(b *testing.B) {
	reg := registry.NewMemoryRegistry()
	tl := &timeline{}
	startServer(b, reg, "data-server", 0, "data0", tl)
	r := clientRouter(b, reg, tl)

	s := stream.New(message.Record{Command: message.Assign, Target: 9, Args: []message.Value{message.Int(1)}})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.Send(destination.DataServer, s, false); err != nil {
			b.Fatal(err)
		}
	}
}

// Local execution only, no network.
func BenchmarkSendToClient(b *testing.B) {
	reg := registry.NewMemoryRegistry()
	r := clientRouter(b, reg, &timeline{})

	s := stream.New(message.Record{Command: message.Invoke, Target: message.ProcessModuleID, Method: "UniqueID"})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := r.Send(destination.Client, s, false); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecJSON(b *testing.B) {
	cdc := codec.GetCodec(codec.CodecTypeJSON)
	records := benchRecords()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(records)
		cdc.Decode(data)
	}
}

func BenchmarkCodecBinary(b *testing.B) {
	cdc := codec.GetCodec(codec.CodecTypeBinary)
	records := benchRecords()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(records)
		cdc.Decode(data)
	}
}
