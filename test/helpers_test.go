package test

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"cs-router/codec"
	"cs-router/destination"
	"cs-router/group"
	"cs-router/interpreter"
	"cs-router/message"
	"cs-router/registry"
	"cs-router/router"
	"cs-router/server"
	"cs-router/transport"
)

// timeline is shared by every process of a test and records executions in order.
type timeline struct {
	mu      sync.Mutex
	entries []string
}

func (tl *timeline) add(entry string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = append(tl.entries, entry)
}

func (tl *timeline) all() []string {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]string(nil), tl.entries...)
}

// Journal is the class every process registers.
type Journal struct {
	process string
	tl      *timeline
	Notes   []string
}

func (j *Journal) Note(text string) {
	j.Notes = append(j.Notes, text)
	j.tl.add(j.process + ":" + text)
}

func (j *Journal) Fail() error {
	return errors.New("bad argument")
}

func (j *Journal) Count() int {
	return len(j.Notes)
}

func newInterpreter(process string, tl *timeline) *interpreter.Interpreter {
	interp := interpreter.New(zap.NewNop())
	interp.RegisterClass("Journal", func() any { return &Journal{process: process, tl: tl} })
	return interp
}

type tb interface {
	Helper()
	Fatal(args ...any)
	Cleanup(func())
}

func startServer(t tb, reg registry.Registry, role string, rank int, process string, tl *timeline) *server.Server {
	t.Helper()
	// Servers expose their process module like the csrouter binary does.
	r := router.New(router.WithInterpreter(newInterpreter(process, tl)), router.WithReportInterpreterErrors(false))
	svr := server.NewServer(r.Interpreter(),
		server.WithRegistry(reg, registry.NewInstance(role, "", rank)))
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.ServeListener(listener)
	t.Cleanup(func() { svr.Shutdown(3 * time.Second) })

	addr := svr.Addr().String()
	deadline := time.Now().Add(2 * time.Second)
	for {
		instances, _ := reg.Discover(context.Background(), role)
		for _, inst := range instances {
			if inst.Addr == addr {
				return svr
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("server did not register")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func newJournal(t tb, r *router.Router) message.ID {
	t.Helper()
	id, err := r.NewStreamObject("Journal")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func connectGroup(t tb, reg registry.Registry, role string) *group.Group {
	t.Helper()
	g := group.New(role, reg,
		group.WithTransportOptions(transport.Options{Codec: codec.CodecTypeBinary}),
		group.WithTimeout(5*time.Second))
	if err := g.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

// clientRouter wires the data and render server groups into a router whose local
// interpreter records into tl as "client".
func clientRouter(t tb, reg registry.Registry, tl *timeline, opts ...router.Option) *router.Router {
	t.Helper()
	data := connectGroup(t, reg, "data-server")
	render := connectGroup(t, reg, "render-server")
	opts = append([]router.Option{
		router.WithInterpreter(newInterpreter("client", tl)),
		router.WithTransport(destination.DataServer, data),
		router.WithTransport(destination.DataServerRoot, data.Root()),
		router.WithTransport(destination.RenderServer, render),
		router.WithTransport(destination.RenderServerRoot, render.Root()),
	}, opts...)
	r := router.New(opts...)
	t.Cleanup(func() { r.Close() })
	return r
}
