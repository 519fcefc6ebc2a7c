package group

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"cs-router/codec"
	csrerrors "cs-router/errors"
	"cs-router/interpreter"
	"cs-router/message"
	"cs-router/registry"
	"cs-router/server"
	"cs-router/stream"
	"cs-router/transport"
)

// journal records which process executed what, across all processes of a test.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type Recorder struct {
	name string
	log  *journal
}

func (r *Recorder) Record(label string) string {
	r.log.add(r.name + ":" + label)
	return r.name
}

func (r *Recorder) Fail() error {
	return errors.New("bad argument")
}

func startMember(t *testing.T, reg registry.Registry, role string, rank int, name string, log *journal) *server.Server {
	return startMemberAt(t, reg, role, rank, name, log, "127.0.0.1:0")
}

func startMemberAt(t *testing.T, reg registry.Registry, role string, rank int, name string, log *journal, addr string) *server.Server {
	interp := interpreter.New(zaptest.NewLogger(t))
	interp.Bind(5, &Recorder{name: name, log: log})

	listener, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	svr := server.NewServer(interp,
		server.WithLogger(zaptest.NewLogger(t)),
		server.WithRegistry(reg, registry.NewInstance(role, listener.Addr().String(), rank)))
	go svr.ServeListener(listener)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	svr.Addr()
	require.Eventually(t, func() bool {
		instances, _ := reg.Discover(context.Background(), role)
		for _, inst := range instances {
			if inst.Addr == listener.Addr().String() {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	return svr
}

func newGroup(t *testing.T, reg registry.Registry) *Group {
	g := New("data-server", reg,
		WithLogger(zaptest.NewLogger(t)),
		WithTransportOptions(transport.Options{Codec: codec.CodecTypeBinary}),
		WithDialRetries(2, 10*time.Millisecond),
		WithTimeout(2*time.Second))
	t.Cleanup(func() { g.Close() })
	return g
}

func record(label string) *stream.Stream {
	s := &stream.Stream{}
	s.Invoke(5, "Record", message.String(label))
	return s
}

func TestSendStreamReachesAllMembersInRankOrder(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	log := &journal{}
	startMember(t, reg, "data-server", 1, "rank1", log)
	startMember(t, reg, "data-server", 0, "rank0", log)

	g := newGroup(t, reg)
	require.NoError(t, g.Connect(context.Background()))
	require.Len(t, g.Members(), 2)
	assert.Equal(t, 0, g.Members()[0].Rank)

	result, err := g.SendStream(record("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"rank0:a", "rank1:a"}, log.all())
	assert.Equal(t, []message.Record{{Command: message.Reply, Args: []message.Value{message.String("rank0")}}},
		result.Records(), "the group answers with the root's result")
}

func TestRootReachesRankZeroOnly(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	log := &journal{}
	startMember(t, reg, "data-server", 0, "rank0", log)
	startMember(t, reg, "data-server", 1, "rank1", log)

	g := newGroup(t, reg)
	require.NoError(t, g.Connect(context.Background()))

	result, err := g.Root().SendStream(record("r"))
	require.NoError(t, err)
	assert.Equal(t, []string{"rank0:r"}, log.all())
	assert.Equal(t, []message.Value{message.String("rank0")}, result.Records()[0].Args)
}

func TestEmptyGroup(t *testing.T) {
	g := newGroup(t, registry.NewMemoryRegistry())
	require.NoError(t, g.Connect(context.Background()))

	_, err := g.SendStream(record("x"))
	assert.ErrorIs(t, err, csrerrors.ErrNoMembers)
	_, err = g.Root().SendStream(record("x"))
	assert.ErrorIs(t, err, csrerrors.ErrNoMembers)
}

func TestMemberErrorsAreCombined(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	log := &journal{}
	startMember(t, reg, "data-server", 0, "rank0", log)
	startMember(t, reg, "data-server", 1, "rank1", log)

	g := newGroup(t, reg)
	require.NoError(t, g.Connect(context.Background()))

	s := &stream.Stream{}
	s.Invoke(5, "Fail")
	result, err := g.SendStream(s)
	require.Error(t, err)
	msg, ok := result.FirstError()
	require.True(t, ok)
	assert.Equal(t, "bad argument", msg)
	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	var remote *csrerrors.RemoteError
	require.ErrorAs(t, errs[0], &remote)
	assert.Equal(t, "bad argument", remote.Message)
}

func TestUnreachableMemberIsReported(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	log := &journal{}
	startMember(t, reg, "data-server", 0, "rank0", log)

	// Reserve an address nobody listens on.
	dead, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	deadAddr := dead.Addr().String()
	dead.Close()
	require.NoError(t, reg.Register(context.Background(), registry.NewInstance("data-server", deadAddr, 1), 10))

	g := newGroup(t, reg)
	err = g.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), deadAddr)

	require.Len(t, g.Members(), 1)
	_, err = g.SendStream(record("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"rank0:b"}, log.all())
}

func TestWatchFollowsMembership(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	log := &journal{}
	startMember(t, reg, "data-server", 0, "rank0", log)

	g := newGroup(t, reg)
	require.NoError(t, g.Connect(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.Watch(ctx)

	second := startMember(t, reg, "data-server", 1, "rank1", log)
	require.Eventually(t, func() bool { return len(g.Members()) == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, second.Shutdown(time.Second))
	require.Eventually(t, func() bool { return len(g.Members()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, g.Members()[0].Rank)
}

func TestConnectRedialsRestartedMember(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	log := &journal{}
	first := startMember(t, reg, "data-server", 0, "m", log)
	addr := first.Addr().String()

	g := newGroup(t, reg)
	require.NoError(t, g.Connect(context.Background()))
	_, err := g.SendStream(record("a"))
	require.NoError(t, err)

	require.NoError(t, first.Shutdown(time.Second))
	require.Eventually(t, func() bool {
		members := g.snapshot()
		return len(members) == 1 && !members[0].transport.Alive()
	}, 2*time.Second, 10*time.Millisecond)

	startMemberAt(t, reg, "data-server", 0, "m", log, addr)
	require.NoError(t, g.Connect(context.Background()))
	_, err = g.SendStream(record("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"m:a", "m:b"}, log.all())
}

func TestConcurrentSyncsKeepOneConnectionPerMember(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	log := &journal{}
	startMember(t, reg, "data-server", 0, "rank0", log)
	startMember(t, reg, "data-server", 1, "rank1", log)

	g := newGroup(t, reg)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Connect(context.Background()))
		}()
	}
	wg.Wait()

	members := g.snapshot()
	require.Len(t, members, 2)
	first := members[0].transport
	require.NoError(t, g.Connect(context.Background()))
	assert.Same(t, first, g.snapshot()[0].transport, "a live connection is reused")
	assert.True(t, first.Alive())
}
