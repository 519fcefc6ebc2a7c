package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx := context.Background()

	root := NewInstance("data-server", "127.0.0.1:8001", 0)
	second := NewInstance("data-server", "127.0.0.1:8000", 1)
	other := NewInstance("render-server", "127.0.0.1:9000", 0)
	for _, inst := range []Instance{second, root, other} {
		require.NoError(t, reg.Register(ctx, inst, 10))
	}

	instances, err := reg.Discover(ctx, "data-server")
	require.NoError(t, err)
	assert.Equal(t, []Instance{root, second}, instances)

	require.NoError(t, reg.Deregister(ctx, "data-server", root.Addr))
	instances, err = reg.Discover(ctx, "data-server")
	require.NoError(t, err)
	assert.Equal(t, []Instance{second}, instances)

	instances, err = reg.Discover(ctx, "client")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	ch := reg.Watch(ctx, "data-server")

	a := NewInstance("data-server", "127.0.0.1:8001", 0)
	b := NewInstance("data-server", "127.0.0.1:8002", 1)
	require.NoError(t, reg.Register(context.Background(), a, 10))
	require.NoError(t, reg.Register(context.Background(), b, 10))

	// Unread updates collapse into the newest list.
	select {
	case instances := <-ch:
		assert.Equal(t, []Instance{a, b}, instances)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "watch channel closes with its context")
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestSortByRank(t *testing.T) {
	instances := []Instance{
		{Addr: "b", Rank: 1},
		{Addr: "c", Rank: 0},
		{Addr: "a", Rank: 1},
	}
	SortByRank(instances)
	assert.Equal(t, []string{"c", "a", "b"}, []string{instances[0].Addr, instances[1].Addr, instances[2].Addr})
}
