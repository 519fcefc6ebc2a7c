// Package registry tracks which processes currently serve each role.
//
// A data server group, for example, is every instance registered under role "data-server".
// Rank 0 is the group root.
package registry

import (
	"context"
	"sort"

	"github.com/google/uuid"
)

type Instance struct {
	ID   uuid.UUID `json:"id"`
	Addr string    `json:"addr"`
	Role string    `json:"role"`
	Rank int       `json:"rank"`
}

// NewInstance returns an instance with a fresh ID.
func NewInstance(role, addr string, rank int) Instance {
	return Instance{ID: uuid.New(), Addr: addr, Role: role, Rank: rank}
}

type Registry interface {
	Register(ctx context.Context, instance Instance, ttl int64) error
	Deregister(ctx context.Context, role string, addr string) error
	// Discover returns the role's instances sorted by rank.
	Discover(ctx context.Context, role string) ([]Instance, error)
	// Watch emits the full instance list after every change until ctx is done.
	Watch(ctx context.Context, role string) <-chan []Instance
}

// SortByRank orders instances by rank, then address.
func SortByRank(instances []Instance) {
	sort.SliceStable(instances, func(i, j int) bool {
		if instances[i].Rank != instances[j].Rank {
			return instances[i].Rank < instances[j].Rank
		}
		return instances[i].Addr < instances[j].Addr
	})
}
