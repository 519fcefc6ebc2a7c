package registry

import (
	"context"
	"sync"
)

// MemoryRegistry is an in-process Registry for single-host deployments and tests.
// TTLs are ignored.
type MemoryRegistry struct {
	mu       sync.Mutex
	roles    map[string]map[string]Instance
	watchers map[string][]chan []Instance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		roles:    make(map[string]map[string]Instance),
		watchers: make(map[string][]chan []Instance),
	}
}

func (r *MemoryRegistry) Register(ctx context.Context, instance Instance, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.roles[instance.Role]
	if !ok {
		members = make(map[string]Instance)
		r.roles[instance.Role] = members
	}
	members[instance.Addr] = instance
	r.notifyLocked(instance.Role)
	return nil
}

func (r *MemoryRegistry) Deregister(ctx context.Context, role string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles[role], addr)
	r.notifyLocked(role)
	return nil
}

func (r *MemoryRegistry) Discover(ctx context.Context, role string) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(role), nil
}

func (r *MemoryRegistry) Watch(ctx context.Context, role string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	r.mu.Lock()
	r.watchers[role] = append(r.watchers[role], ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		watchers := r.watchers[role]
		for i, w := range watchers {
			if w == ch {
				r.watchers[role] = append(watchers[:i], watchers[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch
}

func (r *MemoryRegistry) listLocked(role string) []Instance {
	instances := make([]Instance, 0, len(r.roles[role]))
	for _, inst := range r.roles[role] {
		instances = append(instances, inst)
	}
	SortByRank(instances)
	return instances
}

// notifyLocked replaces any unread update so watchers always see the newest list.
func (r *MemoryRegistry) notifyLocked(role string) {
	instances := r.listLocked(role)
	for _, ch := range r.watchers[role] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}
