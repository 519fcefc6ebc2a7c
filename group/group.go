// Package group reaches every process serving one role.
//
// A Group discovers its members through a registry, keeps one multiplexed transport per
// member, and sends each stream to all of them in rank order. Root() addresses rank 0 only.
package group

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"cs-router/errors"
	"cs-router/registry"
	"cs-router/stream"
	"cs-router/transport"
)

const (
	DefaultDialAttempts = 3
	DefaultDialBackoff  = 100 * time.Millisecond
)

// Sender is anything a stream can be handed to. It answers with the result of the
// process that executed the stream.
type Sender interface {
	SendStream(s *stream.Stream) (*stream.Stream, error)
}

type member struct {
	instance  registry.Instance
	transport *transport.ClientTransport
}

// Group is the set of processes registered under a role.
type Group struct {
	role         string
	registry     registry.Registry
	logger       *zap.Logger
	opts         transport.Options
	dialAttempts int
	dialBackoff  time.Duration
	timeout      time.Duration

	// syncMu serializes membership updates from Connect and Watch.
	syncMu sync.Mutex

	mu      sync.Mutex
	members []*member // rank order
}

type Option func(*Group)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Group) { g.logger = logger }
}

// WithTransportOptions sets the codec and heartbeat of member connections.
func WithTransportOptions(opts transport.Options) Option {
	return func(g *Group) { g.opts = opts }
}

// WithDialRetries bounds connection attempts per member; the wait doubles after each failure.
func WithDialRetries(attempts int, backoff time.Duration) Option {
	return func(g *Group) {
		g.dialAttempts = attempts
		g.dialBackoff = backoff
	}
}

// WithTimeout bounds each exchange with a member. Zero waits indefinitely.
func WithTimeout(d time.Duration) Option {
	return func(g *Group) { g.timeout = d }
}

func New(role string, reg registry.Registry, opts ...Option) *Group {
	g := &Group{
		role:         role,
		registry:     reg,
		logger:       zap.NewNop(),
		dialAttempts: DefaultDialAttempts,
		dialBackoff:  DefaultDialBackoff,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.opts.Logger == nil {
		g.opts.Logger = g.logger
	}
	return g
}

// Role returns the role name the group was created for.
func (g *Group) Role() string {
	return g.role
}

// Connect discovers the role's instances and dials the ones not yet connected.
// Members that fail to connect are left out and reported in the returned error.
func (g *Group) Connect(ctx context.Context) error {
	instances, err := g.registry.Discover(ctx, g.role)
	if err != nil {
		return errors.Wrap(err, "Group", "Connect", "discover "+g.role)
	}
	return g.sync(ctx, instances)
}

// sync makes the member list match instances, reusing live connections and redialing
// members whose connection was lost.
func (g *Group) sync(ctx context.Context, instances []registry.Instance) error {
	g.syncMu.Lock()
	defer g.syncMu.Unlock()

	g.mu.Lock()
	current := make(map[string]*member, len(g.members))
	for _, m := range g.members {
		current[m.instance.Addr] = m
	}
	g.mu.Unlock()

	var errs error
	members := make([]*member, 0, len(instances))
	for _, inst := range instances {
		if m, ok := current[inst.Addr]; ok {
			if m.transport.Alive() {
				delete(current, inst.Addr)
				members = append(members, &member{instance: inst, transport: m.transport})
				continue
			}
			g.logger.Info("redialing member", zap.String("role", g.role), zap.String("addr", inst.Addr))
		}
		t, err := g.dial(ctx, inst.Addr)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s rank %d at %s: %w", g.role, inst.Rank, inst.Addr, err))
			continue
		}
		members = append(members, &member{instance: inst, transport: t})
	}

	g.mu.Lock()
	g.members = members
	g.mu.Unlock()

	for addr, m := range current {
		if m.transport.Alive() {
			g.logger.Info("member left", zap.String("role", g.role), zap.String("addr", addr))
		}
		m.transport.Close()
	}
	g.logger.Debug("group synced", zap.String("role", g.role), zap.Int("members", len(members)))
	return errs
}

func (g *Group) dial(ctx context.Context, addr string) (*transport.ClientTransport, error) {
	backoff := g.dialBackoff
	var err error
	for attempt := 1; attempt <= g.dialAttempts; attempt++ {
		var t *transport.ClientTransport
		t, err = transport.Dial(ctx, addr, g.opts)
		if err == nil {
			return t, nil
		}
		g.logger.Debug("dial failed",
			zap.String("addr", addr),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == g.dialAttempts {
			break
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, err
}

// Members returns the connected instances in rank order.
func (g *Group) Members() []registry.Instance {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]registry.Instance, len(g.members))
	for i, m := range g.members {
		out[i] = m.instance
	}
	return out
}

func (g *Group) snapshot() []*member {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*member(nil), g.members...)
}

// SendStream hands s to every member in rank order and waits for each to execute it.
// A failing member does not stop the others. The returned result is the root's.
func (g *Group) SendStream(s *stream.Stream) (*stream.Stream, error) {
	members := g.snapshot()
	if len(members) == 0 {
		return nil, fmt.Errorf("%s: %w", g.role, errors.ErrNoMembers)
	}
	var rootResult *stream.Stream
	var errs error
	for i, m := range members {
		result, err := g.exchange(m, s)
		if i == 0 {
			rootResult = result
		}
		errs = multierr.Append(errs, err)
	}
	return rootResult, errs
}

func (g *Group) exchange(m *member, s *stream.Stream) (*stream.Stream, error) {
	ctx := context.Background()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	records, err := m.transport.Exchange(ctx, s.Records())
	if err != nil && records == nil {
		return nil, err
	}
	return stream.New(records...), err
}

type root struct{ g *Group }

func (r root) SendStream(s *stream.Stream) (*stream.Stream, error) {
	members := r.g.snapshot()
	if len(members) == 0 {
		return nil, fmt.Errorf("%s root: %w", r.g.role, errors.ErrNoMembers)
	}
	return r.g.exchange(members[0], s)
}

// Root returns a Sender reaching only the rank 0 member.
func (g *Group) Root() Sender {
	return root{g: g}
}

// Watch follows registry changes until ctx is done, connecting new members and
// dropping departed ones.
func (g *Group) Watch(ctx context.Context) {
	updates := g.registry.Watch(ctx, g.role)
	go func() {
		for instances := range updates {
			if err := g.sync(ctx, instances); err != nil {
				g.logger.Warn("membership update incomplete", zap.String("role", g.role), zap.Error(err))
			}
		}
	}()
}

// Close closes every member connection.
func (g *Group) Close() error {
	g.mu.Lock()
	members := g.members
	g.members = nil
	g.mu.Unlock()

	var errs error
	for _, m := range members {
		errs = multierr.Append(errs, m.transport.Close())
	}
	return errs
}
