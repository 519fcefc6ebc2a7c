// etcd keeps one key per process:
//
//	Key:   /cs-router/{role}/{addr}
//	Value: JSON-encoded Instance
//
// Keys are attached to a TTL lease renewed by KeepAlive, so a crashed process disappears
// from its group once the lease expires.

package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const keyPrefix = "/cs-router/"

func rolePrefix(role string) string {
	return keyPrefix + role + "/"
}

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client
	logger *zap.Logger
	// ctx outlives individual calls: lease renewals and watches run until Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{client: c, logger: logger, ctx: ctx, cancel: cancel}, nil
}

// Register stores instance under a lease of ttl seconds and keeps the lease alive.
//
// The lease ID stays local so one registry can register several processes without a race.
func (r *EtcdRegistry) Register(ctx context.Context, instance Instance, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, rolePrefix(instance.Role)+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return err
	}

	// Drain responses so the keepalive channel never fills.
	go func() {
		for range ch {
		}
		r.logger.Debug("lease keepalive stopped",
			zap.String("role", instance.Role),
			zap.String("addr", instance.Addr))
	}()
	return nil
}

// Deregister removes a process. Called during graceful shutdown before the listener closes.
func (r *EtcdRegistry) Deregister(ctx context.Context, role string, addr string) error {
	_, err := r.client.Delete(ctx, rolePrefix(role)+addr)
	return err
}

// Watch re-reads the role after every change (registration, deregistration, lease expiry).
func (r *EtcdRegistry) Watch(ctx context.Context, role string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, rolePrefix(role), clientv3.WithPrefix())
		for range watchChan {
			instances, err := r.Discover(ctx, role)
			if err != nil {
				r.logger.Warn("rediscover after watch event failed", zap.String("role", role), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

func (r *EtcdRegistry) Discover(ctx context.Context, role string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, rolePrefix(role), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			r.logger.Warn("skipping malformed registry entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, instance)
	}
	SortByRank(instances)
	return instances, nil
}

// Close stops lease renewals and closes the etcd client.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}
