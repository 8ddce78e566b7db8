package discovery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyPrefix roots every key this package writes to etcd:
//
//	Key:   /devtools-rpc/{name}/{addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if the host crashes, the lease expires
// and the entry is removed.
const KeyPrefix = "/devtools-rpc/"

const requestTimeout = 5 * time.Second

// EtcdRegistry implements Registry on etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
	log    zerolog.Logger

	ctx    context.Context // cancelled by Close; scopes keepalives and watches
	cancel context.CancelFunc

	mu     sync.Mutex
	leases map[string]clientv3.LeaseID // key → lease, revoked on Deregister
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, log zerolog.Logger) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: requestTimeout,
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdRegistry{
		client: c,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		leases: make(map[string]clientv3.LeaseID),
	}, nil
}

func key(name, addr string) string { return KeyPrefix + name + "/" + addr }

func prefix(name string) string { return KeyPrefix + name + "/" }

// Register adds an instance under a lease of ttl seconds and keeps the lease
// alive until Deregister or Close.
//
// Flow:
//  1. Create a lease with the given TTL
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to renew the lease automatically
func (r *EtcdRegistry) Register(name string, instance Instance, ttl int64) error {
	ctx, cancel := context.WithTimeout(r.ctx, requestTimeout)
	defer cancel()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	k := key(name, instance.Addr)
	if _, err := r.client.Put(ctx, k, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return err
	}

	// KeepAlive must outlive this call, so it runs on the registry context.
	ch, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.leases[k] = lease.ID
	r.mu.Unlock()

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		r.log.Debug().Str("key", k).Msg("etcd keepalive stopped")
	}()
	return nil
}

// Deregister removes an instance and revokes its lease.
// Called during graceful shutdown before closing the listener.
func (r *EtcdRegistry) Deregister(name string, addr string) error {
	ctx, cancel := context.WithTimeout(r.ctx, requestTimeout)
	defer cancel()

	k := key(name, addr)
	if _, err := r.client.Delete(ctx, k); err != nil {
		return err
	}

	r.mu.Lock()
	id, ok := r.leases[k]
	delete(r.leases, k)
	r.mu.Unlock()
	if ok {
		if _, err := r.client.Revoke(ctx, id); err != nil {
			r.log.Debug().Err(err).Str("key", k).Msg("revoke lease")
		}
	}
	return nil
}

// Watch emits the full instance list whenever the name's entries change
// (registrations, deregistrations, lease expirations). The channel is closed
// when the registry is closed.
func (r *EtcdRegistry) Watch(name string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(r.ctx, prefix(name), clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full instance list
			// (simpler than parsing individual watch events)
			instances, err := r.Discover(name)
			if err != nil {
				r.log.Debug().Err(err).Str("name", name).Msg("etcd rediscover failed")
				continue
			}
			select {
			case ch <- instances:
			case <-r.ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered instances for name.
func (r *EtcdRegistry) Discover(name string) ([]Instance, error) {
	ctx, cancel := context.WithTimeout(r.ctx, requestTimeout)
	defer cancel()

	resp, err := r.client.Get(ctx, prefix(name), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

// Close stops keepalives and watches and closes the etcd client. Leased
// entries expire after their TTL.
func (r *EtcdRegistry) Close() error {
	r.cancel()
	return r.client.Close()
}

var _ Registry = (*EtcdRegistry)(nil)
