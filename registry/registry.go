// Package registry holds the per-realm singletons: at most one RPC client and
// one RPC server group per process, however many independently initialized
// components ask for them.
//
// Construction flows consult the realm first: a second client request reuses
// the stored client, a second server request extends the stored group with a
// new channel.
package registry

import (
	"sync"

	"devtools-rpc/channel"
	"devtools-rpc/rpc"
)

// Realm is one slot pair. The zero value is ready to use.
type Realm struct {
	mu     sync.Mutex
	client *rpc.Client
	server *rpc.ServerGroup
}

// New returns an empty realm.
func New() *Realm { return &Realm{} }

var defaultRealm Realm

// Default returns the process-wide realm.
func Default() *Realm { return &defaultRealm }

// GetClient returns the stored client. It never constructs one.
func (r *Realm) GetClient() (*rpc.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.client, r.client != nil
}

// SetClient overwrites the stored client.
func (r *Realm) SetClient(c *rpc.Client) {
	r.mu.Lock()
	r.client = c
	r.mu.Unlock()
}

// GetServer returns the stored server group. It never constructs one.
func (r *Realm) GetServer() (*rpc.ServerGroup, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.server, r.server != nil
}

// SetServer overwrites the stored server group.
func (r *Realm) SetServer(g *rpc.ServerGroup) {
	r.mu.Lock()
	r.server = g
	r.mu.Unlock()
}

// ClientOrCreate returns the stored client, or builds, stores and returns a
// new one. created reports which happened. build runs under the realm lock so
// concurrent callers converge on one client.
func (r *Realm) ClientOrCreate(build func() (*rpc.Client, error)) (c *rpc.Client, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, false, nil
	}
	c, err = build()
	if err != nil {
		return nil, false, err
	}
	r.client = c
	return c, true, nil
}

// ServerOrExtend adds ch to the stored server group, or builds and stores a
// new group when none exists. The check and the extension happen under one
// lock so two concurrent extensions both end up in the member list. created
// reports whether build ran; build is expected to include ch.
func (r *Realm) ServerOrExtend(build func() (*rpc.ServerGroup, error), ch channel.Channel) (g *rpc.ServerGroup, created bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		if err := r.server.AddChannel(ch); err != nil {
			return nil, false, err
		}
		return r.server, false, nil
	}
	g, err = build()
	if err != nil {
		return nil, false, err
	}
	r.server = g
	return g, true, nil
}

// Reset empties both slots and closes what they held.
func (r *Realm) Reset() {
	r.mu.Lock()
	c, g := r.client, r.server
	r.client, r.server = nil, nil
	r.mu.Unlock()

	if c != nil {
		c.Close()
	}
	if g != nil {
		g.Close()
	}
}
