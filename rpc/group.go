package rpc

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"devtools-rpc/channel"
	"devtools-rpc/middleware"
)

type ServerOptions struct {
	Channel channel.Channel // first member; nil starts the group empty
	// Timeout bounds every push call. Zero disables it.
	Timeout     time.Duration
	Middlewares []middleware.Middleware
	Logger      zerolog.Logger
	// ShutdownWait bounds how long Close waits for in-flight handlers.
	ShutdownWait time.Duration
}

// Result is the outcome of a pushed call on one member channel.
type Result struct {
	Channel channel.Channel
	Value   any
	Err     error
}

// ServerGroup serves one function table over every member channel and pushes
// calls to all of them. Members added later are dispatched against the same
// table.
type ServerGroup struct {
	table *FuncTable
	opts  ServerOptions

	mu      sync.Mutex
	members []*peer
	closed  bool
}

func NewServerGroup(fns Functions, opts ServerOptions) (*ServerGroup, error) {
	table, err := NewFuncTable(fns)
	if err != nil {
		return nil, err
	}
	g := &ServerGroup{table: table, opts: opts}
	if opts.Channel != nil {
		if err := g.AddChannel(opts.Channel); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AddChannel makes ch a member. Adding a channel twice is a no-op.
func (g *ServerGroup) AddChannel(ch channel.Channel) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	for _, m := range g.members {
		if channel.Same(m.ch, ch) {
			return nil
		}
	}
	g.members = append(g.members, newPeer(ch, g.table, g.opts.Middlewares, g.opts.Timeout, g.opts.Logger))
	return nil
}

// RemoveChannel drops ch from the group, rejecting its pending pushes with
// ErrClosed. It reports whether ch was a member.
func (g *ServerGroup) RemoveChannel(ch channel.Channel) bool {
	g.mu.Lock()
	i := slices.IndexFunc(g.members, func(m *peer) bool { return channel.Same(m.ch, ch) })
	if i < 0 {
		g.mu.Unlock()
		return false
	}
	m := g.members[i]
	g.members = slices.Delete(g.members, i, i+1)
	g.mu.Unlock()

	m.close(0)
	return true
}

// Channels returns the number of members.
func (g *ServerGroup) Channels() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// Functions returns the served names.
func (g *ServerGroup) Functions() []string {
	return g.table.Names()
}

// snapshot copies the member list so a handler that extends the group while a
// push is in progress does not disturb the iteration.
func (g *ServerGroup) snapshot() []*peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.members)
}

// BroadcastGo pushes method to every member, in member order.
func (g *ServerGroup) BroadcastGo(method string, args ...any) []*Call {
	members := g.snapshot()
	calls := make([]*Call, len(members))
	for i, m := range members {
		calls[i] = m.send(method, args)
	}
	return calls
}

// Broadcast pushes method to every member and waits for each to answer. When
// ctx ends, unanswered calls are abandoned and report ctx.Err().
func (g *ServerGroup) Broadcast(ctx context.Context, method string, args ...any) []Result {
	members := g.snapshot()
	calls := make([]*Call, len(members))
	for i, m := range members {
		calls[i] = m.send(method, args)
	}

	results := make([]Result, len(members))
	for i, call := range calls {
		results[i].Channel = members[i].ch
		select {
		case <-call.Done:
			results[i].Value, results[i].Err = call.Result, call.Error
		case <-ctx.Done():
			if members[i].fail(call.ID, ErrAbandoned) {
				results[i].Err = ctx.Err()
				continue
			}
			<-call.Done
			results[i].Value, results[i].Err = call.Result, call.Error
		}
	}
	return results
}

// Notify pushes a one-way call to every member.
func (g *ServerGroup) Notify(method string, args ...any) {
	for _, m := range g.snapshot() {
		m.notify(method, args)
	}
}

// Pending returns the number of pushes awaiting a response across all members.
func (g *ServerGroup) Pending() int {
	n := 0
	for _, m := range g.snapshot() {
		n += m.pendingCount()
	}
	return n
}

// Close removes every member and refuses new ones.
func (g *ServerGroup) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	members := g.members
	g.members = nil
	g.mu.Unlock()

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.close(g.opts.ShutdownWait)
		}()
	}
	wg.Wait()
	return nil
}
