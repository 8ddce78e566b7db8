// Package preset resolves a named preset and a role into a concrete channel.
//
// Every preset ships a client factory and a server factory that only ever talk
// to each other. When the environment a preset needs is missing (no window,
// no bus) the factory returns channel.Noop() instead of an error, so code that
// wires devtools into a host never fails in a headless process.
package preset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"devtools-rpc/bus"
	"devtools-rpc/channel"
	"devtools-rpc/codec"
	"devtools-rpc/message"
	"devtools-rpc/window"
)

type Preset string

const (
	Broadcast Preset = "broadcast"
	IFrame    Preset = "iframe"
	WebSocket Preset = "websocket"
	Stream    Preset = "stream"
)

type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

var (
	ErrUnknownPreset = errors.New("preset: unknown preset")
	// ErrAcceptOnly is returned for the server role of socket presets: those
	// channels are created per accepted connection by the host server.
	ErrAcceptOnly = errors.New("preset: server channels are created by server.Server per connection")
	ErrNoAddress  = errors.New("preset: no address configured")
)

// Env is the addressing context handed to a factory.
type Env struct {
	Window window.Window // nil outside a page
	// CurrentIFrame resolves the plugin frame the server side talks to. It is
	// consulted on every post because the selected panel can change.
	CurrentIFrame func() *window.IFrame
	Bus           bus.PubSub
	URL           string // websocket preset
	Addr          string // stream preset, host:port
	Context       context.Context
	Codec         codec.Codec
	Logger        zerolog.Logger
}

func (env Env) codec() codec.Codec {
	if env.Codec != nil {
		return env.Codec
	}
	return codec.GetCodec(codec.CodecTypeTagged)
}

func (env Env) context() context.Context {
	if env.Context != nil {
		return env.Context
	}
	return context.Background()
}

// Factory builds the channel for one preset and role.
type Factory func(env Env) (channel.Channel, error)

type key struct {
	preset Preset
	role   Role
}

// Registry maps preset and role to a factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[key]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[key]Factory)}
}

// Register installs or replaces the factory for p and role.
func (r *Registry) Register(p Preset, role Role, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key{p, role}] = f
}

func (r *Registry) Lookup(p Preset, role Role) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[key{p, role}]
	return f, ok
}

// NewChannel resolves p and role and runs the factory.
func (r *Registry) NewChannel(p Preset, role Role, env Env) (channel.Channel, error) {
	f, ok := r.Lookup(p, role)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownPreset, p, role)
	}
	ch, err := f(env)
	if err != nil {
		return nil, fmt.Errorf("preset %s/%s: %w", p, role, err)
	}
	return ch, nil
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry returns the shared registry holding the built-in presets.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		defaultRegistry.Register(Broadcast, RoleClient, NewBroadcast)
		defaultRegistry.Register(Broadcast, RoleServer, NewBroadcast)
		defaultRegistry.Register(IFrame, RoleClient, NewIFrameClient)
		defaultRegistry.Register(IFrame, RoleServer, NewIFrameServer)
		defaultRegistry.Register(WebSocket, RoleClient, DialWebSocket)
		defaultRegistry.Register(WebSocket, RoleServer, acceptOnly)
		defaultRegistry.Register(Stream, RoleClient, DialStream)
		defaultRegistry.Register(Stream, RoleServer, acceptOnly)
	})
	return defaultRegistry
}

func acceptOnly(Env) (channel.Channel, error) { return nil, ErrAcceptOnly }

// slot holds the handler of a channel whose listener is attached once at
// construction and outlives handler replacement.
type slot struct {
	mu      sync.Mutex
	handler channel.Handler
}

func (s *slot) set(h channel.Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *slot) deliver(env *message.Envelope) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h(env)
	}
}
