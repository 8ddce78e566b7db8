// Package bridge is the construction API used by host and plugin code.
//
// Calls are coalesced through a registry.Realm: however many components ask
// for a client, they share one; every server construction adds its channel to
// the one group of the realm.
package bridge

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"devtools-rpc/channel"
	"devtools-rpc/middleware"
	"devtools-rpc/preset"
	"devtools-rpc/registry"
	"devtools-rpc/rpc"
)

var ErrNoTransport = errors.New("bridge: neither Channel nor Preset set")

type Options struct {
	// Channel is used as is when set. Otherwise Preset is resolved through
	// Registry with Env.
	Channel  channel.Channel
	Preset   preset.Preset
	Env      preset.Env
	Registry *preset.Registry // nil uses preset.DefaultRegistry()

	Timeout     time.Duration // client calls and server pushes; zero waits forever
	Realm       *registry.Realm
	Middlewares []middleware.Middleware
	Logger      zerolog.Logger
}

func (o *Options) realm() *registry.Realm {
	if o.Realm != nil {
		return o.Realm
	}
	return registry.Default()
}

func (o *Options) channel(role preset.Role) (channel.Channel, error) {
	if o.Channel != nil {
		return o.Channel, nil
	}
	if o.Preset == "" {
		return nil, ErrNoTransport
	}
	reg := o.Registry
	if reg == nil {
		reg = preset.DefaultRegistry()
	}
	return reg.NewChannel(o.Preset, role, o.Env)
}

// CreateRPCClient returns the realm's client, building it on first use. A
// client already stored is returned unchanged: fns and the transport options
// of later calls are ignored.
func CreateRPCClient(fns rpc.Functions, opts Options) (*rpc.Client, error) {
	c, _, err := opts.realm().ClientOrCreate(func() (*rpc.Client, error) {
		ch, err := opts.channel(preset.RoleClient)
		if err != nil {
			return nil, err
		}
		c, err := rpc.NewClient(fns, rpc.ClientOptions{
			Channel:     ch,
			Timeout:     opts.Timeout,
			Middlewares: opts.Middlewares,
			Logger:      opts.Logger,
		})
		if err != nil {
			opts.release(ch)
		}
		return c, err
	})
	return c, err
}

// CreateRPCServer builds the realm's server group with a first channel, or
// adds the channel to the existing group. An existing group keeps its
// function table; fns is only used when the group is created.
func CreateRPCServer(fns rpc.Functions, opts Options) (*rpc.ServerGroup, error) {
	ch, err := opts.channel(preset.RoleServer)
	if err != nil {
		return nil, err
	}
	g, _, err := opts.realm().ServerOrExtend(func() (*rpc.ServerGroup, error) {
		return rpc.NewServerGroup(fns, rpc.ServerOptions{
			Channel:     ch,
			Timeout:     opts.Timeout,
			Middlewares: opts.Middlewares,
			Logger:      opts.Logger,
		})
	}, ch)
	if err != nil {
		opts.release(ch)
	}
	return g, err
}

// release closes a channel the bridge resolved itself once nothing will own it.
// A caller-supplied Channel stays with the caller.
func (o *Options) release(ch channel.Channel) {
	if o.Channel != nil {
		return
	}
	if c, ok := ch.(channel.Closer); ok {
		c.Close()
	}
}

// GetRPCClient returns the client stored in realm, nil meaning the default realm.
func GetRPCClient(realm *registry.Realm) (*rpc.Client, bool) {
	if realm == nil {
		realm = registry.Default()
	}
	return realm.GetClient()
}

// GetRPCServer returns the server group stored in realm, nil meaning the default realm.
func GetRPCServer(realm *registry.Realm) (*rpc.ServerGroup, bool) {
	if realm == nil {
		realm = registry.Default()
	}
	return realm.GetServer()
}
