// Package client connects a plugin to a host found through discovery.
package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"devtools-rpc/channel"
	"devtools-rpc/codec"
	"devtools-rpc/discovery"
	"devtools-rpc/loadbalance"
	"devtools-rpc/preset"
)

// Connector discovers the instances advertised under a name, picks one with
// Balancer and dials it with the preset the instance serves.
type Connector struct {
	Registry discovery.Registry
	Balancer loadbalance.Balancer // nil uses round robin
	Presets  *preset.Registry     // nil uses preset.DefaultRegistry()
	Codec    codec.Codec
	Logger   zerolog.Logger

	once       sync.Once
	roundRobin *loadbalance.RoundRobinBalancer
}

// Connect returns a client channel to one host instance.
func (c *Connector) Connect(ctx context.Context, name string) (channel.Channel, error) {
	ch, _, err := c.ConnectInstance(ctx, name)
	return ch, err
}

// ConnectInstance is Connect that also reports the picked instance.
func (c *Connector) ConnectInstance(ctx context.Context, name string) (channel.Channel, *discovery.Instance, error) {
	instances, err := c.Registry.Discover(name)
	if err != nil {
		return nil, nil, fmt.Errorf("discover %s: %w", name, err)
	}

	bal := c.Balancer
	if bal == nil {
		c.once.Do(func() { c.roundRobin = &loadbalance.RoundRobinBalancer{} })
		bal = c.roundRobin
	}
	inst, err := bal.Pick(instances)
	if err != nil {
		return nil, nil, fmt.Errorf("pick %s: %w", name, err)
	}

	env := preset.Env{Context: ctx, Codec: c.Codec, Logger: c.Logger}
	switch inst.Preset {
	case preset.WebSocket:
		env.URL = inst.Addr
	case preset.Stream:
		env.Addr = inst.Addr
	default:
		return nil, nil, fmt.Errorf("instance %s: preset %q cannot be dialed", inst.Addr, inst.Preset)
	}

	presets := c.Presets
	if presets == nil {
		presets = preset.DefaultRegistry()
	}
	ch, err := presets.NewChannel(inst.Preset, preset.RoleClient, env)
	if err != nil {
		return nil, nil, err
	}
	c.Logger.Debug().Str("name", name).Str("addr", inst.Addr).Str("balancer", bal.Name()).Msg("connected")
	return ch, inst, nil
}
