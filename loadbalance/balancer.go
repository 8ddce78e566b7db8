// Package loadbalance picks the host instance a plugin connects to when
// several are advertised under one name.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity hosts
//   - WeightedRandom:  hosts with different capacity
//   - ConsistentHash:  sticky sessions, the same session key lands on the same host
package loadbalance

import (
	"errors"

	"devtools-rpc/discovery"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
type Balancer interface {
	// Pick selects one instance from the available list. Must be goroutine-safe.
	Pick(instances []discovery.Instance) (*discovery.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
