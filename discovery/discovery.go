// Package discovery locates running host instances that plugins can connect to.
//
// A host advertises itself under a name with the address and preset it serves;
// a plugin discovers the instances for that name, picks one with a
// loadbalance strategy and dials it.
package discovery

import "devtools-rpc/preset"

// Instance is one advertised host endpoint.
type Instance struct {
	Addr    string        `json:"addr"`   // host:port for stream, ws:// URL for websocket
	Preset  preset.Preset `json:"preset"` // websocket or stream
	Weight  int           `json:"weight"` // Weight for load balancing
	Version string        `json:"version"`
}

type Registry interface {
	Register(name string, instance Instance, ttl int64) error
	Deregister(name string, addr string) error
	Discover(name string) ([]Instance, error)
	Watch(name string) <-chan []Instance
}
