package discovery

import (
	"slices"
	"strings"
	"sync"
)

// MemoryRegistry is a Registry for a single process. TTLs are ignored:
// entries live until deregistered.
type MemoryRegistry struct {
	mu       sync.Mutex
	services map[string]map[string]Instance
	watchers map[string][]chan []Instance
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		services: make(map[string]map[string]Instance),
		watchers: make(map[string][]chan []Instance),
	}
}

func (r *MemoryRegistry) Register(name string, instance Instance, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.services[name] == nil {
		r.services[name] = make(map[string]Instance)
	}
	r.services[name][instance.Addr] = instance
	r.notify(name)
	return nil
}

func (r *MemoryRegistry) Deregister(name string, addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[name][addr]; !ok {
		return nil
	}
	delete(r.services[name], addr)
	r.notify(name)
	return nil
}

// Discover returns the instances ordered by address.
func (r *MemoryRegistry) Discover(name string) ([]Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(name), nil
}

// Watch emits the instance list on every change. A slow reader only sees the
// latest list.
func (r *MemoryRegistry) Watch(name string) <-chan []Instance {
	ch := make(chan []Instance, 1)
	r.mu.Lock()
	r.watchers[name] = append(r.watchers[name], ch)
	r.mu.Unlock()
	return ch
}

func (r *MemoryRegistry) list(name string) []Instance {
	instances := make([]Instance, 0, len(r.services[name]))
	for _, inst := range r.services[name] {
		instances = append(instances, inst)
	}
	slices.SortFunc(instances, func(a, b Instance) int { return strings.Compare(a.Addr, b.Addr) })
	return instances
}

// notify must be called with r.mu held.
func (r *MemoryRegistry) notify(name string) {
	instances := r.list(name)
	for _, ch := range r.watchers[name] {
		select {
		case <-ch:
		default:
		}
		ch <- instances
	}
}

var _ Registry = (*MemoryRegistry)(nil)
