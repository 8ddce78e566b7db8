// Package server implements the host endpoint plugins in other processes
// connect to: every accepted connection becomes one more member channel of
// the realm's RPC server group.
//
// Connection pipeline:
//
//	Accept conn / HTTP upgrade → transport channel (read loop + heartbeat)
//	  → Wrap (e.g. tree-hook interception)
//	  → bridge.CreateRPCServer: first conn creates the group, later ones extend it
//	  → conn Done → removed from the group
package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"devtools-rpc/bridge"
	"devtools-rpc/channel"
	"devtools-rpc/codec"
	"devtools-rpc/discovery"
	"devtools-rpc/middleware"
	"devtools-rpc/registry"
	"devtools-rpc/rpc"
	"devtools-rpc/transport"
)

type Options struct {
	Functions rpc.Functions
	Realm     *registry.Realm // nil gives the server a realm of its own

	Codec       codec.Codec   // stream connections; websockets default to tagged
	Heartbeat   time.Duration // see transport.Options
	Timeout     time.Duration // push call timeout, zero waits forever
	Middlewares []middleware.Middleware
	Logger      zerolog.Logger

	// Wrap decorates every accepted channel before it joins the group.
	Wrap func(channel.Channel) channel.Channel
	// CheckOrigin filters websocket upgrades; nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

// conn is what both socket transports provide.
type conn interface {
	channel.Channel
	Close() error
	Done() <-chan struct{}
}

type advert struct {
	name string
	addr string
}

// Server hosts a function table for remote plugins.
type Server struct {
	opts     Options
	realm    *registry.Realm
	log      zerolog.Logger
	upgrader websocket.Upgrader

	wg       sync.WaitGroup // Tracks live connections for graceful shutdown
	shutdown atomic.Bool    // Set during shutdown to suppress Accept errors

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[conn]struct{}
	registry  discovery.Registry // nil until Advertise
	adverts   []advert
}

// New validates the function table and returns a server that is not yet
// listening.
func New(opts Options) (*Server, error) {
	if _, err := rpc.NewFuncTable(opts.Functions); err != nil {
		return nil, err
	}
	realm := opts.Realm
	if realm == nil {
		realm = registry.New()
	}
	s := &Server{
		opts:  opts,
		realm: realm,
		log:   opts.Logger,
		conns: make(map[conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: opts.CheckOrigin}
	if s.upgrader.CheckOrigin == nil {
		s.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return s, nil
}

// Group returns the server group once a first connection created it.
func (s *Server) Group() (*rpc.ServerGroup, bool) {
	return s.realm.GetServer()
}

// Realm returns the realm the server registers its group in.
func (s *Server) Realm() *registry.Realm {
	return s.realm
}

// Serve listens on address and serves the stream preset until Shutdown.
func (s *Server) Serve(network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(ln)
}

// ServeListener runs the accept loop on ln: one stream channel per connection.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("serving stream preset")
	for {
		nc, err := ln.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			// Check the shutdown flag to distinguish intentional close from real errors.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.attach(transport.NewStream(nc, transport.Options{
			Codec:     s.opts.Codec,
			Heartbeat: s.opts.Heartbeat,
			Logger:    s.log,
		}), nc.RemoteAddr().String())
	}
}

// Handler serves the websocket preset: each upgraded request becomes a channel.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.shutdown.Load() {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}
		wc, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		s.attach(transport.NewWebSocket(wc, transport.Options{
			Heartbeat: s.opts.Heartbeat,
			Logger:    s.log,
		}), r.RemoteAddr)
	})
}

func (s *Server) attach(c conn, remote string) {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	var ch channel.Channel = c
	if s.opts.Wrap != nil {
		ch = s.opts.Wrap(c)
	}
	g, err := bridge.CreateRPCServer(s.opts.Functions, bridge.Options{
		Channel:     ch,
		Realm:       s.realm,
		Timeout:     s.opts.Timeout,
		Middlewares: s.opts.Middlewares,
		Logger:      s.log,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("remote", remote).Msg("reject connection")
		s.detach(c)
		return
	}
	s.log.Info().Str("remote", remote).Int("channels", g.Channels()).Msg("plugin connected")

	go func() {
		<-c.Done()
		g.RemoveChannel(ch)
		s.detach(c)
		s.log.Info().Str("remote", remote).Msg("plugin disconnected")
	}()
}

func (s *Server) detach(c conn) {
	c.Close()
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()
	if ok {
		s.wg.Done()
	}
}

// Connections returns the number of live connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Advertise registers the instance in reg under name. Shutdown deregisters it.
func (s *Server) Advertise(reg discovery.Registry, name string, inst discovery.Instance, ttl int64) error {
	if err := reg.Register(name, inst, ttl); err != nil {
		return fmt.Errorf("advertise %s at %s: %w", name, inst.Addr, err)
	}
	s.mu.Lock()
	s.registry = reg
	s.adverts = append(s.adverts, advert{name: name, addr: inst.Addr})
	s.mu.Unlock()
	s.log.Info().Str("name", name).Str("addr", inst.Addr).Str("preset", string(inst.Preset)).Msg("advertised")
	return nil
}

// Shutdown performs graceful shutdown:
//  1. Deregister from discovery (plugins stop picking this host)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close listeners and live connections
//  4. Wait for connection teardown (with timeout), then close the group
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	reg, adverts := s.registry, s.adverts
	s.adverts = nil
	s.mu.Unlock()
	for _, a := range adverts {
		if err := reg.Deregister(a.name, a.addr); err != nil {
			s.log.Warn().Err(err).Str("name", a.name).Msg("deregister failed")
		}
	}

	// Set the flag before closing listeners so Serve returns nil.
	s.mu.Lock()
	s.shutdown.Store(true)
	listeners := s.listeners
	s.listeners = nil
	conns := make([]conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		ln.Close()
	}
	for _, c := range conns {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for connections to close")
	}
	if g, ok := s.realm.GetServer(); ok {
		g.Close()
	}
	return err
}
