package server

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"devtools-rpc/channel"
	"devtools-rpc/discovery"
	"devtools-rpc/preset"
	"devtools-rpc/rpc"
	"devtools-rpc/transport"
	"devtools-rpc/treehook"
)

var hostFunctions = rpc.Functions{
	"ping": func() string { return "pong" },
	"add":  func(a, b int) int { return a + b },
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// startStream runs s on a loopback listener and returns its address.
func startStream(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.ServeListener(ln) }()
	t.Cleanup(func() {
		s.Shutdown(time.Second)
		require.NoError(t, <-served)
	})
	return ln.Addr().String()
}

func dialStream(t *testing.T, addr string, fns rpc.Functions) *rpc.Client {
	t.Helper()
	ch, err := preset.DefaultRegistry().NewChannel(preset.Stream, preset.RoleClient, preset.Env{Addr: addr})
	require.NoError(t, err)
	cli, err := rpc.NewClient(fns, rpc.ClientOptions{Channel: ch})
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })
	return cli
}

func TestServeStream(t *testing.T) {
	s, err := New(Options{Functions: hostFunctions})
	require.NoError(t, err)
	addr := startStream(t, s)

	cli := dialStream(t, addr, nil)
	got, err := cli.Call(ctxTimeout(t), "ping")
	require.NoError(t, err)
	require.Equal(t, "pong", got)

	sum, err := rpc.CallAs[int](ctxTimeout(t), cli, "add", 2, 3)
	require.NoError(t, err)
	require.Equal(t, 5, sum)

	_, err = cli.Call(ctxTimeout(t), "missing")
	require.ErrorIs(t, err, rpc.ErrNoSuchRemoteFunction)
}

func TestPushFansOutToEveryConnection(t *testing.T) {
	s, err := New(Options{Functions: hostFunctions})
	require.NoError(t, err)
	addr := startStream(t, s)

	httpSrv := httptest.NewServer(s.Handler())
	defer httpSrv.Close()
	ws, err := transport.DialWebSocket(ctxTimeout(t), "ws"+strings.TrimPrefix(httpSrv.URL, "http"), transport.Options{})
	require.NoError(t, err)
	wsClient, err := rpc.NewClient(rpc.Functions{"whoami": func() string { return "ws" }}, rpc.ClientOptions{Channel: ws})
	require.NoError(t, err)
	defer wsClient.Close()

	streamClient := dialStream(t, addr, rpc.Functions{"whoami": func() string { return "stream" }})

	// Connections register asynchronously; a round trip on each proves both joined.
	for _, c := range []*rpc.Client{wsClient, streamClient} {
		_, err := c.Call(ctxTimeout(t), "ping")
		require.NoError(t, err)
	}

	g, ok := s.Group()
	require.True(t, ok)
	require.Equal(t, 2, g.Channels())

	seen := map[any]bool{}
	for _, r := range g.Broadcast(ctxTimeout(t), "whoami") {
		require.NoError(t, r.Err)
		seen[r.Value] = true
	}
	require.Equal(t, map[any]bool{"ws": true, "stream": true}, seen)
}

func TestDisconnectLeavesGroup(t *testing.T) {
	s, err := New(Options{Functions: hostFunctions})
	require.NoError(t, err)
	addr := startStream(t, s)

	cli := dialStream(t, addr, nil)
	_, err = cli.Call(ctxTimeout(t), "ping")
	require.NoError(t, err)
	require.Equal(t, 1, s.Connections())

	require.NoError(t, cli.Close())
	require.Eventually(t, func() bool { return s.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
	g, _ := s.Group()
	require.Zero(t, g.Channels())
}

func TestTreeHookWrap(t *testing.T) {
	var installs atomic.Int32
	installer := treehook.NewInstaller(func() { installs.Add(1) })
	s, err := New(Options{Functions: hostFunctions, Wrap: installer.Wrap})
	require.NoError(t, err)
	addr := startStream(t, s)

	ch, err := transport.DialStream(ctxTimeout(t), "tcp", addr, transport.Options{})
	require.NoError(t, err)
	cli, err := rpc.NewClient(nil, rpc.ClientOptions{Channel: ch})
	require.NoError(t, err)
	defer cli.Close()

	req := treehook.NewRequester(ch)
	for i := 0; i < 3; i++ {
		req.Observe(false)
	}
	require.Eventually(t, func() bool { return installs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	got, err := cli.Call(ctxTimeout(t), "ping")
	require.NoError(t, err)
	require.Equal(t, "pong", got)
	require.Equal(t, int32(1), installs.Load())
}

func TestShutdownDeregistersAndCloses(t *testing.T) {
	s, err := New(Options{Functions: hostFunctions})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- s.ServeListener(ln) }()

	reg := discovery.NewMemoryRegistry()
	inst := discovery.Instance{Addr: ln.Addr().String(), Preset: preset.Stream, Weight: 1}
	require.NoError(t, s.Advertise(reg, "devtools", inst, 10))
	instances, _ := reg.Discover("devtools")
	require.Len(t, instances, 1)

	ch, err := transport.DialStream(ctxTimeout(t), "tcp", inst.Addr, transport.Options{})
	require.NoError(t, err)
	cli, err := rpc.NewClient(nil, rpc.ClientOptions{Channel: ch})
	require.NoError(t, err)
	_, err = cli.Call(ctxTimeout(t), "ping")
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(2*time.Second))
	require.NoError(t, <-served)

	instances, _ = reg.Discover("devtools")
	require.Empty(t, instances)

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client connection still open after shutdown")
	}
	// The transport is gone; calls never settle and only the caller's context ends them.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = cli.Call(ctx, "ping")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRejectsBadFunctions(t *testing.T) {
	_, err := New(Options{Functions: rpc.Functions{"x": "not a func"}})
	require.Error(t, err)
}

var _ conn = (*transport.Stream)(nil)
var _ conn = (*transport.WebSocket)(nil)
var _ channel.Closer = (*transport.Stream)(nil)
