package client

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"devtools-rpc/discovery"
	"devtools-rpc/loadbalance"
	"devtools-rpc/preset"
	"devtools-rpc/rpc"
	"devtools-rpc/server"
)

func startHost(t *testing.T, name string) (string, string) {
	t.Helper()
	s, err := server.New(server.Options{Functions: rpc.Functions{
		"whoami": func() string { return name },
	}})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.ServeListener(ln)
	httpSrv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		httpSrv.Close()
		s.Shutdown(time.Second)
	})
	return ln.Addr().String(), "ws" + strings.TrimPrefix(httpSrv.URL, "http")
}

func call(t *testing.T, c *Connector, name string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	ch, err := c.Connect(ctx, name)
	require.NoError(t, err)
	cli, err := rpc.NewClient(nil, rpc.ClientOptions{Channel: ch})
	require.NoError(t, err)
	defer cli.Close()

	got, err := rpc.CallAs[string](ctx, cli, "whoami")
	require.NoError(t, err)
	return got
}

func TestConnectRoundRobin(t *testing.T) {
	reg := discovery.NewMemoryRegistry()
	tcpA, _ := startHost(t, "a")
	_, wsB := startHost(t, "b")
	require.NoError(t, reg.Register("devtools", discovery.Instance{Addr: tcpA, Preset: preset.Stream}, 10))
	require.NoError(t, reg.Register("devtools", discovery.Instance{Addr: wsB, Preset: preset.WebSocket}, 10))

	c := &Connector{Registry: reg}
	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		seen[call(t, c, "devtools")]++
	}
	require.Equal(t, map[string]int{"a": 2, "b": 2}, seen)
}

func TestConnectSticky(t *testing.T) {
	reg := discovery.NewMemoryRegistry()
	for _, name := range []string{"a", "b", "c"} {
		addr, _ := startHost(t, name)
		require.NoError(t, reg.Register("devtools", discovery.Instance{Addr: addr, Preset: preset.Stream}, 10))
	}

	c := &Connector{Registry: reg, Balancer: loadbalance.NewConsistentHashBalancer("panel-42")}
	first := call(t, c, "devtools")
	for i := 0; i < 3; i++ {
		require.Equal(t, first, call(t, c, "devtools"))
	}
}

func TestConnectErrors(t *testing.T) {
	reg := discovery.NewMemoryRegistry()
	c := &Connector{Registry: reg}

	_, err := c.Connect(context.Background(), "devtools")
	require.ErrorIs(t, err, loadbalance.ErrNoInstances)

	require.NoError(t, reg.Register("devtools", discovery.Instance{Addr: "x", Preset: preset.IFrame}, 10))
	_, err = c.Connect(context.Background(), "devtools")
	require.Error(t, err)
}
