package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"devtools-rpc/preset"
)

// newEtcdRegistry connects to a local etcd or skips the test.
func newEtcdRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	reg, err := NewEtcdRegistry([]string{"localhost:2379"}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := reg.client.Status(ctx, "localhost:2379"); err != nil {
		reg.Close()
		t.Skipf("etcd not reachable: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg := newEtcdRegistry(t)

	inst1 := Instance{Addr: "127.0.0.1:8001", Preset: preset.Stream, Weight: 10, Version: "1.0"}
	inst2 := Instance{Addr: "127.0.0.1:8002", Preset: preset.Stream, Weight: 5, Version: "1.0"}
	require.NoError(t, reg.Register("devtools-test", inst1, 10))
	require.NoError(t, reg.Register("devtools-test", inst2, 10))
	defer reg.Deregister("devtools-test", inst2.Addr)

	instances, err := reg.Discover("devtools-test")
	require.NoError(t, err)
	require.Len(t, instances, 2)

	require.NoError(t, reg.Deregister("devtools-test", inst1.Addr))
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover("devtools-test")
	require.NoError(t, err)
	require.Equal(t, []Instance{inst2}, instances)
}

func TestEtcdWatch(t *testing.T) {
	reg := newEtcdRegistry(t)
	updates := reg.Watch("devtools-watch")
	time.Sleep(100 * time.Millisecond)

	inst := Instance{Addr: "127.0.0.1:8101", Preset: preset.Stream, Weight: 1}
	require.NoError(t, reg.Register("devtools-watch", inst, 10))
	defer reg.Deregister("devtools-watch", inst.Addr)

	select {
	case got := <-updates:
		require.Contains(t, got, inst)
	case <-time.After(3 * time.Second):
		t.Fatal("no watch update")
	}
}
