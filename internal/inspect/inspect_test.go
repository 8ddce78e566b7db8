package inspect

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"devtools-rpc/channel"
	"devtools-rpc/codec"
	"devtools-rpc/rpc"
)

func TestTreeAbsentUntilInstalled(t *testing.T) {
	in := New()
	require.Nil(t, in.Tree())
	in.Render(time.Millisecond)
	require.Zero(t, in.Stats().Renders)

	require.True(t, in.InstallHook())
	require.False(t, in.InstallHook())
	tree := in.Tree()
	require.NotNil(t, tree)
	require.Equal(t, "App", tree.Name)
	require.Len(t, tree.Children[1].Children, 1)
}

func TestRenderStats(t *testing.T) {
	in := New()
	in.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	in.InstallHook()
	in.Render(2 * time.Millisecond)
	in.Render(5 * time.Millisecond)

	s := in.Stats()
	require.Equal(t, int64(2), s.Renders)
	require.Equal(t, int64(2), s.PerNode["0"])
	require.Equal(t, int64(1), s.PerNode["2.1"])
	require.Equal(t, 5.0, s.SlowestMs)
	require.Equal(t, in.now(), s.LastRender)
}

func TestFunctionsOverTheWire(t *testing.T) {
	in := New()
	a, b := channel.Pipe()
	srv, err := rpc.NewServerGroup(in.Functions(), rpc.ServerOptions{Channel: b})
	require.NoError(t, err)
	defer srv.Close()
	cli, err := rpc.NewClient(nil, rpc.ClientOptions{Channel: a})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tree, err := cli.Call(ctx, "getComponentTree")
	require.NoError(t, err)
	require.Equal(t, codec.Undefined{}, tree)

	in.InstallHook()
	in.Render(time.Millisecond)

	tree, err = cli.Call(ctx, "getComponentTree")
	require.NoError(t, err)
	node, err := rpc.Bind[Node](tree)
	require.NoError(t, err)
	require.Equal(t, "App", node.Name)

	names, err := cli.Call(ctx, "getComponentNames")
	require.NoError(t, err)
	set, ok := names.(*codec.Set)
	require.True(t, ok)
	require.True(t, set.Has("Item"))

	stats, err := rpc.CallAs[RenderStats](ctx, cli, "getRenderStats")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Renders)
}
