// Command devtools-plugin is a headless plugin: it finds a host, asks for the
// tree hook when the tree is missing, polls render statistics and prints
// every tree update the host pushes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"devtools-rpc/bridge"
	"devtools-rpc/bus"
	"devtools-rpc/channel"
	"devtools-rpc/client"
	"devtools-rpc/codec"
	"devtools-rpc/discovery"
	"devtools-rpc/internal/inspect"
	"devtools-rpc/loadbalance"
	"devtools-rpc/logging"
	"devtools-rpc/preset"
	"devtools-rpc/rpc"
	"devtools-rpc/treehook"
)

func main() {
	name := flag.String("name", "devtools-host", "host name to discover")
	etcd := flag.String("etcd", "", "comma-separated etcd endpoints")
	url := flag.String("ws", "", "dial this websocket url instead of discovering")
	addr := flag.String("tcp", "", "dial this stream address instead of discovering")
	bootstrap := flag.String("libp2p", "", "comma-separated libp2p peers to join the broadcast through")
	balancer := flag.String("balancer", "roundrobin", "roundrobin, random or hash")
	session := flag.String("session", "", "session key for the hash balancer")
	poll := flag.Duration("poll", time.Second, "observation tick")
	timeout := flag.Duration("timeout", 5*time.Second, "call timeout")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log, err := logging.New(logging.Options{Level: *level})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := dial(ctx, log, *name, *etcd, *url, *addr, *bootstrap, *balancer, *session)
	if err != nil {
		log.Fatal().Err(err).Msg("connect")
	}

	cli, err := bridge.CreateRPCClient(rpc.Functions{
		"treeUpdated": func(tree inspect.Node) {
			log.Info().Str("root", tree.Name).Int("children", len(tree.Children)).Msg("tree updated")
		},
	}, bridge.Options{Channel: ch, Timeout: *timeout, Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("client")
	}
	defer cli.Close()

	pong, err := rpc.CallAs[string](ctx, cli, "ping")
	if err != nil {
		log.Fatal().Err(err).Msg("ping")
	}
	log.Info().Str("reply", pong).Msg("host reachable")

	hook := treehook.NewRequester(ch)
	t := time.NewTicker(*poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		tree, err := cli.Call(ctx, "getComponentTree")
		if err != nil {
			log.Warn().Err(err).Msg("getComponentTree")
			continue
		}
		if hook.Observe(available(tree)) {
			log.Info().Msg("requested component tree hook")
			continue
		}
		stats, err := rpc.CallAs[inspect.RenderStats](ctx, cli, "getRenderStats")
		if err != nil {
			log.Warn().Err(err).Msg("getRenderStats")
			continue
		}
		log.Info().Int64("renders", stats.Renders).Float64("slowest_ms", stats.SlowestMs).Msg("render stats")
	}
}

func dial(ctx context.Context, log zerolog.Logger, name, etcd, url, addr, bootstrap, balancer, session string) (channel.Channel, error) {
	switch {
	case url != "":
		return preset.DialWebSocket(preset.Env{URL: url, Context: ctx, Logger: log})
	case addr != "":
		return preset.DialStream(preset.Env{Addr: addr, Context: ctx, Logger: log})
	case bootstrap != "":
		ps, err := bus.NewLibp2pPubSub(ctx, bus.Libp2pOptions{
			ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
			Bootstrap:   strings.Split(bootstrap, ","),
			Rendezvous:  name,
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		return preset.NewBroadcast(preset.Env{Bus: ps, Logger: log})
	case etcd != "":
		reg, err := discovery.NewEtcdRegistry(strings.Split(etcd, ","), log)
		if err != nil {
			return nil, err
		}
		conn := &client.Connector{Registry: reg, Logger: log}
		switch balancer {
		case "random":
			conn.Balancer = &loadbalance.WeightedRandomBalancer{}
		case "hash":
			conn.Balancer = loadbalance.NewConsistentHashBalancer(session)
		}
		ch, inst, err := conn.ConnectInstance(ctx, name)
		if err != nil {
			return nil, err
		}
		log.Info().Str("addr", inst.Addr).Str("preset", string(inst.Preset)).Msg("discovered host")
		return ch, nil
	}
	return nil, fmt.Errorf("one of -ws, -tcp, -libp2p or -etcd is required")
}

// available reports whether a getComponentTree result carries a tree.
func available(tree any) bool {
	if tree == nil {
		return false
	}
	_, undef := tree.(codec.Undefined)
	return !undef
}
