// Command devtools-host exposes a host's component tree to devtools plugins
// running in other processes, over websocket, raw stream and, optionally,
// libp2p broadcast.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"devtools-rpc/bridge"
	"devtools-rpc/bus"
	"devtools-rpc/codec"
	"devtools-rpc/config"
	"devtools-rpc/discovery"
	"devtools-rpc/internal/inspect"
	"devtools-rpc/logging"
	"devtools-rpc/preset"
	"devtools-rpc/server"
	"devtools-rpc/treehook"
)

func main() {
	cfg, err := config.Load(os.Args[0], os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("devtools-host failed")
	}
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	ct, err := cfg.CodecType()
	if err != nil {
		return err
	}

	in := inspect.New()
	installer := treehook.NewInstaller(func() {
		if in.InstallHook() {
			log.Info().Msg("component tree hook installed")
		}
	})

	mws := cfg.Middlewares(log)

	srv, err := server.New(server.Options{
		Functions:   in.Functions(),
		Codec:       codec.GetCodec(ct),
		Heartbeat:   cfg.Heartbeat,
		Timeout:     cfg.CallTimeout,
		Middlewares: mws,
		Logger:      log,
		Wrap:        installer.Wrap,
	})
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	var httpSrv *http.Server
	var adverts []discovery.Instance

	if cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle(cfg.WSPath, srv.Handler())
		httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("websocket: %w", err)
			}
		}()
		url := "ws://" + advertised(cfg.AdvertiseHost, ln.Addr()) + cfg.WSPath
		adverts = append(adverts, discovery.Instance{Addr: url, Preset: preset.WebSocket, Weight: 1})
		log.Info().Str("url", url).Msg("serving websocket")
	}

	if cfg.TCPAddr != "" {
		ln, err := net.Listen("tcp", cfg.TCPAddr)
		if err != nil {
			return err
		}
		go func() {
			if err := srv.ServeListener(ln); err != nil {
				errc <- fmt.Errorf("stream: %w", err)
			}
		}()
		addr := advertised(cfg.AdvertiseHost, ln.Addr())
		adverts = append(adverts, discovery.Instance{Addr: addr, Preset: preset.Stream, Weight: 1})
		log.Info().Str("addr", addr).Str("codec", ct.String()).Msg("serving stream")
	}

	if cfg.Libp2p {
		ps, err := bus.NewLibp2pPubSub(ctx, bus.Libp2pOptions{
			ListenAddrs: []string{cfg.Libp2pListen},
			Rendezvous:  cfg.Name,
			EnableMDNS:  cfg.Libp2pMDNS,
			Logger:      log,
		})
		if err != nil {
			return err
		}
		defer ps.Close()
		ch, err := preset.NewBroadcast(preset.Env{Bus: ps, Codec: codec.GetCodec(ct), Logger: log})
		if err != nil {
			return err
		}
		if _, err := bridge.CreateRPCServer(in.Functions(), bridge.Options{
			Channel:     installer.Wrap(ch),
			Timeout:     cfg.CallTimeout,
			Realm:       srv.Realm(),
			Middlewares: mws,
			Logger:      log,
		}); err != nil {
			return err
		}
		log.Info().Strs("addrs", ps.ListenAddrs()).Msg("serving libp2p broadcast")
	}

	if len(cfg.EtcdEndpoints) > 0 {
		reg, err := discovery.NewEtcdRegistry(cfg.EtcdEndpoints, log)
		if err != nil {
			return err
		}
		defer reg.Close()
		for _, inst := range adverts {
			if err := srv.Advertise(reg, cfg.Name, inst, cfg.TTL); err != nil {
				return err
			}
		}
	}

	if cfg.PushInterval > 0 {
		go pushTree(ctx, srv, in, cfg.PushInterval)
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err = <-errc:
		log.Error().Err(err).Msg("listener failed, shutting down")
	}

	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := httpSrv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		cancel()
	}
	if serr := srv.Shutdown(cfg.ShutdownTimeout); serr != nil && err == nil {
		err = serr
	}
	return err
}

// pushTree re-renders the tree on every tick and tells every plugin about it.
func pushTree(ctx context.Context, srv *server.Server, in *inspect.Inspector, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		in.Render(time.Duration(rand.IntN(8)+1) * time.Millisecond)
		tree := in.Tree()
		if tree == nil {
			continue
		}
		if g, ok := srv.Group(); ok {
			g.Notify("treeUpdated", tree)
		}
	}
}

func advertised(host string, addr net.Addr) string {
	h, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	if host != "" {
		h = host
	} else if ip := net.ParseIP(h); ip != nil && ip.IsUnspecified() {
		h = "127.0.0.1"
	}
	return net.JoinHostPort(h, port)
}
