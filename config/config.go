// Package config loads the host binary's settings from flags, with
// DEVTOOLS_RPC_* environment variables as defaults.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"devtools-rpc/codec"
	"devtools-rpc/middleware"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DEVTOOLS_RPC_"

// Config holds the host configuration.
type Config struct {
	Name string // name advertised in discovery

	HTTPAddr string // websocket listen address; empty disables
	WSPath   string
	TCPAddr  string // stream listen address; empty disables
	Codec    string // stream codec: tagged, json or binary

	AdvertiseHost string   // routable host written to discovery instead of the listen host
	EtcdEndpoints []string // empty disables discovery
	TTL           int64    // discovery lease, seconds

	Libp2p       bool   // also serve the broadcast preset over libp2p pubsub
	Libp2pListen string // multiaddr
	Libp2pMDNS   bool

	CallTimeout     time.Duration // server push timeout, 0 waits forever
	Heartbeat       time.Duration
	RateLimit       float64 // requests per second per host, 0 disables
	RateBurst       int
	HandlerTimeout  time.Duration // per inbound call, 0 disables
	Retries         int           // re-runs of a timed out call
	RetryDelay      time.Duration // first backoff, doubled per retry
	PushInterval    time.Duration // tree update period, 0 disables
	ShutdownTimeout time.Duration

	LogLevel  string
	LogFormat string // console or json
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Name:            "devtools",
		HTTPAddr:        "127.0.0.1:9000",
		WSPath:          "/rpc",
		TCPAddr:         "127.0.0.1:9001",
		Codec:           "binary",
		AdvertiseHost:   "127.0.0.1",
		TTL:             10,
		Libp2pListen:    "/ip4/127.0.0.1/tcp/0",
		Libp2pMDNS:      true,
		Heartbeat:       30 * time.Second,
		RateBurst:       50,
		RetryDelay:      50 * time.Millisecond,
		PushInterval:    2 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		LogLevel:        "info",
		LogFormat:       "console",
	}
}

// Validate checks that the configuration can start a host.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("name required")
	}
	if c.HTTPAddr == "" && c.TCPAddr == "" && !c.Libp2p {
		return errors.New("at least one of http, tcp or libp2p must be enabled")
	}
	if c.HTTPAddr != "" && !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("ws path %q must start with /", c.WSPath)
	}
	if _, err := c.CodecType(); err != nil {
		return err
	}
	if len(c.EtcdEndpoints) > 0 && c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive, got %d", c.TTL)
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst <= 0) {
		return fmt.Errorf("invalid rate limit %v/%d", c.RateLimit, c.RateBurst)
	}
	if c.Retries < 0 || (c.Retries > 0 && c.HandlerTimeout <= 0) {
		return fmt.Errorf("retries %d need a positive handler timeout", c.Retries)
	}
	if c.CallTimeout < 0 || c.HandlerTimeout < 0 || c.RetryDelay < 0 || c.PushInterval < 0 || c.ShutdownTimeout <= 0 {
		return errors.New("durations must not be negative and shutdown timeout must be positive")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log format %q: want console or json", c.LogFormat)
	}
	return nil
}

// Middlewares builds the dispatch chain for inbound calls, outermost first.
// Retry wraps Timeout so every attempt gets its own deadline.
func (c Config) Middlewares(log zerolog.Logger) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.Recover(), middleware.Logging(log)}
	if c.RateLimit > 0 {
		mws = append(mws, middleware.RateLimit(c.RateLimit, c.RateBurst))
	}
	if c.HandlerTimeout > 0 {
		if c.Retries > 0 {
			mws = append(mws, middleware.Retry(c.Retries, c.RetryDelay, log))
		}
		mws = append(mws, middleware.Timeout(c.HandlerTimeout))
	}
	return mws
}

// CodecType resolves the configured stream codec.
func (c Config) CodecType() (codec.CodecType, error) {
	switch c.Codec {
	case "tagged":
		return codec.CodecTypeTagged, nil
	case "json":
		return codec.CodecTypeJSON, nil
	case "binary":
		return codec.CodecTypeBinary, nil
	}
	return 0, fmt.Errorf("codec %q: want tagged, json or binary", c.Codec)
}

// Load parses args on top of Default, with environment values from getenv
// taking precedence over defaults and flags over both.
func Load(name string, args []string, getenv func(string) string) (Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	env := envLookup{getenv: getenv}

	fs.StringVar(&cfg.Name, "name", env.getString("NAME", cfg.Name), "name advertised in discovery")
	fs.StringVar(&cfg.HTTPAddr, "http", env.getString("HTTP", cfg.HTTPAddr), "websocket listen address, empty disables")
	fs.StringVar(&cfg.WSPath, "ws-path", env.getString("WS_PATH", cfg.WSPath), "websocket endpoint path")
	fs.StringVar(&cfg.TCPAddr, "tcp", env.getString("TCP", cfg.TCPAddr), "stream listen address, empty disables")
	fs.StringVar(&cfg.Codec, "codec", env.getString("CODEC", cfg.Codec), "stream codec: tagged, json or binary")
	fs.StringVar(&cfg.AdvertiseHost, "advertise-host", env.getString("ADVERTISE_HOST", cfg.AdvertiseHost), "host written to discovery")
	etcd := fs.String("etcd", env.getString("ETCD", ""), "comma separated etcd endpoints, empty disables discovery")
	fs.Int64Var(&cfg.TTL, "ttl", env.getInt64("TTL", cfg.TTL), "discovery lease in seconds")
	fs.BoolVar(&cfg.Libp2p, "libp2p", env.getBool("LIBP2P", cfg.Libp2p), "serve the broadcast preset over libp2p pubsub")
	fs.StringVar(&cfg.Libp2pListen, "libp2p-listen", env.getString("LIBP2P_LISTEN", cfg.Libp2pListen), "libp2p listen multiaddr")
	fs.BoolVar(&cfg.Libp2pMDNS, "libp2p-mdns", env.getBool("LIBP2P_MDNS", cfg.Libp2pMDNS), "discover libp2p peers with mDNS")
	fs.DurationVar(&cfg.CallTimeout, "call-timeout", env.getDuration("CALL_TIMEOUT", cfg.CallTimeout), "push call timeout, 0 waits forever")
	fs.DurationVar(&cfg.Heartbeat, "heartbeat", env.getDuration("HEARTBEAT", cfg.Heartbeat), "connection keepalive interval")
	fs.Float64Var(&cfg.RateLimit, "rate", env.getFloat("RATE", cfg.RateLimit), "requests per second, 0 disables")
	fs.IntVar(&cfg.RateBurst, "burst", env.getInt("BURST", cfg.RateBurst), "rate limit burst")
	fs.DurationVar(&cfg.HandlerTimeout, "handler-timeout", env.getDuration("HANDLER_TIMEOUT", cfg.HandlerTimeout), "inbound call timeout, 0 disables")
	fs.IntVar(&cfg.Retries, "retries", env.getInt("RETRIES", cfg.Retries), "re-runs of a timed out inbound call")
	fs.DurationVar(&cfg.RetryDelay, "retry-delay", env.getDuration("RETRY_DELAY", cfg.RetryDelay), "first retry backoff")
	fs.DurationVar(&cfg.PushInterval, "push-interval", env.getDuration("PUSH_INTERVAL", cfg.PushInterval), "tree update period, 0 disables")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", env.getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout), "graceful shutdown bound")
	fs.StringVar(&cfg.LogLevel, "log-level", env.getString("LOG_LEVEL", cfg.LogLevel), "trace, debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", env.getString("LOG_FORMAT", cfg.LogFormat), "console or json")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if env.err != nil {
		return Config{}, env.err
	}
	if *etcd != "" {
		for _, ep := range strings.Split(*etcd, ",") {
			if ep = strings.TrimSpace(ep); ep != "" {
				cfg.EtcdEndpoints = append(cfg.EtcdEndpoints, ep)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envLookup reads DEVTOOLS_RPC_* variables, keeping the first parse error.
type envLookup struct {
	getenv func(string) string
	err    error
}

func (e *envLookup) raw(key string) (string, bool) {
	if e.getenv == nil {
		return "", false
	}
	v := e.getenv(EnvPrefix + key)
	return v, v != ""
}

func (e *envLookup) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
	}
}

func (e *envLookup) getString(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envLookup) getBool(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envLookup) getInt(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envLookup) getInt64(key string, def int64) int64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envLookup) getFloat(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *envLookup) getDuration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}
