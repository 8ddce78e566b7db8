package preset

import (
	"devtools-rpc/channel"
	"devtools-rpc/transport"
)

// DialWebSocket is the client factory of the websocket preset.
func DialWebSocket(env Env) (channel.Channel, error) {
	if env.URL == "" {
		return nil, ErrNoAddress
	}
	return transport.DialWebSocket(env.context(), env.URL, transport.Options{Codec: env.Codec, Logger: env.Logger})
}

// DialStream is the client factory of the stream preset.
func DialStream(env Env) (channel.Channel, error) {
	if env.Addr == "" {
		return nil, ErrNoAddress
	}
	return transport.DialStream(env.context(), "tcp", env.Addr, transport.Options{Codec: env.Codec, Logger: env.Logger})
}
