// Package channel defines the two-operation capability every transport is
// reduced to, and the small adapters shared by the presets.
//
// A Channel never buffers across handler registration: a message that arrives
// while no handler is attached is dropped, exactly like postMessage and
// BroadcastChannel do. Post never fails; a channel that cannot deliver
// (torn down, non-browser environment) silently discards.
package channel

import (
	"reflect"

	"github.com/rs/zerolog"

	"devtools-rpc/codec"
	"devtools-rpc/message"
)

// Handler receives every inbound envelope addressed to a channel.
type Handler func(env *message.Envelope)

// Channel is the uniform send/receive capability wrapping one transport.
type Channel interface {
	// Post sends env to the remote peer or peers. Fire-and-forget.
	Post(env *message.Envelope)
	// On registers the handler, replacing any previous one.
	On(handler Handler)
}

// Closer is implemented by channels that own a connection.
type Closer interface {
	Close() error
}

// Funcs adapts a pair of functions to a Channel.
type Funcs struct {
	PostFunc func(env *message.Envelope)
	OnFunc   func(handler Handler)
}

func (f Funcs) Post(env *message.Envelope) {
	if f.PostFunc != nil {
		f.PostFunc(env)
	}
}

func (f Funcs) On(handler Handler) {
	if f.OnFunc != nil {
		f.OnFunc(handler)
	}
}

type noop struct{}

func (noop) Post(*message.Envelope) {}
func (noop) On(Handler)             {}

// Noop returns a channel whose Post discards and whose handler never fires.
// It stands in for every preset when no transport is available.
func Noop() Channel { return noop{} }

// IsNoop reports whether ch is the no-op channel.
func IsNoop(ch Channel) bool {
	_, ok := ch.(noop)
	return ok
}

// Same reports whether a and b are the same channel. Channels of a
// non-comparable type, such as Funcs, never match.
func Same(a, b Channel) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) || !reflect.TypeOf(a).Comparable() {
		return false
	}
	return a == b
}

// Encode serializes env with cdc. Failures are logged at debug level and
// reported as !ok; they never reach the caller of Post.
func Encode(cdc codec.Codec, env *message.Envelope, log zerolog.Logger) ([]byte, bool) {
	data, err := cdc.Encode(env)
	if err != nil {
		log.Debug().Err(err).Str("type", string(env.Type)).Msg("drop outbound envelope")
		return nil, false
	}
	return data, true
}

// Decode parses data with cdc. Anything that does not decode into an envelope
// is treated as traffic for somebody else.
func Decode(cdc codec.Codec, data []byte, log zerolog.Logger) (*message.Envelope, bool) {
	env := &message.Envelope{}
	if err := cdc.Decode(data, env); err != nil {
		log.Debug().Err(err).Int("bytes", len(data)).Msg("ignore inbound message")
		return nil, false
	}
	return env, true
}
