package preset

import (
	"sync"

	"github.com/rs/zerolog"

	"devtools-rpc/channel"
	"devtools-rpc/codec"
	"devtools-rpc/message"
	"devtools-rpc/window"
)

// EventKey tags every postMessage this preset sends so its traffic can be told
// apart from unrelated messages delivered to the same window.
const EventKey = "__REACT_DEVTOOLS_RPC_EVENT__"

// IFrameChannel is one side of the cross-frame preset.
type IFrameChannel struct {
	self window.Window
	// peer resolves the window to talk to; nil drops the post.
	peer   func() window.Window
	codec  codec.Codec
	log    zerolog.Logger
	slot   slot
	remove func()
	once   sync.Once
}

// NewIFrameClient builds the channel running inside the plugin frame. It talks
// to the embedding window and only accepts messages sourced from it.
func NewIFrameClient(env Env) (channel.Channel, error) {
	if env.Window == nil {
		return channel.Noop(), nil
	}
	self := env.Window
	return newIFrameChannel(self, func() window.Window { return self.Parent() }, env), nil
}

// NewIFrameServer builds the channel running in the embedding frame. It talks
// to the content window of the current iframe and only accepts messages
// sourced from that window.
func NewIFrameServer(env Env) (channel.Channel, error) {
	if env.Window == nil || env.CurrentIFrame == nil {
		return channel.Noop(), nil
	}
	current := env.CurrentIFrame
	peer := func() window.Window {
		el := current()
		if el == nil || el.ContentWindow() == nil {
			return nil
		}
		return el.ContentWindow()
	}
	return newIFrameChannel(env.Window, peer, env), nil
}

func newIFrameChannel(self window.Window, peer func() window.Window, env Env) *IFrameChannel {
	ic := &IFrameChannel{
		self:  self,
		peer:  peer,
		codec: env.codec(),
		log:   env.Logger,
	}
	ic.remove = self.AddMessageListener(ic.receive)
	return ic
}

func (ic *IFrameChannel) Post(env *message.Envelope) {
	target := ic.peer()
	if target == nil {
		return
	}
	data, ok := channel.Encode(ic.codec, env, ic.log)
	if !ok {
		return
	}
	target.PostMessage(ic.self, map[string]any{"event": EventKey, "data": string(data)}, "*")
}

func (ic *IFrameChannel) On(handler channel.Handler) { ic.slot.set(handler) }

// Close detaches the message listener.
func (ic *IFrameChannel) Close() error {
	ic.once.Do(ic.remove)
	return nil
}

func (ic *IFrameChannel) receive(ev window.MessageEvent) {
	peer := ic.peer()
	if peer == nil || ev.Source != peer {
		return
	}
	outer, ok := ev.Data.(map[string]any)
	if !ok || outer["event"] != EventKey {
		return
	}
	data, ok := outer["data"].(string)
	if !ok {
		return
	}
	env, ok := channel.Decode(ic.codec, []byte(data), ic.log)
	if !ok {
		return
	}
	ic.slot.deliver(env)
}

var _ channel.Closer = (*IFrameChannel)(nil)
