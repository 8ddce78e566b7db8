package channel

import (
	"sync"

	"github.com/rs/zerolog"

	"devtools-rpc/codec"
	"devtools-rpc/message"
)

// PipeEnd is one side of an in-process channel pair.
type PipeEnd struct {
	peer  *PipeEnd
	inbox *mailbox
	codec codec.Codec
	once  sync.Once
}

// Pipe returns two connected channels. Everything posted on one end arrives at
// the other end's handler, asynchronously and in order. Envelopes are copied
// through the tagged codec so the two sides never share values.
func Pipe() (*PipeEnd, *PipeEnd) {
	cdc := codec.GetCodec(codec.CodecTypeTagged)
	a := &PipeEnd{inbox: newMailbox(), codec: cdc}
	b := &PipeEnd{inbox: newMailbox(), codec: cdc}
	a.peer, b.peer = b, a
	return a, b
}

func (p *PipeEnd) Post(env *message.Envelope) {
	data, ok := Encode(p.codec, env, zerolog.Nop())
	if !ok {
		return
	}
	copied, ok := Decode(p.codec, data, zerolog.Nop())
	if !ok {
		return
	}
	p.peer.inbox.push(copied)
}

func (p *PipeEnd) On(handler Handler) {
	p.inbox.setHandler(handler)
}

// Close tears down both ends; later posts are discarded.
func (p *PipeEnd) Close() error {
	p.once.Do(func() {
		p.inbox.close()
		p.peer.inbox.close()
	})
	return nil
}
