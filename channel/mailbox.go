package channel

import (
	"sync"

	"devtools-rpc/internal/queue"
	"devtools-rpc/message"
)

// mailbox delivers envelopes to the current handler one at a time, in the
// order they were pushed. The handler is read at delivery time: an envelope
// that arrives while no handler is attached is lost.
type mailbox struct {
	mu      sync.Mutex
	handler Handler
	q       *queue.Queue[*message.Envelope]
}

func newMailbox() *mailbox {
	mb := &mailbox{}
	mb.q = queue.New(mb.deliver)
	return mb
}

func (mb *mailbox) setHandler(h Handler) {
	mb.mu.Lock()
	mb.handler = h
	mb.mu.Unlock()
}

func (mb *mailbox) push(env *message.Envelope) { mb.q.Push(env) }

func (mb *mailbox) close() { mb.q.Close() }

func (mb *mailbox) deliver(env *message.Envelope) {
	mb.mu.Lock()
	h := mb.handler
	mb.mu.Unlock()
	if h != nil {
		h(env)
	}
}
