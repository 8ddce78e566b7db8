package channel

import (
	"sync"

	"devtools-rpc/message"
)

// Recorder wraps a channel and keeps a copy of every posted envelope.
// A nil inner channel makes it a sink.
type Recorder struct {
	inner  Channel
	mu     sync.Mutex
	posted []*message.Envelope
}

// NewRecorder wraps inner.
func NewRecorder(inner Channel) *Recorder {
	if inner == nil {
		inner = Noop()
	}
	return &Recorder{inner: inner}
}

func (r *Recorder) Post(env *message.Envelope) {
	r.mu.Lock()
	r.posted = append(r.posted, env)
	r.mu.Unlock()
	r.inner.Post(env)
}

func (r *Recorder) On(handler Handler) {
	r.inner.On(handler)
}

// Posted returns the envelopes posted so far.
func (r *Recorder) Posted() []*message.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*message.Envelope(nil), r.posted...)
}

// Count returns how many posted envelopes match keep.
func (r *Recorder) Count(keep func(*message.Envelope) bool) int {
	n := 0
	for _, env := range r.Posted() {
		if keep(env) {
			n++
		}
	}
	return n
}
