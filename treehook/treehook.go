// Package treehook implements the side-channel request a plugin frame sends
// when the component tree it needs has not been published yet: a single
// payload-less message asking the embedding context to install the tree
// instrumentation hook.
//
// The message rides the same channel as RPC traffic and is recognized by its
// type prefix, so the RPC engine never sees it.
package treehook

import (
	"sync"
	"sync/atomic"

	"devtools-rpc/channel"
	"devtools-rpc/message"
)

// Requester asks for the hook at most once per mounted plugin instance.
type Requester struct {
	ch   channel.Channel
	sent atomic.Bool
}

func NewRequester(ch channel.Channel) *Requester {
	return &Requester{ch: ch}
}

// Observe is called on every observation tick with whether the tree is
// available. The first tick that finds it absent posts the install request;
// later ticks never post again. It reports whether this call posted.
func (r *Requester) Observe(treeAvailable bool) bool {
	if treeAvailable || !r.sent.CompareAndSwap(false, true) {
		return false
	}
	r.ch.Post(message.NewProtocolMessage(message.InstallComponentTreeHook))
	return true
}

// Requested reports whether the install request has been posted.
func (r *Requester) Requested() bool {
	return r.sent.Load()
}

// interceptor splits protocol messages from RPC traffic on the receiving side.
type interceptor struct {
	channel.Channel
	onProtocol func(*message.Envelope)
}

// Intercept wraps ch so protocol messages go to onProtocol and everything else
// reaches the handler registered with On.
func Intercept(ch channel.Channel, onProtocol func(*message.Envelope)) channel.Channel {
	return &interceptor{Channel: ch, onProtocol: onProtocol}
}

func (ic *interceptor) On(handler channel.Handler) {
	ic.Channel.On(func(env *message.Envelope) {
		if message.IsProtocolMessage(env) {
			ic.onProtocol(env)
			return
		}
		if handler != nil {
			handler(env)
		}
	})
}

// Close closes the wrapped channel when it owns a connection.
func (ic *interceptor) Close() error {
	if c, ok := ic.Channel.(channel.Closer); ok {
		return c.Close()
	}
	return nil
}

// Installer runs install once per plugin channel that asks for it. Protocol
// messages of other types are ignored.
type Installer struct {
	install func()

	mu   sync.Mutex
	done map[channel.Channel]bool
}

func NewInstaller(install func()) *Installer {
	return &Installer{install: install, done: make(map[channel.Channel]bool)}
}

// Wrap intercepts ch and installs on its first install request.
func (in *Installer) Wrap(ch channel.Channel) channel.Channel {
	var wrapped channel.Channel
	wrapped = Intercept(ch, func(env *message.Envelope) {
		if env.Type != message.InstallComponentTreeHook {
			return
		}
		in.mu.Lock()
		already := in.done[wrapped]
		in.done[wrapped] = true
		in.mu.Unlock()
		if !already {
			in.install()
		}
	})
	return wrapped
}

// Installed returns how many channels triggered an install.
func (in *Installer) Installed() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.done)
}
