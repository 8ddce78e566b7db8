// Package window models the cross-frame messaging surface of a browser page:
// windows that post messages to each other and listeners that receive every
// message event delivered to their window, whoever it was meant for.
//
// Frame is an in-memory implementation used for hosting plugin frames inside a
// Go process and for tests. A build targeting a real page would implement
// Window on top of its JS bindings.
package window

import (
	"slices"
	"sync"

	"devtools-rpc/internal/queue"
)

// MessageEvent is what a listener sees for one delivered message.
type MessageEvent struct {
	Data   any
	Origin string // origin of the sender
	Source Window // the sending window
}

// Window is one browsing context.
type Window interface {
	// PostMessage queues data for delivery to this window. from is the
	// posting window and becomes the event source. targetOrigin must be "*",
	// "/" (same origin as from) or equal to this window's origin, otherwise the
	// message is dropped.
	PostMessage(from Window, data any, targetOrigin string)
	// AddMessageListener registers fn for every message event on this window.
	AddMessageListener(fn func(MessageEvent)) (remove func())
	// Parent returns the embedding window, or the window itself at the top.
	Parent() Window
	Origin() string
}

// Frame is an in-memory Window. Delivery is asynchronous and FIFO per target.
type Frame struct {
	origin string
	parent *Frame

	mu        sync.Mutex
	listeners map[int]func(MessageEvent)
	nextID    int
	children  []*IFrame

	inbox *queue.Queue[MessageEvent]
}

// IFrame is an embedded frame element. Its content window is a child Frame.
type IFrame struct {
	ID      string
	content *Frame
}

// NewTop creates a top-level window for origin.
func NewTop(origin string) *Frame {
	return newFrame(origin, nil)
}

func newFrame(origin string, parent *Frame) *Frame {
	f := &Frame{
		origin:    origin,
		parent:    parent,
		listeners: make(map[int]func(MessageEvent)),
	}
	f.inbox = queue.New(f.dispatch)
	return f
}

// AppendIFrame embeds a new frame loaded from origin.
func (f *Frame) AppendIFrame(id, origin string) *IFrame {
	el := &IFrame{ID: id, content: newFrame(origin, f)}
	f.mu.Lock()
	f.children = append(f.children, el)
	f.mu.Unlock()
	return el
}

// IFrames lists the embedded frames in insertion order.
func (f *Frame) IFrames() []*IFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*IFrame(nil), f.children...)
}

// ContentWindow returns the iframe's window.
func (el *IFrame) ContentWindow() *Frame { return el.content }

// Remove detaches the iframe; its window stops receiving messages.
func (el *IFrame) Remove() {
	el.content.Close()
	parent := el.content.parent
	parent.mu.Lock()
	defer parent.mu.Unlock()
	for i, c := range parent.children {
		if c == el {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
}

func (f *Frame) PostMessage(from Window, data any, targetOrigin string) {
	switch targetOrigin {
	case "*":
	case "/":
		if from == nil || from.Origin() != f.origin {
			return
		}
	default:
		if targetOrigin != f.origin {
			return
		}
	}
	ev := MessageEvent{Data: data, Source: from}
	if from != nil {
		ev.Origin = from.Origin()
	}
	f.inbox.Push(ev)
}

func (f *Frame) AddMessageListener(fn func(MessageEvent)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *Frame) Parent() Window {
	if f.parent == nil {
		return f
	}
	return f.parent
}

func (f *Frame) Origin() string { return f.origin }

// Close tears the window down, dropping queued messages.
func (f *Frame) Close() {
	f.inbox.Close()
}

func (f *Frame) dispatch(ev MessageEvent) {
	f.mu.Lock()
	ids := make([]int, 0, len(f.listeners))
	for id := range f.listeners {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	// Listeners run in registration order, like addEventListener.
	slices.Sort(ids)
	for _, id := range ids {
		f.mu.Lock()
		fn, ok := f.listeners[id]
		f.mu.Unlock()
		if ok {
			fn(ev)
		}
	}
}
