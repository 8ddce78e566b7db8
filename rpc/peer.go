// Package rpc is the bidirectional call engine shared by clients and server
// groups.
//
// Every channel gets one peer. A peer dispatches inbound requests and events
// against the local function table and correlates inbound responses with its
// own outstanding calls by id:
//
//	Go(method) ─→ pending[id] ─→ channel.Post(request)
//	receive(response id) ─→ pending[id].Done
//	receive(request) ─→ go serve ─→ middleware chain ─→ table.call ─→ channel.Post(response)
//
// Responses may arrive in any order. With no timeout configured a call whose
// response never comes stays pending until it is abandoned or the peer is
// closed.
package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"devtools-rpc/channel"
	"devtools-rpc/message"
	"devtools-rpc/middleware"
)

// Call is one outstanding remote call.
type Call struct {
	ID     string
	Method string
	Args   []any
	Result any
	Error  error
	Done   chan *Call // receives the call itself once settled

	timer *time.Timer
}

func (call *Call) done() {
	if call.timer != nil {
		call.timer.Stop()
	}
	call.Done <- call
}

type peer struct {
	ch      channel.Channel
	table   *FuncTable
	handler middleware.HandlerFunc
	timeout time.Duration
	log     zerolog.Logger

	ctx    context.Context // cancelled on close, handed to local handlers
	cancel context.CancelFunc

	mu      sync.Mutex
	pending map[string]*Call
	closed  bool
	serving sync.WaitGroup
}

func newPeer(ch channel.Channel, table *FuncTable, mws []middleware.Middleware, timeout time.Duration, log zerolog.Logger) *peer {
	p := &peer{
		ch:      ch,
		table:   table,
		timeout: timeout,
		log:     log,
		pending: make(map[string]*Call),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.handler = middleware.Chain(mws...)(p.dispatch)
	ch.On(p.receive)
	return p
}

// send registers a call and posts its request.
func (p *peer) send(method string, args []any) *Call {
	call := &Call{
		ID:     uuid.NewString(),
		Method: method,
		Args:   args,
		Done:   make(chan *Call, 1),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		call.Error = ErrClosed
		call.done()
		return call
	}
	p.pending[call.ID] = call
	if p.timeout > 0 {
		id, d := call.ID, p.timeout
		call.timer = time.AfterFunc(d, func() {
			p.fail(id, fmt.Errorf("%w: %s after %s", ErrTimeout, method, d))
		})
	}
	p.mu.Unlock()

	p.ch.Post(&message.Envelope{ID: call.ID, Type: message.MsgTypeRequest, Method: method, Args: args})
	return call
}

func (p *peer) notify(method string, args []any) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	p.ch.Post(&message.Envelope{ID: uuid.NewString(), Type: message.MsgTypeEvent, Method: method, Args: args})
}

// take removes and returns the pending call for id.
func (p *peer) take(id string) *Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.pending[id]
	if !ok {
		return nil
	}
	delete(p.pending, id)
	return call
}

// fail settles the pending call id with err. It reports whether the call was
// still pending.
func (p *peer) fail(id string, err error) bool {
	call := p.take(id)
	if call == nil {
		return false
	}
	call.Error = err
	call.done()
	return true
}

func (p *peer) pendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *peer) receive(env *message.Envelope) {
	switch {
	case env.IsResponse():
		p.settle(env)
	case env.IsRequest(), env.IsEvent():
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		p.serving.Add(1)
		p.mu.Unlock()
		go p.serve(env)
	}
}

func (p *peer) settle(env *message.Envelope) {
	call := p.take(env.ID)
	if call == nil {
		// Late response to an abandoned or timed out call, or one meant for
		// another peer on a shared broadcast channel.
		return
	}
	if env.Error != nil {
		call.Error = &RemoteError{Kind: env.Error.Name, Method: call.Method, Message: env.Error.Message}
	} else {
		call.Result = env.Result
	}
	call.done()
}

func (p *peer) serve(req *message.Envelope) {
	defer p.serving.Done()

	resp := p.handler(p.ctx, req)
	if !req.IsRequest() {
		if resp != nil && resp.Error != nil {
			p.log.Debug().Str("method", req.Method).Str("error", resp.Error.Message).Msg("event handler failed")
		}
		return
	}
	if resp == nil {
		resp = message.NewResponse(req.ID, nil)
	}
	resp.ID, resp.Type = req.ID, message.MsgTypeResponse
	p.ch.Post(resp)
}

// dispatch is the innermost handler of the middleware chain.
func (p *peer) dispatch(ctx context.Context, req *message.Envelope) *message.Envelope {
	result, err := p.table.call(ctx, req.Method, req.Args)
	if err != nil {
		return message.NewErrorResponse(req.ID, errorKind(err), err.Error())
	}
	return message.NewResponse(req.ID, result)
}

// close rejects every pending call with ErrClosed and stops serving. A
// positive wait bounds how long it waits for in-flight handlers.
func (p *peer) close(wait time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pending := p.pending
	p.pending = make(map[string]*Call)
	p.mu.Unlock()

	p.cancel()
	for _, call := range pending {
		call.Error = ErrClosed
		call.done()
	}

	if wait > 0 {
		done := make(chan struct{})
		go func() {
			p.serving.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(wait):
			p.log.Warn().Dur("wait", wait).Msg("handlers still running after close")
		}
	}

	if c, ok := p.ch.(channel.Closer); ok {
		if err := c.Close(); err != nil {
			p.log.Debug().Err(err).Msg("close channel")
		}
	}
}
