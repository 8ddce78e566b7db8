package rpc

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"devtools-rpc/channel"
	"devtools-rpc/middleware"
)

type ClientOptions struct {
	Channel channel.Channel // nil uses channel.Noop()
	// Timeout bounds every call. Zero disables it: calls wait until answered,
	// abandoned or closed.
	Timeout     time.Duration
	Middlewares []middleware.Middleware // wrap dispatch of requests from the peer
	Logger      zerolog.Logger
}

// Client is one side of a single channel. It calls the functions of its peer
// and serves its own table to the peer.
type Client struct {
	*peer
}

func NewClient(fns Functions, opts ClientOptions) (*Client, error) {
	table, err := NewFuncTable(fns)
	if err != nil {
		return nil, err
	}
	ch := opts.Channel
	if ch == nil {
		ch = channel.Noop()
	}
	return &Client{peer: newPeer(ch, table, opts.Middlewares, opts.Timeout, opts.Logger)}, nil
}

// Call invokes method on the peer and waits for the result. If ctx ends first
// the call is abandoned and ctx.Err() returned.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	call := c.send(method, args)
	select {
	case <-call.Done:
		return call.Result, call.Error
	case <-ctx.Done():
		if !c.fail(call.ID, ErrAbandoned) {
			// Settled concurrently.
			<-call.Done
			return call.Result, call.Error
		}
		return nil, ctx.Err()
	}
}

// Go invokes method asynchronously. The returned call's Done channel
// receives it once it settles.
func (c *Client) Go(method string, args ...any) *Call {
	return c.send(method, args)
}

// Notify invokes method on the peer without waiting for, or getting, a response.
func (c *Client) Notify(method string, args ...any) {
	c.notify(method, args)
}

// Abandon gives up the pending call id; its Done receives ErrAbandoned and a
// late response is ignored. It reports whether the call was still pending.
func (c *Client) Abandon(id string) bool {
	return c.fail(id, ErrAbandoned)
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	return c.pendingCount()
}

// Channel returns the channel the client talks over.
func (c *Client) Channel() channel.Channel {
	return c.ch
}

// Functions returns the names served to the peer.
func (c *Client) Functions() []string {
	return c.table.Names()
}

// Close rejects pending calls with ErrClosed, stops serving the peer and closes
// the channel when it owns a connection.
func (c *Client) Close() error {
	c.close(0)
	return nil
}

// CallAs is Call with the result bound to T.
func CallAs[T any](ctx context.Context, c *Client, method string, args ...any) (T, error) {
	v, err := c.Call(ctx, method, args...)
	if err != nil {
		var zero T
		return zero, err
	}
	return Bind[T](v)
}
