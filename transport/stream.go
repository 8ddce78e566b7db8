// Package transport implements socket-backed channels for peers that live in a
// separate process or app instance.
//
// Stream carries protocol frames over any byte stream (TCP, unix socket,
// net.Pipe). WebSocket carries one encoded envelope per websocket message.
// Both run a single goroutine that reads inbound messages in order and hands
// them to the channel handler; writes from many goroutines share one
// connection under a write mutex.
//
//	goroutine-1 ──Post(id=a)──┐
//	goroutine-2 ──Post(id=b)──┼──→ single conn ──→ peer
//	goroutine-3 ──Post(id=c)──┘
//
//	recvLoop: ←── frame → decode → handler(env)
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"devtools-rpc/channel"
	"devtools-rpc/codec"
	"devtools-rpc/message"
	"devtools-rpc/protocol"
)

// DefaultHeartbeat is the keepalive interval used when none is configured.
const DefaultHeartbeat = 30 * time.Second

// ErrClosed is reported by Err after Close.
var ErrClosed = errors.New("transport: closed")

// Options configures a socket-backed channel.
type Options struct {
	Codec     codec.Codec   // defaults to the binary codec for streams, tagged for websockets
	Heartbeat time.Duration // 0 uses DefaultHeartbeat, negative disables
	Logger    zerolog.Logger
}

// link holds what both socket channels share: the handler slot and the
// close-once bookkeeping. The read loop starts with the first On, so nothing
// the peer sends before a handler is attached is lost.
type link struct {
	mu      sync.Mutex
	handler channel.Handler
	err     error

	readLoop  func()
	startOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

func newLink() link {
	return link{done: make(chan struct{})}
}

func (l *link) On(handler channel.Handler) {
	l.mu.Lock()
	l.handler = handler
	l.mu.Unlock()
	l.startOnce.Do(func() { go l.readLoop() })
}

func (l *link) deliver(env *message.Envelope) {
	l.mu.Lock()
	h := l.handler
	l.mu.Unlock()
	if h != nil {
		h(env)
	}
}

// shutdown records err and runs closeFn exactly once.
func (l *link) shutdown(err error, closeFn func() error) error {
	var closeErr error
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
		closeErr = closeFn()
	})
	return closeErr
}

// Done is closed once the connection is gone.
func (l *link) Done() <-chan struct{} { return l.done }

// Err returns why the connection ended, or nil while it is alive.
func (l *link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Stream is a Channel over a framed byte stream.
type Stream struct {
	link
	conn    io.ReadWriteCloser
	codec   codec.Codec
	log     zerolog.Logger
	sending sync.Mutex // Write lock: frames from different goroutines must not interleave
}

// NewStream wraps conn. Two background goroutines serve it:
//   - recvLoop: reads frames and hands decoded envelopes to the handler,
//     started by the first On
//   - heartbeatLoop: writes periodic heartbeat frames so idle peers stay connected
func NewStream(conn io.ReadWriteCloser, opts Options) *Stream {
	if opts.Codec == nil {
		opts.Codec = codec.GetCodec(codec.CodecTypeBinary)
	}
	s := &Stream{
		link:  newLink(),
		conn:  conn,
		codec: opts.Codec,
		log:   opts.Logger,
	}
	s.readLoop = s.recvLoop
	interval := opts.Heartbeat
	if interval == 0 {
		interval = DefaultHeartbeat
	}
	if interval > 0 {
		go s.heartbeatLoop(interval)
	}
	return s
}

// DialStream connects to a stream endpoint.
func DialStream(ctx context.Context, network, address string, opts Options) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewStream(conn, opts), nil
}

// Post encodes env and writes it as one frame. A failed write closes the stream.
func (s *Stream) Post(env *message.Envelope) {
	select {
	case <-s.done:
		return
	default:
	}
	body, ok := channel.Encode(s.codec, env, s.log)
	if !ok {
		return
	}
	header := protocol.Header{
		CodecType: byte(s.codec.Type()),
		MsgType:   protocol.MsgTypeEnvelope,
		BodyLen:   uint32(len(body)),
	}

	s.sending.Lock()
	err := protocol.Encode(s.conn, &header, body)
	s.sending.Unlock()
	if err != nil {
		s.log.Debug().Err(err).Msg("stream write failed")
		s.shutdown(err, s.conn.Close)
	}
}

// Close shuts the connection down. Later posts are discarded.
func (s *Stream) Close() error {
	return s.shutdown(ErrClosed, s.conn.Close)
}

// recvLoop reads frames sequentially: a byte stream has a single reader or the
// frame boundaries are lost.
func (s *Stream) recvLoop() {
	for {
		header, body, err := protocol.Decode(s.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Msg("stream read failed")
			}
			s.shutdown(err, s.conn.Close)
			return
		}
		if header.MsgType == protocol.MsgTypeHeartbeat {
			continue
		}

		cdc := s.codec
		if codec.CodecType(header.CodecType) != cdc.Type() {
			cdc = codec.GetCodec(codec.CodecType(header.CodecType))
		}
		env, ok := channel.Decode(cdc, body, s.log)
		if !ok {
			continue
		}
		s.deliver(env)
	}
}

func (s *Stream) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{MsgType: protocol.MsgTypeHeartbeat}
		// Heartbeat writes also need the sending lock to avoid frame interleaving
		s.sending.Lock()
		err := protocol.Encode(s.conn, header, nil)
		s.sending.Unlock()
		if err != nil {
			s.shutdown(err, s.conn.Close)
			return
		}
	}
}

var _ channel.Channel = (*Stream)(nil)
