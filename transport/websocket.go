package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"devtools-rpc/channel"
	"devtools-rpc/codec"
	"devtools-rpc/message"
	"devtools-rpc/protocol"
)

const writeWait = 10 * time.Second

// WebSocket is a Channel over a websocket connection. Text messages carry
// tagged or JSON envelopes, binary messages carry binary-codec envelopes.
type WebSocket struct {
	link
	conn    *websocket.Conn
	codec   codec.Codec
	log     zerolog.Logger
	writeMu sync.Mutex

	pongWait time.Duration // zero when heartbeats are disabled
}

// NewWebSocket wraps an established connection. Its read loop starts with the
// first On; a ping loop runs unless disabled. With heartbeats on, a peer that
// stays silent and answers no ping for two intervals is dropped.
func NewWebSocket(conn *websocket.Conn, opts Options) *WebSocket {
	if opts.Codec == nil {
		opts.Codec = codec.GetCodec(codec.CodecTypeTagged)
	}
	ws := &WebSocket{
		link:  newLink(),
		conn:  conn,
		codec: opts.Codec,
		log:   opts.Logger,
	}
	ws.link.readLoop = ws.readMessages
	conn.SetReadLimit(int64(protocol.MaxBodySize))
	interval := opts.Heartbeat
	if interval == 0 {
		interval = DefaultHeartbeat
	}
	if interval > 0 {
		ws.pongWait = 2 * interval
		go ws.pingLoop(interval)
	}
	return ws
}

// DialWebSocket connects to a websocket endpoint.
func DialWebSocket(ctx context.Context, url string, opts Options) (*WebSocket, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn, opts), nil
}

func (ws *WebSocket) messageType() int {
	if ws.codec.Type() == codec.CodecTypeBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (ws *WebSocket) Post(env *message.Envelope) {
	select {
	case <-ws.done:
		return
	default:
	}
	data, ok := channel.Encode(ws.codec, env, ws.log)
	if !ok {
		return
	}

	ws.writeMu.Lock()
	_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := ws.conn.WriteMessage(ws.messageType(), data)
	ws.writeMu.Unlock()
	if err != nil {
		ws.log.Debug().Err(err).Msg("websocket write failed")
		ws.shutdown(err, ws.conn.Close)
	}
}

// Close sends a normal closure frame and closes the connection.
func (ws *WebSocket) Close() error {
	return ws.shutdown(ErrClosed, func() error {
		ws.writeMu.Lock()
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.writeMu.Unlock()
		return ws.conn.Close()
	})
}

// extend pushes the read deadline out by one pong wait.
func (ws *WebSocket) extend() {
	if ws.pongWait > 0 {
		_ = ws.conn.SetReadDeadline(time.Now().Add(ws.pongWait))
	}
}

func (ws *WebSocket) readMessages() {
	ws.extend()
	ws.conn.SetPongHandler(func(string) error {
		ws.extend()
		return nil
	})
	for {
		mt, data, err := ws.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				ws.log.Debug().Err(err).Msg("websocket read failed")
			}
			ws.shutdown(err, ws.conn.Close)
			return
		}
		ws.extend()

		cdc := ws.codec
		switch {
		case mt == websocket.BinaryMessage && cdc.Type() != codec.CodecTypeBinary:
			cdc = codec.GetCodec(codec.CodecTypeBinary)
		case mt == websocket.TextMessage && cdc.Type() == codec.CodecTypeBinary:
			cdc = codec.GetCodec(codec.CodecTypeTagged)
		}
		env, ok := channel.Decode(cdc, data, ws.log)
		if !ok {
			continue
		}
		ws.deliver(env)
	}
}

func (ws *WebSocket) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ws.done:
			return
		case <-ticker.C:
		}
		ws.writeMu.Lock()
		err := ws.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		ws.writeMu.Unlock()
		if err != nil {
			ws.shutdown(err, ws.conn.Close)
			return
		}
	}
}

var _ channel.Channel = (*WebSocket)(nil)
