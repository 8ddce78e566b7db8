package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"devtools-rpc/codec"
	"devtools-rpc/message"
	"devtools-rpc/protocol"
)

func collect(t *testing.T, n int) (func(*message.Envelope), func() []*message.Envelope) {
	t.Helper()
	var mu sync.Mutex
	var got []*message.Envelope
	arrived := make(chan struct{}, n)
	h := func(env *message.Envelope) {
		mu.Lock()
		got = append(got, env)
		mu.Unlock()
		arrived <- struct{}{}
	}
	wait := func() []*message.Envelope {
		for i := 0; i < n; i++ {
			select {
			case <-arrived:
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out after %d of %d envelopes", i, n)
			}
		}
		mu.Lock()
		defer mu.Unlock()
		return append([]*message.Envelope(nil), got...)
	}
	return h, wait
}

func TestStreamOverPipe(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeTagged, codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			c1, c2 := net.Pipe()
			opts := Options{Codec: codec.GetCodec(ct), Heartbeat: -1, Logger: zerolog.Nop()}
			a, b := NewStream(c1, opts), NewStream(c2, opts)
			defer a.Close()
			defer b.Close()

			h, wait := collect(t, 3)
			b.On(h)
			for _, id := range []string{"c1", "c2", "c3"} {
				a.Post(&message.Envelope{ID: id, Type: message.MsgTypeRequest, Method: "ping", Args: []any{"x"}})
			}

			got := wait()
			require.Len(t, got, 3)
			for i, id := range []string{"c1", "c2", "c3"} {
				require.Equal(t, id, got[i].ID)
				require.Equal(t, "ping", got[i].Method)
				require.Equal(t, []any{"x"}, got[i].Args)
			}
		})
	}
}

func TestStreamConcurrentPosts(t *testing.T) {
	c1, c2 := net.Pipe()
	opts := Options{Heartbeat: -1}
	a, b := NewStream(c1, opts), NewStream(c2, opts)
	defer a.Close()
	defer b.Close()

	const n = 50
	h, wait := collect(t, n)
	b.On(h)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Post(&message.Envelope{ID: "x", Type: message.MsgTypeEvent, Method: "tick"})
		}()
	}
	wg.Wait()
	require.Len(t, wait(), n)
}

func TestStreamHeartbeatIsInvisible(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewStream(c1, Options{Heartbeat: 5 * time.Millisecond})
	b := NewStream(c2, Options{Heartbeat: -1})
	defer a.Close()
	defer b.Close()

	h, wait := collect(t, 1)
	b.On(h)
	time.Sleep(30 * time.Millisecond)
	a.Post(&message.Envelope{ID: "c1", Type: message.MsgTypeResponse, Result: "pong"})

	got := wait()
	require.Equal(t, "pong", got[0].Result)
}

func TestStreamCloseEndsPeer(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewStream(c1, Options{Heartbeat: -1})
	b := NewStream(c2, Options{Heartbeat: -1})
	b.On(nil)

	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Err(), ErrClosed)

	select {
	case <-b.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer did not notice the closed stream")
	}
	require.Error(t, b.Err())

	// Posting after close is a silent no-op.
	a.Post(&message.Envelope{ID: "late", Type: message.MsgTypeEvent})
	require.NoError(t, a.Close())
}

func TestNothingReadBeforeOn(t *testing.T) {
	c1, c2 := net.Pipe()
	a := NewStream(c1, Options{Heartbeat: -1})
	b := NewStream(c2, Options{Heartbeat: -1})
	defer a.Close()
	defer b.Close()

	posted := make(chan struct{})
	go func() {
		a.Post(&message.Envelope{ID: "early", Type: message.MsgTypeEvent, Method: "mounted"})
		close(posted)
	}()
	time.Sleep(20 * time.Millisecond)

	h, wait := collect(t, 1)
	b.On(h)
	<-posted
	require.Equal(t, "early", wait()[0].ID)
}

func TestDialStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Stream, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- NewStream(conn, Options{Heartbeat: -1})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	cli, err := DialStream(ctx, "tcp", ln.Addr().String(), Options{Heartbeat: -1})
	require.NoError(t, err)
	defer cli.Close()

	srv := <-accepted
	defer srv.Close()

	h, wait := collect(t, 1)
	srv.On(h)
	cli.Post(&message.Envelope{ID: "c1", Type: message.MsgTypeRequest, Method: "ping"})
	require.Equal(t, "c1", wait()[0].ID)
}

func newWebSocketServer(t *testing.T, opts Options) (*httptest.Server, <-chan *WebSocket) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	conns := make(chan *WebSocket, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- NewWebSocket(conn, opts)
	}))
	return srv, conns
}

func TestWebSocketRoundTrip(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeTagged, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			opts := Options{Codec: codec.GetCodec(ct), Heartbeat: -1}
			srv, conns := newWebSocketServer(t, opts)
			defer srv.Close()

			url := "ws" + strings.TrimPrefix(srv.URL, "http")
			cli, err := DialWebSocket(context.Background(), url, opts)
			require.NoError(t, err)
			defer cli.Close()

			peer := <-conns
			defer peer.Close()

			h, wait := collect(t, 1)
			peer.On(h)
			cli.Post(&message.Envelope{ID: "c1", Type: message.MsgTypeRequest, Method: "ping", Args: []any{int64(1), true}})
			got := wait()[0]
			require.Equal(t, "ping", got.Method)
			require.Equal(t, []any{int64(1), true}, got.Args)

			h2, wait2 := collect(t, 1)
			cli.On(h2)
			peer.Post(&message.Envelope{ID: "c1", Type: message.MsgTypeResponse, Result: "pong"})
			require.Equal(t, "pong", wait2()[0].Result)
		})
	}
}

func TestWebSocketCloseEndsPeer(t *testing.T) {
	srv, conns := newWebSocketServer(t, Options{Heartbeat: -1})
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	cli, err := DialWebSocket(context.Background(), url, Options{Heartbeat: -1})
	require.NoError(t, err)
	peer := <-conns
	peer.On(nil)

	require.NoError(t, cli.Close())
	select {
	case <-peer.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("server side did not observe the close")
	}
}

// A peer that never reads never answers pings; the channel must give up on it.
func TestWebSocketDropsSilentPeer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	stalled := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stalled <- conn
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	cli, err := DialWebSocket(context.Background(), url, Options{Heartbeat: 20 * time.Millisecond})
	require.NoError(t, err)
	defer cli.Close()
	raw := <-stalled
	defer raw.Close()

	cli.On(nil)
	select {
	case <-cli.Done():
		require.Error(t, cli.Err())
	case <-time.After(2 * time.Second):
		t.Fatal("silent peer was never dropped")
	}
}

func TestWebSocketPongsKeepPeerAlive(t *testing.T) {
	srv, conns := newWebSocketServer(t, Options{Heartbeat: -1})
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	cli, err := DialWebSocket(context.Background(), url, Options{Heartbeat: 20 * time.Millisecond})
	require.NoError(t, err)
	defer cli.Close()
	peer := <-conns
	defer peer.Close()
	peer.On(nil) // reading answers pings

	cli.On(nil)
	select {
	case <-cli.Done():
		t.Fatalf("live peer dropped: %v", cli.Err())
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWebSocketReadLimit(t *testing.T) {
	srv, conns := newWebSocketServer(t, Options{Heartbeat: -1})
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	raw, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer raw.Close()
	peer := <-conns
	peer.On(nil)

	big := make([]byte, int(protocol.MaxBodySize)+1)
	_ = raw.WriteMessage(websocket.TextMessage, big)
	select {
	case <-peer.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("oversized message was accepted")
	}
}
