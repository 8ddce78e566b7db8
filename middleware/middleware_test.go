package middleware

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"devtools-rpc/message"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *message.Envelope) *message.Envelope {
	return message.NewResponse(req.ID, "ok")
}

// 模拟一个慢 handler：睡 200ms
func slowHandler(ctx context.Context, req *message.Envelope) *message.Envelope {
	time.Sleep(200 * time.Millisecond)
	return message.NewResponse(req.ID, "ok")
}

func ping() *message.Envelope {
	return &message.Envelope{ID: "c1", Type: message.MsgTypeRequest, Method: "ping"}
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	handler := Logging(log)(echoHandler)

	resp := handler(context.Background(), ping())
	require.NotNil(t, resp)
	require.Equal(t, "ok", resp.Result)
	require.Contains(t, buf.String(), `"method":"ping"`)
	require.Contains(t, buf.String(), `"level":"debug"`)

	buf.Reset()
	failing := Logging(log)(func(ctx context.Context, req *message.Envelope) *message.Envelope {
		return message.NewErrorResponse(req.ID, message.ErrorRemoteThrew, "boom")
	})
	failing(context.Background(), ping())
	require.Contains(t, buf.String(), `"level":"warn"`)
	require.Contains(t, buf.String(), `"error":"boom"`)
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), ping())
	require.Nil(t, resp.Error)
	require.Equal(t, "c1", resp.ID)
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), ping())
	require.NotNil(t, resp.Error)
	require.Equal(t, message.ErrorTimeout, resp.Error.Name)
	require.Equal(t, "request timed out", resp.Error.Message)
	require.Equal(t, "c1", resp.ID)
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimit(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), ping())
		require.Nil(t, resp.Error, "request %d should pass", i)
	}

	resp := handler(context.Background(), ping())
	require.NotNil(t, resp.Error)
	require.Equal(t, "rate limit exceeded", resp.Error.Message)
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := func(ctx context.Context, req *message.Envelope) *message.Envelope {
		if calls.Add(1) < 3 {
			return message.NewErrorResponse(req.ID, message.ErrorTimeout, "request timed out")
		}
		return message.NewResponse(req.ID, "ok")
	}

	resp := Retry(3, time.Millisecond, zerolog.Nop())(flaky)(context.Background(), ping())
	require.Nil(t, resp.Error)
	require.Equal(t, int32(3), calls.Load())

	// Non-timeout failures are not retried.
	calls.Store(0)
	throws := func(ctx context.Context, req *message.Envelope) *message.Envelope {
		calls.Add(1)
		return message.NewErrorResponse(req.ID, message.ErrorRemoteThrew, "boom")
	}
	resp = Retry(3, time.Millisecond, zerolog.Nop())(throws)(context.Background(), ping())
	require.Equal(t, "boom", resp.Error.Message)
	require.Equal(t, int32(1), calls.Load())
}

func TestRecover(t *testing.T) {
	handler := Recover()(func(ctx context.Context, req *message.Envelope) *message.Envelope {
		panic("handler exploded")
	})

	resp := handler(context.Background(), ping())
	require.Equal(t, "c1", resp.ID)
	require.Equal(t, message.ErrorRemoteThrew, resp.Error.Name)
	require.Equal(t, "handler exploded", resp.Error.Message)
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Envelope) *message.Envelope {
				order = append(order, name+".before")
				resp := next(ctx, req)
				order = append(order, name+".after")
				return resp
			}
		}
	}

	handler := Chain(mark("A"), mark("B"), Timeout(500*time.Millisecond))(echoHandler)
	resp := handler(context.Background(), ping())
	require.Nil(t, resp.Error)
	require.Equal(t, []string{"A.before", "B.before", "B.after", "A.after"}, order)
}
