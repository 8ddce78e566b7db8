package middleware

import (
	"context"
	"time"

	"devtools-rpc/message"
)

// Timeout answers with a Timeout error when the handler takes longer than
// timeout. The handler keeps running with a cancelled context; its late
// result is discarded.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Envelope, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return message.NewErrorResponse(req.ID, message.ErrorTimeout, "request timed out")
			}
		}
	}
}
