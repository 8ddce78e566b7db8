package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"devtools-rpc/message"
)

// Retry re-runs the handler when it answers with a Timeout error, backing off
// exponentially from baseDelay. Other failures are returned immediately.
func Retry(maxRetries int, baseDelay time.Duration, log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if resp == nil || resp.Error == nil || resp.Error.Name != message.ErrorTimeout {
					return resp
				}
				log.Debug().Int("attempt", i+1).Str("method", req.Method).Msg("retrying timed out call")

				t := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					t.Stop()
					return resp
				case <-t.C:
				}
				resp = next(ctx, req)
			}
			return resp
		}
	}
}
