package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"devtools-rpc/message"
)

// Logging records every dispatched call with its duration, and the failure if any.
func Logging(log zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) *message.Envelope {
			start := time.Now()
			resp := next(ctx, req)

			ev := log.Debug()
			if resp != nil && resp.Error != nil {
				ev = log.Warn().Str("error_kind", resp.Error.Name).Str("error", resp.Error.Message)
			}
			ev.Str("method", req.Method).
				Str("id", req.ID).
				Str("type", string(req.Type)).
				Dur("duration", time.Since(start)).
				Msg("rpc dispatch")
			return resp
		}
	}
}
