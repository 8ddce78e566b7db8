package middleware

import (
	"context"
	"fmt"

	"devtools-rpc/message"
)

// Recover turns a panicking handler into a RemoteThrew response.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Envelope) (resp *message.Envelope) {
			defer func() {
				if r := recover(); r != nil {
					resp = message.NewErrorResponse(req.ID, message.ErrorRemoteThrew, fmt.Sprint(r))
				}
			}()
			return next(ctx, req)
		}
	}
}
