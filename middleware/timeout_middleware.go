package middleware

import (
	"context"
	"time"

	"presence-rpc/message"
)

// TimeOutMiddleware overrides the bounded wait of the listed synchronous
// commands. Unbounded calls (authorization) are left alone.
func TimeOutMiddleware(timeout time.Duration, cmds ...message.Command) Middleware {
	applies := matcher(cmds)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Notification, error) {
			if !call.Async && !call.Unbounded && applies(call.Envelope.Cmd) {
				call.Timeout = timeout
			}
			return next(ctx, call)
		}
	}
}
