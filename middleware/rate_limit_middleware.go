package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"presence-rpc/message"
)

// ErrRateLimited is returned without sending when the token bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitMiddleware applies a token bucket to the listed commands (all
// commands when none are listed). The peer throttles SET_ACTIVITY to a
// handful of updates per 20 seconds, so the client rejects early instead of
// flooding it.
func RateLimitMiddleware(r float64, burst int, cmds ...message.Command) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	applies := matcher(cmds)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Notification, error) {
			if applies(call.Envelope.Cmd) && !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, call)
		}
	}
}
