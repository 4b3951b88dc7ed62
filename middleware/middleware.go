// Package middleware wraps the client's call path.
//
// Every command, synchronous or asynchronous, passes through the chain before
// the engine sends it. Middlewares see the envelope before it is sent and the
// reply (or failure) after it is matched.
package middleware

import (
	"context"

	"presence-rpc/message"
)

// HandlerFunc performs one call. For asynchronous calls the returned
// notification is nil and only send failures are reported.
type HandlerFunc func(ctx context.Context, call *message.Call) (*message.Notification, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed runs outermost:
//
//	Chain(A, B, C)(h) == A(B(C(h)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// matcher reports whether a middleware applies to cmd. An empty command
// list matches everything.
func matcher(cmds []message.Command) func(message.Command) bool {
	if len(cmds) == 0 {
		return func(message.Command) bool { return true }
	}
	set := make(map[message.Command]struct{}, len(cmds))
	for _, c := range cmds {
		set[c] = struct{}{}
	}
	return func(c message.Command) bool {
		_, ok := set[c]
		return ok
	}
}
