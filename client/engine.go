package client

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"presence-rpc/dispatch"
	"presence-rpc/message"
	"presence-rpc/protocol"
	"presence-rpc/rpcerror"
)

// Call sends a command and blocks until its reply arrives, the client timeout
// expires, ctx is done or the connection closes. An error-flagged reply is
// returned as *rpcerror.ProtocolError.
func (c *Client) Call(ctx context.Context, cmd message.Command, evt message.Event, args any) (*message.Notification, error) {
	return c.call(ctx, cmd, evt, args, false)
}

// CallAsync sends a command and returns its nonce without waiting. The reply,
// if any, reaches the event handler. Only send failures are reported.
func (c *Client) CallAsync(ctx context.Context, cmd message.Command, evt message.Event, args any) (string, error) {
	env, err := c.envelope(cmd, evt, args, true)
	if err != nil {
		return "", err
	}
	if _, err := c.handler(ctx, &message.Call{Envelope: env, Async: true}); err != nil {
		return "", err
	}
	return env.Nonce, nil
}

func (c *Client) call(ctx context.Context, cmd message.Command, evt message.Event, args any, unbounded bool) (*message.Notification, error) {
	env, err := c.envelope(cmd, evt, args, false)
	if err != nil {
		return nil, err
	}
	return c.handler(ctx, &message.Call{Envelope: env, Unbounded: unbounded, Timeout: c.opts.timeout})
}

// envelope validates args and stamps a fresh nonce.
func (c *Client) envelope(cmd message.Command, evt message.Event, args any, async bool) (*message.Envelope, error) {
	args = normalizeArgs(args)
	if v, ok := args.(message.Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return &message.Envelope{Cmd: cmd, Nonce: c.nonces.Next(async), Evt: evt, Args: args}, nil
}

// normalizeArgs turns a typed nil pointer into a plain nil so it is omitted
// from the envelope instead of being sent as null.
func normalizeArgs(args any) any {
	if args == nil {
		return nil
	}
	if v := reflect.ValueOf(args); v.Kind() == reflect.Pointer && v.IsNil() {
		return nil
	}
	return args
}

// roundTrip is the innermost handler of the middleware chain.
func (c *Client) roundTrip(ctx context.Context, call *message.Call) (*message.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	env := call.Envelope
	payload, err := c.codec.Encode(env)
	if err != nil {
		return nil, fmt.Errorf("client: encode %s: %w", env.Cmd, err)
	}

	if call.Async {
		return nil, c.transport.Send(protocol.OpFrame, payload)
	}

	// Register before sending; the reply may arrive before Send returns.
	w, err := c.dispatcher.Register(env.Nonce)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Send(protocol.OpFrame, payload); err != nil {
		c.dispatcher.Cancel(env.Nonce)
		return nil, err
	}
	return c.await(ctx, call, w)
}

// await blocks on w. When the wait is abandoned (timeout or ctx) the waiter
// is cancelled first; if cancellation loses the race against delivery the
// delivered result wins.
func (c *Client) await(ctx context.Context, call *message.Call, w *dispatch.Waiter) (*message.Notification, error) {
	var expired <-chan time.Time
	if !call.Unbounded && call.Timeout > 0 {
		timer := time.NewTimer(call.Timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-w.Done():
		return result(res)
	case <-expired:
		if c.dispatcher.Cancel(w.Nonce()) {
			return nil, &rpcerror.TimeoutError{Command: string(call.Envelope.Cmd), Nonce: w.Nonce(), After: call.Timeout}
		}
	case <-ctx.Done():
		if c.dispatcher.Cancel(w.Nonce()) {
			return nil, ctx.Err()
		}
	}
	return result(<-w.Done())
}

func result(res dispatch.Result) (*message.Notification, error) {
	if res.Err != nil {
		return nil, res.Err
	}
	n := res.Notification
	if n.IsError {
		return nil, rpcerror.Translate(n.Payload)
	}
	return &n, nil
}
