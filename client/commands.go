package client

import (
	"context"
	"fmt"

	"presence-rpc/codec"
	"presence-rpc/message"
	"presence-rpc/rpcerror"
)

// decodeData unmarshals the reply data into T. Missing or mistyped data is a
// malformed reply.
func decodeData[T any](cdc codec.Codec, n *message.Notification) (*T, error) {
	if len(n.Data) == 0 || string(n.Data) == "null" {
		return nil, rpcerror.Malformed(string(n.Cmd)+": missing data", n.Payload, nil)
	}
	out := new(T)
	if err := cdc.Decode(n.Data, out); err != nil {
		return nil, rpcerror.Malformed(string(n.Cmd)+": data", n.Payload, err)
	}
	return out, nil
}

func (c *Client) authorizeArgs(args message.AuthorizeArgs) message.AuthorizeArgs {
	if args.ClientID == "" {
		args.ClientID = c.clientID
	}
	return args
}

// Authorize asks the user to grant scopes. The peer shows a prompt, so there
// is no timeout: the call returns when the user answers, ctx is done or the
// connection closes.
func (c *Client) Authorize(ctx context.Context, args message.AuthorizeArgs) (*message.AuthorizeResponse, error) {
	n, err := c.call(ctx, message.CmdAuthorize, "", c.authorizeArgs(args), true)
	if err != nil {
		return nil, err
	}
	return decodeData[message.AuthorizeResponse](c.codec, n)
}

func (c *Client) AuthorizeAsync(ctx context.Context, args message.AuthorizeArgs) (string, error) {
	return c.CallAsync(ctx, message.CmdAuthorize, "", c.authorizeArgs(args))
}

func (c *Client) Authenticate(ctx context.Context, accessToken string) (*message.AuthenticateResponse, error) {
	n, err := c.Call(ctx, message.CmdAuthenticate, "", message.AuthenticateArgs{AccessToken: accessToken})
	if err != nil {
		return nil, err
	}
	return decodeData[message.AuthenticateResponse](c.codec, n)
}

func (c *Client) AuthenticateAsync(ctx context.Context, accessToken string) (string, error) {
	return c.CallAsync(ctx, message.CmdAuthenticate, "", message.AuthenticateArgs{AccessToken: accessToken})
}

// Subscribe starts delivery of evt to the event handler. id scopes the
// subscription to a guild or channel and may be empty.
func (c *Client) Subscribe(ctx context.Context, evt message.Event, id string) (*message.SubscribeResponse, error) {
	return c.subscription(ctx, message.CmdSubscribe, evt, id)
}

func (c *Client) SubscribeAsync(ctx context.Context, evt message.Event, id string) (string, error) {
	if evt == "" {
		return "", fmt.Errorf("%w: subscribe: event is required", message.ErrInvalidArgs)
	}
	return c.CallAsync(ctx, message.CmdSubscribe, evt, message.NewSubscribeArgs(evt, id))
}

func (c *Client) Unsubscribe(ctx context.Context, evt message.Event, id string) (*message.SubscribeResponse, error) {
	return c.subscription(ctx, message.CmdUnsubscribe, evt, id)
}

func (c *Client) UnsubscribeAsync(ctx context.Context, evt message.Event, id string) (string, error) {
	if evt == "" {
		return "", fmt.Errorf("%w: unsubscribe: event is required", message.ErrInvalidArgs)
	}
	return c.CallAsync(ctx, message.CmdUnsubscribe, evt, message.NewSubscribeArgs(evt, id))
}

func (c *Client) subscription(ctx context.Context, cmd message.Command, evt message.Event, id string) (*message.SubscribeResponse, error) {
	if evt == "" {
		return nil, fmt.Errorf("%w: %s: event is required", message.ErrInvalidArgs, cmd)
	}
	n, err := c.Call(ctx, cmd, evt, message.NewSubscribeArgs(evt, id))
	if err != nil {
		return nil, err
	}
	return decodeData[message.SubscribeResponse](c.codec, n)
}

// SetActivity replaces the presence shown for this process and returns the
// activity as the peer accepted it.
func (c *Client) SetActivity(ctx context.Context, activity *message.Activity) (*message.Activity, error) {
	if activity == nil {
		return nil, fmt.Errorf("%w: set activity: activity is required, use ClearActivity", message.ErrInvalidArgs)
	}
	n, err := c.Call(ctx, message.CmdSetActivity, "", message.SetActivityArgs{PID: c.opts.pid, Activity: activity})
	if err != nil {
		return nil, err
	}
	return decodeData[message.Activity](c.codec, n)
}

func (c *Client) SetActivityAsync(ctx context.Context, activity *message.Activity) (string, error) {
	if activity == nil {
		return "", fmt.Errorf("%w: set activity: activity is required, use ClearActivityAsync", message.ErrInvalidArgs)
	}
	return c.CallAsync(ctx, message.CmdSetActivity, "", message.SetActivityArgs{PID: c.opts.pid, Activity: activity})
}

// ClearActivity removes the presence shown for this process.
func (c *Client) ClearActivity(ctx context.Context) error {
	_, err := c.Call(ctx, message.CmdSetActivity, "", message.SetActivityArgs{PID: c.opts.pid})
	return err
}

func (c *Client) ClearActivityAsync(ctx context.Context) (string, error) {
	return c.CallAsync(ctx, message.CmdSetActivity, "", message.SetActivityArgs{PID: c.opts.pid})
}
