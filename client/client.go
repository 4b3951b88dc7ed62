// Package client is the command correlation engine.
//
// A Client owns one connection to the peer. Any number of goroutines may
// issue commands on it concurrently; replies are matched to callers by nonce,
// never by send order:
//
//	goroutine-1 ──Call(SUBSCRIBE)──────┐
//	goroutine-2 ──Call(AUTHENTICATE)───┼──→ middleware ──→ transport ──→ peer
//	goroutine-3 ──CallAsync(SET_ACT.)──┘
//
//	recvLoop: ←── reply(nonce) → dispatcher → waiting caller
//	          ←── event        → event handler
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"presence-rpc/codec"
	"presence-rpc/dispatch"
	"presence-rpc/logging"
	"presence-rpc/message"
	"presence-rpc/middleware"
	"presence-rpc/nonce"
	"presence-rpc/protocol"
	"presence-rpc/registry"
	"presence-rpc/rpcerror"
	"presence-rpc/transport"
)

type Client struct {
	clientID string
	opts     options
	logger   *slog.Logger
	codec    codec.Codec

	nonces     *nonce.Generator
	dispatcher *dispatch.Dispatcher
	transport  *transport.Transport
	handler    middleware.HandlerFunc
	endpoint   registry.Endpoint

	ready chan readyResult // capacity 1, first READY or handshake failure
}

type readyResult struct {
	data *message.ReadyData
	err  error
}

// New starts a client on an established connection. It does not perform the
// handshake; call Handshake before issuing commands.
func New(conn io.ReadWriteCloser, clientID string, opts ...Option) (*Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("%w: client id is required", message.ErrInvalidArgs)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}

	c := &Client{
		clientID: clientID,
		opts:     o,
		logger:   logging.NewComponentLogger(o.logger, "client"),
		codec:    o.codec,
		nonces:   nonce.New(),
		ready:    make(chan readyResult, 1),
	}
	c.dispatcher = dispatch.New(c.handleEvent, c.logger)
	c.handler = middleware.Chain(o.middlewares...)(c.roundTrip)
	c.transport = transport.New(conn, frameHandler{c}, o.logger)
	return c, nil
}

// Dial discovers the peer, connects to the first endpoint that answers and
// completes the handshake.
func Dial(ctx context.Context, clientID string, opts ...Option) (*Client, *message.ReadyData, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	endpoints, err := o.registry.Discover(o.socketName)
	if err != nil {
		return nil, nil, &rpcerror.TransportError{Op: "discover", Err: err}
	}
	conn, ep, err := transport.Dial(ctx, endpoints)
	if err != nil {
		return nil, nil, err
	}

	c, err := New(conn, clientID, opts...)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	c.endpoint = ep
	c.logger.Debug("connected", slog.String("addr", ep.Addr))

	ready, err := c.Handshake(ctx)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return c, ready, nil
}

// Handshake announces the client id and waits for the READY event.
func (c *Client) Handshake(ctx context.Context) (*message.ReadyData, error) {
	args := message.HandshakeArgs{V: message.HandshakeVersion, ClientID: c.clientID}
	if err := args.Validate(); err != nil {
		return nil, err
	}
	payload, err := c.codec.Encode(args)
	if err != nil {
		return nil, fmt.Errorf("client: encode handshake: %w", err)
	}
	if err := c.transport.Send(protocol.OpHandshake, payload); err != nil {
		return nil, err
	}

	var timeout <-chan time.Time
	if c.opts.handshakeTimeout > 0 {
		timer := time.NewTimer(c.opts.handshakeTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case r := <-c.ready:
		return r.data, r.err
	case <-c.transport.Done():
		return nil, c.transport.Err()
	case <-timeout:
		return nil, &rpcerror.TimeoutError{Command: "HANDSHAKE", After: c.opts.handshakeTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close sends a close frame and tears the connection down. Pending
// synchronous calls, unbounded ones included, fail with a transport error
// before Close returns. An event read just before Close may still reach the
// event handler afterwards.
func (c *Client) Close() error {
	return c.transport.Close()
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.transport.Done() }

// Err returns why the connection stopped, or nil while it is open.
func (c *Client) Err() error { return c.transport.Err() }

// Pending returns the number of synchronous calls waiting for a reply.
func (c *Client) Pending() int { return c.dispatcher.Pending() }

// Endpoint returns the address Dial connected to.
func (c *Client) Endpoint() registry.Endpoint { return c.endpoint }

// handleEvent receives notifications no waiter claimed. The first READY (or
// an ERROR before it) completes the handshake; everything is then passed to
// the user's event handler.
func (c *Client) handleEvent(n message.Notification) {
	if n.Nonce == "" && n.Cmd == message.CmdDispatch {
		switch n.Evt {
		case message.EvtReady:
			ready := &message.ReadyData{}
			var err error
			if derr := c.codec.Decode(n.Data, ready); derr != nil {
				ready, err = nil, rpcerror.Malformed("ready data", n.Payload, derr)
			}
			c.signalReady(readyResult{data: ready, err: err})
		case message.EvtError:
			c.signalReady(readyResult{err: rpcerror.Translate(n.Payload)})
		}
	}

	if c.opts.onEvent != nil {
		c.opts.onEvent(n)
	}
}

func (c *Client) signalReady(r readyResult) {
	select {
	case c.ready <- r:
	default:
	}
}

// frameHandler adapts the client to transport.Handler without exporting the
// callbacks on Client.
type frameHandler struct{ c *Client }

func (h frameHandler) HandleFrame(payload []byte) {
	n, err := message.ParseNotification(payload)
	if err != nil {
		// A readable nonce still routes the failure to its caller.
		if id := message.PeekNonce(payload); id != "" && h.c.dispatcher.Fail(id, err) == dispatch.Delivered {
			return
		}
		h.c.logger.Warn("dropping unparseable frame", slog.Any("error", err))
		return
	}
	h.c.dispatcher.Deliver(n)
}

func (h frameHandler) HandleClose(err error) {
	var cerr *rpcerror.CloseError
	if errors.As(err, &cerr) {
		h.c.signalReady(readyResult{err: err})
	}
	h.c.dispatcher.Close(err)
}
