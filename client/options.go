package client

import (
	"log/slog"
	"os"
	"time"

	"presence-rpc/codec"
	"presence-rpc/message"
	"presence-rpc/middleware"
	"presence-rpc/registry"
)

const (
	// DefaultTimeout bounds every synchronous command except authorization.
	DefaultTimeout = 5 * time.Second
	// DefaultHandshakeTimeout bounds the wait for READY.
	DefaultHandshakeTimeout = 10 * time.Second
)

type options struct {
	timeout          time.Duration
	handshakeTimeout time.Duration
	logger           *slog.Logger
	onEvent          func(message.Notification)
	middlewares      []middleware.Middleware
	registry         registry.Registry
	socketName       string
	codec            codec.Codec
	pid              int
}

func defaultOptions() options {
	return options{
		timeout:          DefaultTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		registry:         &registry.SocketRegistry{},
		socketName:       registry.DefaultName,
		codec:            codec.GetCodec(codec.CodecTypeJSON),
		pid:              os.Getpid(),
	}
}

type Option func(*options)

// WithTimeout sets the bounded wait of synchronous commands.
// Zero disables the bound; the context still applies.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEventHandler receives every notification no synchronous call claimed:
// DISPATCH events (READY included) and replies to asynchronous commands.
// It runs on the receive goroutine and must not block.
func WithEventHandler(fn func(message.Notification)) Option {
	return func(o *options) { o.onEvent = fn }
}

// WithMiddleware appends to the call chain; the first one added runs outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

// WithRegistry sets how Dial finds the peer.
func WithRegistry(reg registry.Registry) Option {
	return func(o *options) { o.registry = reg }
}

func WithSocketName(name string) Option {
	return func(o *options) { o.socketName = name }
}

func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithPID sets the process id presence updates are attributed to.
func WithPID(pid int) Option {
	return func(o *options) { o.pid = pid }
}
