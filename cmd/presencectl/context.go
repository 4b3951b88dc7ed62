package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"

	"presence-rpc/client"
	"presence-rpc/config"
	"presence-rpc/logging"
	"presence-rpc/message"
	"presence-rpc/middleware"
	"presence-rpc/registry"
)

type commandContext struct {
	configFlag   *string
	clientIDFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, clientIDFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		clientIDFlag: clientIDFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		var overrides []config.Override
		if c.clientIDFlag != nil {
			overrides = append(overrides, config.WithClientID(*c.clientIDFlag))
		}
		cfg, _, _, err := config.Load(path, overrides...)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logger(cfg *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}

func (c *commandContext) registry(cfg *config.Config) registry.Registry {
	if cfg.Socket.Dir != "" {
		return &registry.SocketRegistry{Dirs: []string{cfg.Socket.Dir}}
	}
	return &registry.SocketRegistry{}
}

// session describes how a command wants its connection set up.
type session struct {
	onEvent     func(message.Notification)
	metricsAddr string // serve /metrics here while connected; empty disables
}

// withClient dials the peer, runs fn and closes the connection.
func (c *commandContext) withClient(ctx context.Context, onEvent func(message.Notification), fn func(*client.Client) error) error {
	return c.withSession(ctx, session{onEvent: onEvent}, fn)
}

func (c *commandContext) withSession(ctx context.Context, s session, fn func(*client.Client) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := c.logger(cfg)
	if err != nil {
		return err
	}

	mws := []middleware.Middleware{
		middleware.TracingMiddleware(nil),
		middleware.LoggingMiddleware(logger),
	}
	var exporter *metricsExporter
	if s.metricsAddr != "" {
		exporter, err = startMetrics(s.metricsAddr, logger)
		if err != nil {
			return err
		}
		defer exporter.Close()
		mws = append(mws, exporter.middleware())
	}
	if cfg.RateLimit.ActivityPerSecond > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.RateLimit.ActivityPerSecond, cfg.RateLimit.ActivityBurst, message.CmdSetActivity))
	}

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithTimeout(cfg.CommandTimeout()),
		client.WithHandshakeTimeout(cfg.HandshakeTimeout()),
		client.WithRegistry(c.registry(cfg)),
		client.WithSocketName(cfg.Socket.Name),
		client.WithMiddleware(mws...),
	}
	if s.onEvent != nil {
		opts = append(opts, client.WithEventHandler(s.onEvent))
	}

	cli, ready, err := client.Dial(ctx, cfg.Client.ID, opts...)
	if err != nil {
		return wrapDialError(err)
	}
	defer cli.Close()
	if exporter != nil {
		exporter.attach(cli)
	}
	logger.Debug("connected", slog.String("addr", cli.Endpoint().Addr), slog.String("user", ready.User.Username))
	return fn(cli)
}

func wrapDialError(err error) error {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return fmt.Errorf("connect to peer: no ipc socket found; is the desktop app running? (%w)", err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to peer: socket refused the connection; verify the app is running: %w", err)
	default:
		return fmt.Errorf("connect to peer: %w", err)
	}
}
