package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"presence-rpc/client"
	"presence-rpc/middleware"
)

// metricsExporter serves the call metrics of one connection on /metrics.
type metricsExporter struct {
	registry *prometheus.Registry
	listener net.Listener
	server   *http.Server
	client   atomic.Pointer[client.Client]
}

func startMetrics(addr string, logger *slog.Logger) (*metricsExporter, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	m := &metricsExporter{
		registry: reg,
		listener: ln,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
	}
	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", slog.Any("error", err))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return m, nil
}

func (m *metricsExporter) middleware() middleware.Middleware {
	return middleware.MetricsMiddleware(
		middleware.WithRegistry(m.registry),
		middleware.WithPending(m.pending),
	)
}

// attach points the pending_waiters gauge at cli once it is connected.
func (m *metricsExporter) attach(cli *client.Client) { m.client.Store(cli) }

func (m *metricsExporter) pending() int {
	if cli := m.client.Load(); cli != nil {
		return cli.Pending()
	}
	return 0
}

func (m *metricsExporter) Addr() string { return m.listener.Addr().String() }

func (m *metricsExporter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return m.server.Shutdown(ctx)
}
