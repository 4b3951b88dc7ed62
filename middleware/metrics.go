package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"presence-rpc/message"
	"presence-rpc/rpcerror"
)

// MetricsConfig configures the Prometheus metrics middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "presence_rpc").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer

	// Buckets are the histogram buckets for call duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Pending, when set, is exported as the pending_waiters gauge.
	Pending func() int
}

// MetricsOption configures the Prometheus metrics middleware.
type MetricsOption func(*MetricsConfig)

func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = namespace }
}

func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = registry }
}

func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) { c.Buckets = buckets }
}

// WithPending exports the number of in-flight synchronous calls.
func WithPending(pending func() int) MetricsOption {
	return func(c *MetricsConfig) { c.Pending = pending }
}

// MetricsMiddleware counts calls by command and outcome and observes the
// duration of synchronous calls. Collectors are registered once, when the
// middleware is built.
func MetricsMiddleware(opts ...MetricsOption) Middleware {
	cfg := MetricsConfig{
		Namespace: "presence_rpc",
		Registry:  prometheus.DefaultRegisterer,
		Buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	calls := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Name:      "calls_total",
		Help:      "Total number of commands issued, by outcome.",
	}, []string{"cmd", "mode", "outcome"})

	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Name:      "call_duration_seconds",
		Help:      "Time from send to matched reply for synchronous commands.",
		Buckets:   cfg.Buckets,
	}, []string{"cmd"})

	if cfg.Pending != nil {
		pending := cfg.Pending
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "pending_waiters",
			Help:      "Synchronous commands waiting for their reply.",
		}, func() float64 { return float64(pending()) })
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Notification, error) {
			start := time.Now()
			n, err := next(ctx, call)

			cmd := string(call.Envelope.Cmd)
			mode := "sync"
			if call.Async {
				mode = "async"
			} else {
				duration.WithLabelValues(cmd).Observe(time.Since(start).Seconds())
			}
			calls.WithLabelValues(cmd, mode, outcome(err)).Inc()
			return n, err
		}
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := rpcerror.KindOf(err); kind != rpcerror.KindUnknown {
		return kind.String()
	}
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, message.ErrInvalidArgs):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
