package middleware

import (
	"context"
	"log/slog"
	"time"

	"presence-rpc/logging"
	"presence-rpc/message"
	"presence-rpc/rpcerror"
)

// LoggingMiddleware records one line per call: debug on success, warn on failure.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	logger = logging.NewComponentLogger(logger, "rpc")
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Notification, error) {
			start := time.Now()
			n, err := next(ctx, call)

			attrs := []any{
				slog.String(logging.FieldCommand, string(call.Envelope.Cmd)),
				slog.String(logging.FieldNonce, call.Envelope.Nonce),
				slog.Bool("async", call.Async),
				slog.Duration("duration", time.Since(start)),
			}
			if call.Envelope.Evt != "" {
				attrs = append(attrs, slog.String(logging.FieldEvent, string(call.Envelope.Evt)))
			}
			if err != nil {
				attrs = append(attrs, slog.String("kind", rpcerror.KindOf(err).String()), slog.Any("error", err))
				logger.WarnContext(ctx, "call failed", attrs...)
				return n, err
			}
			logger.DebugContext(ctx, "call completed", attrs...)
			return n, nil
		}
	}
}
