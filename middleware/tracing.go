package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"presence-rpc/message"
	"presence-rpc/rpcerror"
)

const defaultTracerName = "presence-rpc"

// TracingMiddleware starts one client span per command.
// A nil tracer uses the global provider.
func TracingMiddleware(tracer trace.Tracer) Middleware {
	if tracer == nil {
		tracer = otel.Tracer(defaultTracerName)
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *message.Call) (*message.Notification, error) {
			env := call.Envelope
			ctx, span := tracer.Start(ctx, "ipc "+string(env.Cmd),
				trace.WithSpanKind(trace.SpanKindClient),
				trace.WithAttributes(
					attribute.String("rpc.system", "ipc"),
					attribute.String("rpc.method", string(env.Cmd)),
					attribute.String("rpc.nonce", env.Nonce),
					attribute.Bool("rpc.async", call.Async),
				))
			defer span.End()

			if env.Evt != "" {
				span.SetAttributes(attribute.String("rpc.event", string(env.Evt)))
			}

			n, err := next(ctx, call)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				span.SetAttributes(attribute.String("rpc.error_kind", rpcerror.KindOf(err).String()))
				return n, err
			}
			span.SetStatus(codes.Ok, "")
			return n, nil
		}
	}
}
