package remoting

import (
	"context"
	"log/slog"
	"path"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/shortlink-org/correlation/logger"
)

// unaryServerLogger logs failed calls at a level chosen by their status code.
func unaryServerLogger(log logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		startTime := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(startTime)

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			if msg, ok := req.(proto.Message); ok {
				span.SetAttributes(attribute.String("rpc.request", string(proto.MessageName(msg))))
			}
		}

		if err != nil {
			printLog(ctx, log, err, callFields(info.FullMethod, err, duration)...)
		}

		return resp, err
	}
}

func unaryClientLogger(log logger.Logger) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		startTime := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)

		if err != nil {
			printLog(ctx, log, err, callFields(method, err, time.Since(startTime))...)
		}

		return err
	}
}

func callFields(method string, err error, duration time.Duration) []slog.Attr {
	return []slog.Attr{
		slog.String("grpc.service", path.Dir(method)[1:]),
		slog.String("grpc.method", path.Base(method)),
		slog.String("code", status.Code(err).String()),
		slog.Int64("duration (mks)", duration.Microseconds()),
	}
}

func printLog(ctx context.Context, log logger.Logger, err error, fields ...slog.Attr) {
	switch status.Code(err) {
	case
		codes.OK,
		codes.Canceled,
		codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.ResourceExhausted,
		codes.FailedPrecondition,
		codes.Aborted,
		codes.OutOfRange:
		log.DebugWithContext(ctx, err.Error(), fields...)
	case codes.Unknown, codes.DeadlineExceeded, codes.PermissionDenied, codes.Unauthenticated:
		log.InfoWithContext(ctx, err.Error(), fields...)
	case codes.Unimplemented, codes.Internal, codes.Unavailable, codes.DataLoss:
		log.WarnWithContext(ctx, err.Error(), fields...)
	default:
		log.InfoWithContext(ctx, err.Error(), fields...)
	}
}
