package tracer

import (
	"context"
	"log/slog"
	"runtime"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// callersSkip is the number of callers to skip when getting function name.
const callersSkip = 4

// NewTraceFromContext records the log line as a short span and returns
// fields extended with the traceID of that span.
func NewTraceFromContext(
	ctx context.Context,
	msg string,
	tags []attribute.KeyValue,
	fields ...slog.Attr,
) []slog.Attr {
	if ctx == nil {
		ctx = context.Background()
	}

	_, span := otel.Tracer("logger").Start(ctx, getNameFunc())
	defer span.End()

	span.SetAttributes(FieldsToOpenTelemetry(fields...)...)
	span.SetAttributes(attribute.String("log", msg))
	span.SetAttributes(tags...)

	result := make([]slog.Attr, 0, len(fields)+1)
	result = append(result, fields...)
	result = append(result, slog.String("traceID", span.SpanContext().TraceID().String()))

	return result
}

// getNameFunc returns the name of the function that called the logger.
func getNameFunc() string {
	pc := make([]uintptr, 1)
	if n := runtime.Callers(callersSkip, pc); n > 0 {
		if f := runtime.FuncForPC(pc[0]); f != nil {
			return f.Name()
		}
	}

	return "log"
}

// FieldsToOpenTelemetry converts slog attributes to OpenTelemetry attributes.
func FieldsToOpenTelemetry(fields ...slog.Attr) []attribute.KeyValue {
	if len(fields) == 0 {
		return nil
	}

	attrs := make([]attribute.KeyValue, 0, len(fields))

	for _, field := range fields {
		value := field.Value.Resolve()

		switch value.Kind() {
		case slog.KindString:
			attrs = append(attrs, attribute.String(field.Key, value.String()))
		case slog.KindBool:
			attrs = append(attrs, attribute.Bool(field.Key, value.Bool()))
		case slog.KindInt64:
			attrs = append(attrs, attribute.Int64(field.Key, value.Int64()))
		case slog.KindUint64:
			attrs = append(attrs, attribute.Int64(field.Key, int64(value.Uint64()))) //nolint:gosec // overflow is acceptable for span attrs
		case slog.KindFloat64:
			attrs = append(attrs, attribute.Float64(field.Key, value.Float64()))
		case slog.KindGroup:
			// nested groups are flattened into the parent key
			for _, nested := range FieldsToOpenTelemetry(value.Group()...) {
				attrs = append(attrs, attribute.KeyValue{Key: attribute.Key(field.Key + "." + string(nested.Key)), Value: nested.Value})
			}
		default:
			attrs = append(attrs, attribute.String(field.Key, value.String()))
		}
	}

	return attrs
}
