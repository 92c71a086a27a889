package watermill

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	MetaTraceID = "otel_trace_id"
	MetaSpanID  = "otel_span_id"
)

// InjectTrace writes the span context of ctx into message metadata.
func InjectTrace(ctx context.Context, msg *message.Message) {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return
	}

	msg.Metadata.Set(MetaTraceID, spanCtx.TraceID().String())
	msg.Metadata.Set(MetaSpanID, spanCtx.SpanID().String())
	msg.SetContext(ctx)
}

// ExtractTrace returns parent with the remote span found in msg, if any.
func ExtractTrace(parent context.Context, msg *message.Message) context.Context {
	tid := msg.Metadata.Get(MetaTraceID)
	sid := msg.Metadata.Get(MetaSpanID)

	if tid == "" || sid == "" {
		return parent
	}

	traceID, err1 := trace.TraceIDFromHex(tid)
	spanID, err2 := trace.SpanIDFromHex(sid)
	if err1 != nil || err2 != nil {
		return parent
	}

	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})

	return trace.ContextWithRemoteSpanContext(parent, spanCtx)
}

type tracing struct {
	tracer trace.Tracer
}

func newTracing(provider trace.TracerProvider) *tracing {
	return &tracing{tracer: provider.Tracer("correlation/watermill")}
}

// consume starts a span per received reply and stores it in the message context.
func (o *tracing) consume(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx := ExtractTrace(msg.Context(), msg)

		ctx, span := o.tracer.Start(ctx, "correlation.reply.consume", trace.WithAttributes(
			attribute.String("topic", message.SubscribeTopicFromCtx(msg.Context())),
			attribute.String("reply_type", msg.Metadata.Get(MetaReplyType)),
		))
		defer span.End()

		msg.SetContext(ctx)

		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
		}

		return msgs, err
	}
}
