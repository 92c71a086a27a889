package watermill

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	wmmid "github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/shortlink-org/correlation/logger"
)

// ----------- BASE MIDDLEWARE (panic, correlation, retry) ------------

func configureBaseMiddlewares(router *message.Router, log logger.Logger, wmLogger watermill.LoggerAdapter, opts Options) {
	router.AddMiddleware(wmmid.Recoverer)
	router.AddMiddleware(wmmid.CorrelationID)

	if opts.Timeout.Enabled {
		router.AddMiddleware(wmmid.Timeout(opts.Timeout.Duration))
		log.Debug("Configured timeout middleware",
			slog.String("duration", opts.Timeout.Duration.String()),
		)
	}

	if opts.CircuitBreaker.Enabled {
		cb := wmmid.NewCircuitBreaker(opts.CircuitBreaker.Settings)
		router.AddMiddleware(cb.Middleware)
		log.Debug("Configured circuit breaker middleware",
			slog.String("name", opts.CircuitBreaker.Settings.Name),
			slog.String("timeout", opts.CircuitBreaker.Settings.Timeout.String()),
			slog.Uint64("max_requests", uint64(opts.CircuitBreaker.Settings.MaxRequests)),
		)
	}

	if opts.Retry.Enabled {
		retryMiddleware := wmmid.Retry{
			MaxRetries:          opts.Retry.MaxRetries,
			InitialInterval:     opts.Retry.InitialInterval,
			MaxInterval:         opts.Retry.MaxInterval,
			Multiplier:          opts.Retry.Multiplier,
			MaxElapsedTime:      opts.Retry.MaxElapsedTime,
			RandomizationFactor: opts.Retry.Jitter,
			ResetContextOnRetry: opts.Retry.ResetContextOnRetry,
			Logger:              wmLogger,
		}
		router.AddMiddleware(retryMiddleware.Middleware)

		log.Debug("Configured retry middleware",
			slog.Int("max_retries", opts.Retry.MaxRetries),
			slog.String("initial_interval", opts.Retry.InitialInterval.String()),
			slog.String("max_interval", opts.Retry.MaxInterval.String()),
		)
	}
}

// -------------------- METRICS MIDDLEWARE ---------------------------

type metricsMiddleware struct {
	published metric.Int64Counter
	consumed  metric.Int64Counter
	failed    metric.Int64Counter

	conLatency metric.Float64Histogram
}

func newMetricsMiddleware(provider metric.MeterProvider) (*metricsMiddleware, error) {
	m := provider.Meter("correlation/watermill")

	pub, err := m.Int64Counter(
		"watermill_messages_published_total",
		metric.WithDescription("Total number of replies published to topics"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	cons, err := m.Int64Counter(
		"watermill_messages_consumed_total",
		metric.WithDescription("Total number of replies consumed from topics"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := m.Int64Counter(
		"watermill_messages_failed_total",
		metric.WithDescription("Total number of failed reply operations (publish or consume)"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	conLat, err := m.Float64Histogram(
		"watermill_consume_latency_seconds",
		metric.WithDescription("Latency of reply consumption in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsMiddleware{
		published:  pub,
		consumed:   cons,
		failed:     failed,
		conLatency: conLat,
	}, nil
}

func (m *metricsMiddleware) consume(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		start := time.Now()
		ctx := msg.Context()
		topic := message.SubscribeTopicFromCtx(ctx)

		msgs, err := h(msg)
		if err != nil {
			m.failed.Add(ctx, 1, metric.WithAttributes(errorAttributes(topic, "consume", err)...))
			return msgs, err
		}

		attrs := metric.WithAttributes(attribute.String("topic", topic))
		m.consumed.Add(ctx, 1, attrs)
		m.conLatency.Record(ctx, time.Since(start).Seconds(), attrs)

		return msgs, nil
	}
}

// instrumentPublisher adds a publish span, trace metadata and counters.
func (m *metricsMiddleware) instrumentPublisher(pub message.Publisher, tracer *tracing) message.Publisher {
	return &publisherWrapper{pub: pub, metrics: m, tracing: tracer}
}

type publisherWrapper struct {
	pub     message.Publisher
	metrics *metricsMiddleware
	tracing *tracing
}

func (pw *publisherWrapper) Publish(topic string, msgs ...*message.Message) error {
	ctx := context.Background()
	if len(msgs) > 0 {
		ctx = msgs[0].Context()
	}

	ctx, span := pw.tracing.tracer.Start(ctx, "correlation.reply.publish", trace.WithAttributes(
		attribute.String("topic", topic),
	))
	defer span.End()

	for _, msg := range msgs {
		InjectTrace(ctx, msg)
	}

	if err := pw.pub.Publish(topic, msgs...); err != nil {
		span.RecordError(err)
		pw.metrics.failed.Add(ctx, 1, metric.WithAttributes(errorAttributes(topic, "publish", err)...))

		return err
	}

	pw.metrics.published.Add(ctx, int64(len(msgs)), metric.WithAttributes(attribute.String("topic", topic)))

	return nil
}

func (pw *publisherWrapper) Close() error {
	return pw.pub.Close()
}

const metricErrorMaxLen = 128

func errorAttributes(topic, stage string, err error) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("topic", topic),
		attribute.String("stage", stage),
		attribute.String("error", truncate(err.Error(), metricErrorMaxLen)),
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
