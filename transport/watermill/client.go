// Package watermill is the queue-consumer reply transport built on a
// Watermill router. Any Watermill backend can carry the replies; the reply
// kind travels in the "reply_type" metadata key.
package watermill

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
)

// Backend is a Watermill pub/sub pair (Kafka, gochannel, ...).
type Backend interface {
	Publisher() message.Publisher
	Subscriber() message.Subscriber
	Close() error
}

// Client owns the router and the instrumented publisher.
type Client struct {
	Router     *message.Router
	Publisher  message.Publisher
	Subscriber message.Subscriber

	options Options
	backend Backend
}

// New builds the router with the base middleware, tracing, DLQ and metrics.
// Nil providers fall back to no-op ones.
func New(
	log logger.Logger,
	cfg *config.Config,
	backend Backend,
	meterProvider metric.MeterProvider,
	tracerProvider trace.TracerProvider,
	options ...Option,
) (*Client, error) {
	if backend == nil {
		return nil, errors.New("watermill: backend is nil")
	}

	if meterProvider == nil {
		meterProvider = metricnoop.NewMeterProvider()
	}

	if tracerProvider == nil {
		tracerProvider = tracenoop.NewTracerProvider()
	}

	wmLogger := NewLogger(log)

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, err
	}

	opts := defaultOptions(cfg)
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}

	configureBaseMiddlewares(router, log, wmLogger, opts)

	tracer := newTracing(tracerProvider)
	router.AddMiddleware(tracer.consume)

	metrics, err := newMetricsMiddleware(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
	}

	publisher := metrics.instrumentPublisher(backend.Publisher(), tracer)

	if opts.DLQ.Enabled {
		poison, err := newPoisonMiddleware(log, publisher, opts.DLQ.Topic, strings.TrimSpace(cfg.GetString("SERVICE_NAME")))
		if err != nil {
			return nil, err
		}

		router.AddMiddleware(poison)
	}

	router.AddMiddleware(metrics.consume)

	return &Client{
		Router:     router,
		Publisher:  publisher,
		Subscriber: backend.Subscriber(),
		options:    opts,
		backend:    backend,
	}, nil
}

// Topics returns the configured reply topics.
func (c *Client) Topics() []string {
	return c.options.Topics
}

// Close gracefully closes all resources and collects all errors.
func (c *Client) Close() error {
	var errs *multierror.Error

	if c.Router != nil {
		if err := c.Router.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close router: %w", err))
		}
	}

	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close backend: %w", err))
		}
	}

	return errs.ErrorOrNil()
}
