/*
Tracing wrapping
*/
package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	traceProvider "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
)

// Config - tracing configuration
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	URI            string
}

// New returns the global TracerProvider and a flush func. With
// TRACER_ENABLED=false it returns a noop provider.
//
//nolint:ireturn // callers only need the interface
func New(ctx context.Context, log logger.Logger, cfg *config.Config) (traceProvider.TracerProvider, func(), error) {
	cfg.SetDefault("TRACER_ENABLED", false)
	cfg.SetDefault("TRACER_URI", "localhost:4317") // Tracing addr:host
	cfg.SetDefault("SERVICE_NAME", "correlation")
	cfg.SetDefault("SERVICE_VERSION", "dev")

	cnf := Config{
		Enabled:        cfg.GetBool("TRACER_ENABLED"),
		ServiceName:    cfg.GetString("SERVICE_NAME"),
		ServiceVersion: cfg.GetString("SERVICE_VERSION"),
		URI:            cfg.GetString("TRACER_URI"),
	}

	// Propagators are set either way so adapters carry incoming trace
	// context across services/processes.
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	if !cnf.Enabled {
		return noop.NewTracerProvider(), func() {}, nil
	}

	tp, err := newTraceProvider(ctx, cnf, cfg)
	if err != nil {
		return nil, nil, err
	}

	otel.SetTracerProvider(tp)

	log.Info(`Tracing enable`,
		slog.String("uri", cnf.URI),
	)

	cleanup := func() {
		errShutdown := tp.Shutdown(context.WithoutCancel(ctx))
		if errShutdown != nil {
			log.Error(`Tracing disable`,
				slog.String("uri", cnf.URI),
				slog.Any("err", errShutdown),
			)
		}
	}

	return tp, cleanup, nil
}

func newTraceProvider(ctx context.Context, cnf Config, cfg *config.Config) (*trace.TracerProvider, error) {
	cfg.SetDefault("TRACING_INITIAL_INTERVAL", "2s")
	cfg.SetDefault("TRACING_MAX_INTERVAL", "30s")
	cfg.SetDefault("TRACING_MAX_ELAPSED_TIME", "1m")

	initialInterval := cfg.GetDuration("TRACING_INITIAL_INTERVAL")

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cnf.ServiceName),
			attribute.String("service.version", cnf.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(cnf.URI),
		otlptracegrpc.WithRetry(otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: initialInterval,
			MaxInterval:     cfg.GetDuration("TRACING_MAX_INTERVAL"),
			MaxElapsedTime:  cfg.GetDuration("TRACING_MAX_ELAPSED_TIME"),
		}),
	)
	if err != nil {
		return nil, err
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(traceExporter, trace.WithBatchTimeout(initialInterval)),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.AlwaysSample())),
	), nil
}
