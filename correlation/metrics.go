package correlation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/pending"
)

const meterName = "github.com/shortlink-org/correlation"

type metrics struct {
	received    metric.Int64Counter
	resolutions metric.Int64Counter
	unmatched   metric.Int64Counter
	failures    metric.Int64Counter

	pendingGauge metric.Int64ObservableGauge
	registration metric.Registration
}

func newMetrics(mp metric.MeterProvider, registries ...*pending.Registry) (*metrics, error) {
	meter := mp.Meter(meterName)

	received, err := meter.Int64Counter("correlation_replies_received_total",
		metric.WithDescription("Replies pushed into an ingress queue"))
	if err != nil {
		return nil, fmt.Errorf("replies counter: %w", err)
	}

	resolutions, err := meter.Int64Counter("correlation_resolutions_total",
		metric.WithDescription("Pending entries resolved, by scope and result status"))
	if err != nil {
		return nil, fmt.Errorf("resolutions counter: %w", err)
	}

	unmatched, err := meter.Int64Counter("correlation_unmatched_replies_total",
		metric.WithDescription("Replies with no pending entry to resolve"))
	if err != nil {
		return nil, fmt.Errorf("unmatched counter: %w", err)
	}

	failures, err := meter.Int64Counter("correlation_worker_failures_total",
		metric.WithDescription("Replies whose processing failed or panicked"))
	if err != nil {
		return nil, fmt.Errorf("failures counter: %w", err)
	}

	pendingGauge, err := meter.Int64ObservableGauge("correlation_pending",
		metric.WithDescription("Entries waiting for a reply"))
	if err != nil {
		return nil, fmt.Errorf("pending gauge: %w", err)
	}

	registration, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, registry := range registries {
			o.ObserveInt64(pendingGauge, int64(registry.Len()),
				metric.WithAttributes(attribute.String("scope", string(registry.Scope()))))
		}

		return nil
	}, pendingGauge)
	if err != nil {
		return nil, fmt.Errorf("pending gauge callback: %w", err)
	}

	return &metrics{
		received:     received,
		resolutions:  resolutions,
		unmatched:    unmatched,
		failures:     failures,
		pendingGauge: pendingGauge,
		registration: registration,
	}, nil
}

func (m *metrics) replyReceived(ctx context.Context, kind command.Kind) {
	m.received.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *metrics) resolved(ctx context.Context, scope pending.Scope, status command.Status) {
	m.resolutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", string(scope)),
		attribute.String("status", status.String()),
	))
}

func (m *metrics) replyUnmatched(ctx context.Context, kind command.Kind) {
	m.unmatched.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *metrics) workerFailed(kind command.Kind) {
	m.failures.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(kind))))
}

func (m *metrics) close() error {
	return m.registration.Unregister()
}
