package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	promExporter "go.opentelemetry.io/otel/exporters/prometheus"
	api "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/exemplar"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
)

// Monitoring exposes the prometheus registry shared by the OTEL meter
// provider and plain prometheus collectors, plus liveness and readiness.
type Monitoring struct {
	Handler    *http.ServeMux
	Prometheus *prometheus.Registry
	Metrics    *api.MeterProvider

	log    logger.Logger
	health healthcheck.Handler
	addr   string
	server *http.Server
}

// New - Monitoring endpoints. Nothing listens until Start.
func New(ctx context.Context, log logger.Logger, cfg *config.Config) (*Monitoring, error) {
	cfg.SetDefault("MONITORING_ADDR", "0.0.0.0:9090")
	cfg.SetDefault("SERVICE_NAME", "correlation")
	cfg.SetDefault("SERVICE_VERSION", "dev")

	monitoring := &Monitoring{
		log:  log,
		addr: cfg.GetString("MONITORING_ADDR"),
	}

	err := monitoring.SetPrometheus()
	if err != nil {
		return nil, err
	}

	monitoring.Metrics, err = monitoring.SetMetrics(ctx, cfg.GetString("SERVICE_NAME"), cfg.GetString("SERVICE_VERSION"))
	if err != nil {
		return nil, err
	}

	monitoring.Handler = monitoring.SetHandler()

	return monitoring, nil
}

// SetMetrics - Create a meter provider that exports into the registry
func (m *Monitoring) SetMetrics(ctx context.Context, service, version string) (*api.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", service),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, err
	}

	prometheusReader, err := promExporter.New(
		promExporter.WithRegisterer(m.Prometheus),
	)
	if err != nil {
		return nil, err
	}

	return api.NewMeterProvider(
		api.WithResource(res),
		api.WithReader(prometheusReader),
		api.WithExemplarFilter(exemplar.TraceBasedFilter),
	), nil
}

// SetHandler - Create a "common" handler for metrics
func (m *Monitoring) SetHandler() *http.ServeMux {
	handler := http.NewServeMux()

	// Expose prometheus metrics on /metrics
	handler.Handle("/metrics", promhttp.HandlerFor(
		m.Prometheus,
		promhttp.HandlerOpts{
			// Opt into OpenMetrics to support exemplars.
			EnableOpenMetrics: true,

			ErrorHandling: promhttp.ContinueOnError,
		},
	))

	// The health check related metrics will be prefixed with the provided namespace
	m.health = healthcheck.NewMetricsHandler(m.Prometheus, "correlation")

	handler.HandleFunc("/live", m.health.LiveEndpoint)
	handler.HandleFunc("/ready", m.health.ReadyEndpoint)

	return handler
}

// SetPrometheus - Create a new Prometheus registry
func (m *Monitoring) SetPrometheus() error {
	m.Prometheus = prometheus.NewRegistry()

	// Add Go module build info.
	return m.Prometheus.Register(collectors.NewBuildInfoCollector())
}

// AddReadinessCheck makes /ready fail while check returns an error.
func (m *Monitoring) AddReadinessCheck(name string, check healthcheck.Check) {
	m.health.AddReadinessCheck(name, check)
}

// Start serves Handler on MONITORING_ADDR.
func (m *Monitoring) Start() error {
	lis, err := net.Listen("tcp", m.addr)
	if err != nil {
		return err
	}

	m.server = &http.Server{
		Handler:           m.Handler,
		ReadHeaderTimeout: 30 * time.Second, //nolint:mnd // timeout for Prometheus metrics
	}

	go func() {
		errServe := m.server.Serve(lis)
		if errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			m.log.Error(errServe.Error())
		}
	}()

	m.log.Info("Run monitoring", slog.String("addr", lis.Addr().String()))

	return nil
}

// Shutdown stops the server and flushes the meter provider.
func (m *Monitoring) Shutdown(ctx context.Context) error {
	var errs error

	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	if err := m.Metrics.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}

	return errs
}
