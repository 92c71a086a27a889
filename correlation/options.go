package correlation

import (
	"go.opentelemetry.io/otel/metric"

	"github.com/shortlink-org/correlation/config"
)

// Option configures Core.
type Option func(*options)

type options struct {
	cfg           *config.Config
	settings      *Settings
	transports    []Transport
	meterProvider metric.MeterProvider
}

// WithConfig reads Settings from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithSettings takes precedence over WithConfig.
func WithSettings(settings Settings) Option {
	return func(o *options) {
		o.settings = &settings
	}
}

// WithTransport adds reply transports started and closed by the core.
func WithTransport(transports ...Transport) Option {
	return func(o *options) {
		for _, t := range transports {
			if t != nil {
				o.transports = append(o.transports, t)
			}
		}
	}
}

func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}
