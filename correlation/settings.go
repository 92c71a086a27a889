package correlation

import (
	"time"

	"github.com/shortlink-org/correlation/config"
)

const defaultShutdownTimeout = 10 * time.Second

// Settings tune the ingress queues and shutdown.
type Settings struct {
	// QueueCapacity bounds every ingress queue; zero means unbounded.
	QueueCapacity int
	// DrainOnShutdown lets workers finish queued replies before stopping.
	// When false the queued replies are dropped and logged.
	DrainOnShutdown bool
	// ShutdownTimeout applies when the Shutdown context has no deadline.
	ShutdownTimeout time.Duration
}

func LoadSettings(cfg *config.Config) Settings {
	cfg.SetDefault("CORRELATION_QUEUE_CAPACITY", 0)
	cfg.SetDefault("CORRELATION_DRAIN_ON_SHUTDOWN", true)
	cfg.SetDefault("CORRELATION_SHUTDOWN_TIMEOUT", defaultShutdownTimeout)

	settings := Settings{
		QueueCapacity:   cfg.GetInt("CORRELATION_QUEUE_CAPACITY"),
		DrainOnShutdown: cfg.GetBool("CORRELATION_DRAIN_ON_SHUTDOWN"),
		ShutdownTimeout: cfg.GetDuration("CORRELATION_SHUTDOWN_TIMEOUT"),
	}

	return settings.normalize()
}

func (s Settings) normalize() Settings {
	if s.QueueCapacity < 0 {
		s.QueueCapacity = 0
	}

	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = defaultShutdownTimeout
	}

	return s
}
