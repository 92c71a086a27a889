package rabbit

import (
	"github.com/shortlink-org/correlation/config"
)

type Config struct {
	URI      string
	Queue    string
	Prefetch int
}

// loadConfig - Construct a new RabbitMQ configuration.
func loadConfig(cfg *config.Config) Config {
	cfg.SetDefault("CORRELATION_RABBIT_URI", "amqp://localhost:5672") // RabbitMQ URI
	cfg.SetDefault("CORRELATION_RABBIT_QUEUE", "correlation.replies") // durable reply queue
	cfg.SetDefault("CORRELATION_RABBIT_PREFETCH", 64)                 // unacked deliveries in flight

	return Config{
		URI:      cfg.GetString("CORRELATION_RABBIT_URI"),
		Queue:    cfg.GetString("CORRELATION_RABBIT_QUEUE"),
		Prefetch: cfg.GetInt("CORRELATION_RABBIT_PREFETCH"),
	}
}
