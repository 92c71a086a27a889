package nats

import (
	"github.com/nats-io/nats.go"

	"github.com/shortlink-org/correlation/config"
)

// Config - configuration
type Config struct {
	URL        string
	Subject    string
	QueueGroup string
}

func loadConfig(cfg *config.Config) Config {
	cfg.SetDefault("CORRELATION_NATS_URL", nats.DefaultURL)
	// wildcards allowed
	cfg.SetDefault("CORRELATION_NATS_SUBJECT", "correlation.replies")
	// empty: every instance receives every reply
	cfg.SetDefault("CORRELATION_NATS_QUEUE_GROUP", "")

	return Config{
		URL:        cfg.GetString("CORRELATION_NATS_URL"),
		Subject:    cfg.GetString("CORRELATION_NATS_SUBJECT"),
		QueueGroup: cfg.GetString("CORRELATION_NATS_QUEUE_GROUP"),
	}
}
