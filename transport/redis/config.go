package redis

import (
	"github.com/shortlink-org/correlation/config"
)

// Config - config
type Config struct {
	Address       []string
	Username      string
	Password      string
	ChannelPrefix string
}

func loadConfig(cfg *config.Config) Config {
	cfg.SetDefault("CORRELATION_REDIS_ADDRESS", "localhost:6379")             // Redis Hosts
	cfg.SetDefault("CORRELATION_REDIS_USERNAME", "")                          // Redis Username
	cfg.SetDefault("CORRELATION_REDIS_PASSWORD", "")                          // Redis Password
	cfg.SetDefault("CORRELATION_REDIS_CHANNEL_PREFIX", "correlation.replies") // <prefix>.<reply kind>

	return Config{
		Address:       cfg.GetStringSlice("CORRELATION_REDIS_ADDRESS"),
		Username:      cfg.GetString("CORRELATION_REDIS_USERNAME"),
		Password:      cfg.GetString("CORRELATION_REDIS_PASSWORD"),
		ChannelPrefix: cfg.GetString("CORRELATION_REDIS_CHANNEL_PREFIX"),
	}
}
