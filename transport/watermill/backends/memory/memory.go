// Package memory is an in-process Watermill backend over gochannel.
package memory

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/transport/watermill"
)

// Backend shares one gochannel as publisher and subscriber.
type Backend struct {
	pubsub *gochannel.GoChannel
}

// New reads WATERMILL_MEMORY_BUFFER and WATERMILL_MEMORY_PERSISTENT.
func New(log logger.Logger, cfg *config.Config) *Backend {
	cfg.SetDefault("WATERMILL_MEMORY_BUFFER", 64)
	cfg.SetDefault("WATERMILL_MEMORY_PERSISTENT", false)

	return &Backend{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: int64(max(cfg.GetInt("WATERMILL_MEMORY_BUFFER"), 0)),
			Persistent:          cfg.GetBool("WATERMILL_MEMORY_PERSISTENT"),
		}, watermill.NewLogger(log)),
	}
}

func (b *Backend) Publisher() message.Publisher {
	return b.pubsub
}

func (b *Backend) Subscriber() message.Subscriber {
	return b.pubsub
}

func (b *Backend) Close() error {
	return b.pubsub.Close()
}

var _ watermill.Backend = (*Backend)(nil)
