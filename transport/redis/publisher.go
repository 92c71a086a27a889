package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/transport"
)

// Publisher emits replies on the channels Subscriber listens to.
type Publisher struct {
	client rueidis.Client
	codec  codec.Codec
	prefix string
}

func NewPublisher(client rueidis.Client, c codec.Codec, prefix string) *Publisher {
	return &Publisher{
		client: client,
		codec:  c,
		prefix: prefix,
	}
}

// Publish returns the number of subscribers that received the reply.
func (p *Publisher) Publish(ctx context.Context, reply any) (int64, error) {
	kind, payload, err := transport.Encode(p.codec, reply)
	if err != nil {
		return 0, err
	}

	channel := Channel(p.prefix, kind)
	cmd := p.client.B().Publish().Channel(channel).Message(rueidis.BinaryString(payload)).Build()

	receivers, err := p.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("redis: publish %s: %w", channel, err)
	}

	return receivers, nil
}
