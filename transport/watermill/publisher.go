package watermill

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/transport"
)

// ReplyPublisher emits replies in the format Consumer reads.
type ReplyPublisher struct {
	publisher message.Publisher
	codec     codec.Codec
	topic     string
}

func NewReplyPublisher(publisher message.Publisher, c codec.Codec, topic string) *ReplyPublisher {
	return &ReplyPublisher{
		publisher: publisher,
		codec:     c,
		topic:     topic,
	}
}

func (p *ReplyPublisher) PublishExecuted(ctx context.Context, msg command.Executed) error {
	return p.Publish(ctx, msg)
}

func (p *ReplyPublisher) PublishEventHandled(ctx context.Context, msg command.DomainEventHandled) error {
	return p.Publish(ctx, msg)
}

func (p *ReplyPublisher) PublishEventStream(ctx context.Context, msg command.EventStream) error {
	return p.Publish(ctx, msg)
}

// Publish encodes reply and publishes it tagged with its kind.
func (p *ReplyPublisher) Publish(ctx context.Context, reply any) error {
	kind, payload, err := transport.Encode(p.codec, reply)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetaReplyType, string(kind))
	msg.Metadata.Set(MetaContentType, p.codec.ContentType())
	msg.SetContext(ctx)
	InjectTrace(ctx, msg)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return fmt.Errorf("publish %s reply: %w", kind, err)
	}

	return nil
}
