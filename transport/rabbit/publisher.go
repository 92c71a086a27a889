package rabbit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/transport"
)

// Publisher emits replies in the format Consumer reads. Use the default
// exchange ("") with the queue name as routing key to address the queue
// directly.
type Publisher struct {
	ch         *amqp.Channel
	codec      codec.Codec
	exchange   string
	routingKey string
}

func NewPublisher(ch *amqp.Channel, c codec.Codec, exchange, routingKey string) *Publisher {
	return &Publisher{
		ch:         ch,
		codec:      c,
		exchange:   exchange,
		routingKey: routingKey,
	}
}

func (p *Publisher) Publish(ctx context.Context, reply any) error {
	msg, err := p.publishing(ctx, reply)
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg)
	if err != nil {
		return fmt.Errorf("rabbit: publish to %s: %w", p.routingKey, err)
	}

	return nil
}

func (p *Publisher) publishing(ctx context.Context, reply any) (amqp.Publishing, error) {
	kind, payload, err := transport.Encode(p.codec, reply)
	if err != nil {
		return amqp.Publishing{}, err
	}

	msg := amqp.Publishing{
		Headers:      amqp.Table{},
		ContentType:  p.codec.ContentType(),
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Type:         string(kind),
		Body:         payload,
	}

	otel.GetTextMapPropagator().Inject(ctx, tableCarrier(msg.Headers))

	return msg, nil
}
