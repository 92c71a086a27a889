package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/transport"
)

// Publisher emits replies onto a subject in the format Subscriber reads.
type Publisher struct {
	conn    *nats.Conn
	codec   codec.Codec
	subject string
}

func NewPublisher(conn *nats.Conn, c codec.Codec, subject string) *Publisher {
	return &Publisher{
		conn:    conn,
		codec:   c,
		subject: subject,
	}
}

// Publish sends reply without waiting for the subscriber.
func (p *Publisher) Publish(ctx context.Context, reply any) error {
	msg, err := p.message(ctx, reply)
	if err != nil {
		return err
	}

	return p.conn.PublishMsg(msg)
}

// Request sends reply and returns the subscriber's HeaderStatus answer.
func (p *Publisher) Request(ctx context.Context, reply any) (string, error) {
	msg, err := p.message(ctx, reply)
	if err != nil {
		return "", err
	}

	answer, err := p.conn.RequestMsgWithContext(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("nats: request %s: %w", p.subject, err)
	}

	return answer.Header.Get(HeaderStatus), nil
}

func (p *Publisher) message(ctx context.Context, reply any) (*nats.Msg, error) {
	kind, payload, err := transport.Encode(p.codec, reply)
	if err != nil {
		return nil, err
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = payload
	msg.Header.Set(HeaderReplyType, string(kind))
	msg.Header.Set(HeaderContentType, p.codec.ContentType())

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	return msg, nil
}
