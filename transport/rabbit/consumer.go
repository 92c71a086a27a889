// Package rabbit is the queue-consumer reply transport over AMQP 0-9-1.
// The reply kind travels in the delivery Type property.
//
// Deliveries are acknowledged once enqueued on the core. A kind the core
// does not know is acknowledged and dropped, a body that cannot be decoded
// is rejected without requeue (dead-lettered when the queue has a DLX) and
// a full ingress queue requeues the delivery.
package rabbit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/reply"
	"github.com/shortlink-org/correlation/transport"
)

var ErrAlreadyStarted = errors.New("rabbit: consumer already started")

// Consumer feeds deliveries from one durable queue into a Sink.
type Consumer struct {
	log    logger.Logger
	codec  codec.Codec
	config Config

	conn *amqp.Connection
	ch   *amqp.Channel
	done chan struct{}
}

type Option func(*Consumer)

// WithCodec overrides CORRELATION_CODEC.
func WithCodec(c codec.Codec) Option {
	return func(consumer *Consumer) {
		consumer.codec = c
	}
}

// New builds a consumer from CORRELATION_RABBIT_* keys.
func New(log logger.Logger, cfg *config.Config, opts ...Option) (*Consumer, error) {
	c := &Consumer{
		log:    log,
		config: loadConfig(cfg),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.codec == nil {
		cc, err := codec.FromConfig(cfg)
		if err != nil {
			return nil, err
		}

		c.codec = cc
	}

	return c, nil
}

func (c *Consumer) Name() string {
	return "rabbit"
}

// Start declares the queue and begins consuming.
func (c *Consumer) Start(ctx context.Context, sink transport.Sink) error {
	if c.done != nil {
		return ErrAlreadyStarted
	}

	conn, err := amqp.Dial(c.config.URI)
	if err != nil {
		return fmt.Errorf("rabbit: dial: %w", err)
	}

	deliveries, err := c.consume(conn)
	if err != nil {
		return multierror.Append(err, conn.Close())
	}

	c.conn = conn
	c.done = make(chan struct{})
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(c.done)

		for delivery := range deliveries {
			c.handle(runCtx, sink, delivery)
		}
	}()

	c.log.InfoWithContext(ctx, "Consuming replies", slog.String("queue", c.config.Queue))

	return nil
}

func (c *Consumer) consume(conn *amqp.Connection) (<-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbit: open channel: %w", err)
	}

	if err := ch.Qos(c.config.Prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("rabbit: set prefetch: %w", err)
	}

	q, err := ch.QueueDeclare(
		c.config.Queue, // name
		true,           // durable
		false,          // auto-delete
		false,          // exclusive
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("rabbit: declare queue %s: %w", c.config.Queue, err)
	}

	deliveries, err := ch.Consume(
		q.Name,        // queue
		"correlation", // consumer tag
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return nil, fmt.Errorf("rabbit: consume %s: %w", q.Name, err)
	}

	c.ch = ch

	return deliveries, nil
}

// Close cancels the consumer and waits for the delivery loop to finish.
func (c *Consumer) Close() error {
	if c.done == nil {
		return nil
	}

	var errs error

	if err := c.ch.Cancel("correlation", false); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := c.ch.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = multierror.Append(errs, err)
	}

	<-c.done

	return errs
}

func (c *Consumer) handle(ctx context.Context, sink transport.Sink, d amqp.Delivery) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, tableCarrier(d.Headers))
	kind := command.Kind(d.Type)
	err := transport.Deliver(ctx, sink, c.codec, kind, d.Body)

	fields := []slog.Attr{
		slog.String("kind", string(kind)),
		slog.String("message_id", d.MessageId),
	}

	var settle error

	switch {
	case err == nil:
		settle = d.Ack(false)
	case errors.Is(err, transport.ErrUnrecognizedReplyKind):
		c.log.WarnWithContext(ctx, "unrecognized reply kind acknowledged", fields...)

		settle = d.Ack(false)
	case errors.Is(err, transport.ErrDecode):
		c.log.ErrorWithContext(ctx, "reply rejected", append(fields, slog.String("error", err.Error()))...)

		settle = d.Nack(false, false)
	case errors.Is(err, reply.ErrQueueFull):
		c.log.WarnWithContext(ctx, "reply requeued, ingress queue full", fields...)

		settle = d.Nack(false, true)
	default:
		c.log.ErrorWithContext(ctx, "reply not delivered", append(fields, slog.String("error", err.Error()))...)

		settle = d.Nack(false, true)
	}

	if settle != nil {
		c.log.ErrorWithContext(ctx, "cannot settle delivery",
			slog.Uint64("delivery_tag", d.DeliveryTag),
			slog.String("error", settle.Error()),
		)
	}
}
