package watermill

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/transport"
)

const (
	// MetaReplyType carries the reply kind tag.
	MetaReplyType = "reply_type"
	// MetaContentType names the codec of the payload.
	MetaContentType = "content_type"
)

// Consumer subscribes to the reply topics of a Client and feeds a Sink.
type Consumer struct {
	log    logger.Logger
	client *Client
	codec  codec.Codec

	done chan struct{}
}

func NewConsumer(log logger.Logger, client *Client, c codec.Codec) *Consumer {
	return &Consumer{
		log:    log,
		client: client,
		codec:  c,
	}
}

func (c *Consumer) Name() string {
	return "watermill"
}

// Start adds one handler per topic and returns once the router is running.
func (c *Consumer) Start(ctx context.Context, sink transport.Sink) error {
	if c.done != nil {
		return errors.New("watermill: consumer already started")
	}

	for _, topic := range c.client.Topics() {
		c.client.Router.AddNoPublisherHandler("correlation_replies_"+topic, topic, c.client.Subscriber, c.handler(sink))
	}

	c.done = make(chan struct{})
	runCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(c.done)

		if err := c.client.Router.Run(runCtx); err != nil {
			c.log.Error("watermill router stopped", slog.String("error", err.Error()))
		}
	}()

	select {
	case <-c.client.Router.Running():
		c.log.InfoWithContext(ctx, "Consuming replies", slog.Any("topics", c.client.Topics()))
		return nil
	case <-c.done:
		return errors.New("watermill: router stopped before running")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the router. The backend stays open until Client.Close.
func (c *Consumer) Close() error {
	if c.done == nil {
		return nil
	}

	err := c.client.Router.Close()
	<-c.done

	return err
}

func (c *Consumer) handler(sink transport.Sink) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		ctx := msg.Context()
		kind := command.Kind(msg.Metadata.Get(MetaReplyType))

		err := transport.Deliver(ctx, sink, c.codec, kind, msg.Payload)
		if errors.Is(err, transport.ErrUnrecognizedReplyKind) {
			c.log.WarnWithContext(ctx, "unrecognized reply kind acknowledged",
				slog.String("kind", string(kind)),
				slog.String("message_id", msg.UUID),
			)

			return nil
		}

		return err
	}
}
