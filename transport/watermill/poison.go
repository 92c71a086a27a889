package watermill

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/transport"
)

const poisonFallbackTopic = "correlation.replies.DLQ"

// newPoisonMiddleware dead-letters replies the codec rejected. Every other
// error is returned to the router so the message is nacked and redelivered.
func newPoisonMiddleware(log logger.Logger, publisher message.Publisher, dlqTopic, serviceName string) (message.HandlerMiddleware, error) {
	wrapped := &poisonPublisher{
		log:         log,
		topic:       dlqTopic,
		publisher:   publisher,
		serviceName: serviceName,
	}

	topic := dlqTopic
	if topic == "" {
		topic = poisonFallbackTopic
	}

	mw, err := middleware.PoisonQueueWithFilter(wrapped, topic, func(err error) bool {
		return errors.Is(err, transport.ErrDecode)
	})
	if err != nil {
		return nil, fmt.Errorf("poison middleware: %w", err)
	}

	return mw, nil
}

// poisonPublisher rewrites the poisoned copy into a DLQEvent.
type poisonPublisher struct {
	log         logger.Logger
	topic       string
	publisher   message.Publisher
	serviceName string
}

func (p *poisonPublisher) Publish(_ string, msgs ...*message.Message) error {
	for _, poisoned := range msgs {
		topic, err := p.resolveTopic(poisoned)
		if err != nil {
			return err
		}

		original := poisoned.Copy()
		for _, key := range []string{
			middleware.ReasonForPoisonedKey,
			middleware.PoisonedTopicKey,
			middleware.PoisonedHandlerKey,
			middleware.PoisonedSubscriberKey,
		} {
			delete(original.Metadata, key)
		}

		event := DLQEvent{
			FailedAt:    time.Now().UTC(),
			Reason:      poisoned.Metadata.Get(middleware.ReasonForPoisonedKey),
			OriginalMsg: original,
			ServiceName: p.serviceName,
		}

		if err := PublishDLQ(poisoned.Context(), p.log, p.publisher, topic, event); err != nil {
			return err
		}
	}

	return nil
}

func (p *poisonPublisher) Close() error {
	return nil
}

func (p *poisonPublisher) resolveTopic(msg *message.Message) (string, error) {
	if p.topic != "" {
		return p.topic, nil
	}

	topic := msg.Metadata.Get(middleware.PoisonedTopicKey)
	if topic == "" {
		topic = message.SubscribeTopicFromCtx(msg.Context())
	}

	if topic == "" {
		return "", fmt.Errorf("missing topic metadata for DLQ publication")
	}

	return topic + ".DLQ", nil
}
