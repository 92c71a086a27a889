// Package kafka carries correlation replies over Kafka topics.
package kafka

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/hashicorp/go-multierror"

	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/transport/watermill"
)

// Backend aggregates the Kafka publisher and subscriber.
type Backend struct {
	publisher  *kafka.Publisher
	subscriber *kafka.Subscriber
}

// New wires the publisher and subscriber from CORRELATION_KAFKA_* keys.
func New(log logger.Logger, cfg *config.Config) (*Backend, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	if log == nil {
		return nil, errors.New("logger is nil")
	}

	s, err := loadSettings(cfg)
	if err != nil {
		return nil, err
	}

	wmLogger := watermill.NewLogger(log)

	publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
		Brokers:               s.brokers,
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: s.publisherSarama(kafka.DefaultSaramaSyncPublisherConfig()),
	}, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("create kafka publisher: %w", err)
	}

	subscriber, err := kafka.NewSubscriber(kafka.SubscriberConfig{
		Brokers:               s.brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		ConsumerGroup:         s.consumerGroup,
		OverwriteSaramaConfig: s.subscriberSarama(kafka.DefaultSaramaSubscriberConfig()),
		NackResendSleep:       s.nackSleep,
		ReconnectRetrySleep:   s.reconnectSleep,
	}, wmLogger)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("create kafka subscriber: %w", err)
	}

	return &Backend{
		publisher:  publisher,
		subscriber: subscriber,
	}, nil
}

func (b *Backend) Publisher() message.Publisher {
	return b.publisher
}

func (b *Backend) Subscriber() message.Subscriber {
	return b.subscriber
}

// Close stops publisher and subscriber, joining all errors.
func (b *Backend) Close() error {
	var errs *multierror.Error

	if err := b.publisher.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("close publisher: %w", err))
	}

	if err := b.subscriber.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("close subscriber: %w", err))
	}

	return errs.ErrorOrNil()
}

var _ watermill.Backend = (*Backend)(nil)
