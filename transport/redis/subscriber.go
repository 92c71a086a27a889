// Package redis is the queue-consumer reply transport over Redis pub/sub.
// Replies are published on <prefix>.<reply kind>; the subscriber pattern
// subscribes to <prefix>.* and reads the kind from the channel name.
//
// Pub/sub has no acknowledgements, so a reply refused by the core is logged
// and lost. Use a bounded ingress queue only with a transport that redelivers.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/rueidisotel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/transport"
)

var ErrAlreadyStarted = errors.New("redis: subscriber already started")

// Channel is where replies of kind are published under prefix.
func Channel(prefix string, kind command.Kind) string {
	return prefix + "." + string(kind)
}

// Subscriber feeds replies from Redis pub/sub into a Sink.
type Subscriber struct {
	log    logger.Logger
	codec  codec.Codec
	config Config

	tracer trace.TracerProvider
	meter  metric.MeterProvider

	client    rueidis.Client
	ownClient bool
	dedicated rueidis.DedicatedClient
	release   func()
	stop      chan struct{}
	done      chan struct{}
}

type Option func(*Subscriber)

// WithClient reuses an existing client. Close leaves it open.
func WithClient(client rueidis.Client) Option {
	return func(s *Subscriber) {
		s.client = client
	}
}

// WithCodec overrides CORRELATION_CODEC.
func WithCodec(c codec.Codec) Option {
	return func(s *Subscriber) {
		s.codec = c
	}
}

// WithTelemetry instruments the client Start opens.
func WithTelemetry(tracer trace.TracerProvider, meter metric.MeterProvider) Option {
	return func(s *Subscriber) {
		s.tracer = tracer
		s.meter = meter
	}
}

// New builds a subscriber from CORRELATION_REDIS_* keys.
func New(log logger.Logger, cfg *config.Config, opts ...Option) (*Subscriber, error) {
	s := &Subscriber{
		log:    log,
		config: loadConfig(cfg),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.codec == nil {
		c, err := codec.FromConfig(cfg)
		if err != nil {
			return nil, err
		}

		s.codec = c
	}

	return s, nil
}

func (s *Subscriber) Name() string {
	return "redis"
}

func (s *Subscriber) pattern() string {
	return s.config.ChannelPrefix + ".*"
}

// Start pattern-subscribes on a dedicated connection. On failure it closes
// the client it opened, so Start can be retried.
func (s *Subscriber) Start(ctx context.Context, sink transport.Sink) error {
	if s.done != nil {
		return ErrAlreadyStarted
	}

	if s.client == nil {
		client, err := s.open()
		if err != nil {
			return err
		}

		s.client = client
		s.ownClient = true
	}

	runCtx := context.WithoutCancel(ctx)
	dedicated, release := s.client.Dedicate()

	wait := dedicated.SetPubSubHooks(rueidis.PubSubHooks{
		OnMessage: func(m rueidis.PubSubMessage) {
			s.handle(runCtx, sink, m)
		},
	})

	err := dedicated.Do(ctx, dedicated.B().Psubscribe().Pattern(s.pattern()).Build()).Error()
	if err != nil {
		release()
		s.dropClient()

		return fmt.Errorf("redis: psubscribe %s: %w", s.pattern(), err)
	}

	s.dedicated = dedicated
	s.release = release
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		select {
		case err := <-wait:
			if err != nil {
				s.log.Error("redis subscription lost", slog.String("error", err.Error()))
			}
		case <-s.stop:
		}
	}()

	s.log.InfoWithContext(ctx, "Consuming replies", slog.String("pattern", s.pattern()))

	return nil
}

func (s *Subscriber) open() (rueidis.Client, error) {
	var opts []rueidisotel.Option
	if s.tracer != nil {
		opts = append(opts, rueidisotel.WithTracerProvider(s.tracer))
	}

	if s.meter != nil {
		opts = append(opts, rueidisotel.WithMeterProvider(s.meter))
	}

	client, err := rueidisotel.NewClient(rueidis.ClientOption{
		InitAddress:  s.config.Address,
		Username:     s.config.Username,
		Password:     s.config.Password,
		DisableCache: true, // pub/sub only
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("redis: connect %v: %w", s.config.Address, err)
	}

	return client, nil
}

// Close drops the hooks, returns the dedicated connection and closes a
// client Start opened.
func (s *Subscriber) Close() error {
	if s.done == nil {
		return nil
	}

	s.dedicated.SetPubSubHooks(rueidis.PubSubHooks{})
	close(s.stop)
	<-s.done

	s.release()
	s.dropClient()

	return nil
}

// dropClient closes a client Start opened and forgets it.
func (s *Subscriber) dropClient() {
	if s.ownClient {
		s.client.Close()
		s.client = nil
		s.ownClient = false
	}
}

func (s *Subscriber) handle(ctx context.Context, sink transport.Sink, m rueidis.PubSubMessage) {
	kind := command.Kind(strings.TrimPrefix(m.Channel, s.config.ChannelPrefix+"."))

	err := transport.Deliver(ctx, sink, s.codec, kind, []byte(m.Message))
	if err == nil {
		return
	}

	fields := []slog.Attr{
		slog.String("kind", string(kind)),
		slog.String("channel", m.Channel),
	}

	if errors.Is(err, transport.ErrUnrecognizedReplyKind) {
		s.log.WarnWithContext(ctx, "unrecognized reply kind ignored", fields...)

		return
	}

	s.log.ErrorWithContext(ctx, "reply lost", append(fields, slog.String("error", err.Error()))...)
}
