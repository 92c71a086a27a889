// Package nats is the queue-consumer reply transport over core NATS
// subscriptions. The reply kind travels in the Reply-Type header.
//
// NATS core has no acknowledgements. When a reply is sent as a request, the
// subscriber answers with a Correlation-Status header so the producer can
// retry a reply refused by back-pressure.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/reply"
	"github.com/shortlink-org/correlation/transport"
)

const (
	HeaderReplyType   = "Reply-Type"
	HeaderContentType = "Content-Type"
	HeaderStatus      = "Correlation-Status"
)

// Values of HeaderStatus.
const (
	StatusAccepted    = "accepted"
	StatusIgnored     = "ignored"
	StatusRejected    = "rejected"
	StatusRetry       = "retry"
	StatusUnavailable = "unavailable"
)

const flushTimeout = 5 * time.Second

var ErrAlreadyStarted = errors.New("nats: subscriber already started")

// Subscriber feeds replies published on a NATS subject into a Sink.
type Subscriber struct {
	log    logger.Logger
	codec  codec.Codec
	config Config

	natsOptions []nats.Option
	conn        *nats.Conn
	ownConn     bool
	sub         *nats.Subscription
}

type Option func(*Subscriber)

// WithConn reuses an existing connection. Close leaves it open.
func WithConn(conn *nats.Conn) Option {
	return func(s *Subscriber) {
		s.conn = conn
	}
}

// WithCodec overrides CORRELATION_CODEC.
func WithCodec(c codec.Codec) Option {
	return func(s *Subscriber) {
		s.codec = c
	}
}

// WithNATSOptions are appended to the options used to connect.
func WithNATSOptions(opts ...nats.Option) Option {
	return func(s *Subscriber) {
		s.natsOptions = append(s.natsOptions, opts...)
	}
}

// New builds a subscriber from CORRELATION_NATS_* keys.
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
	return "nats"
}

// Start subscribes and returns once the server has registered the interest.
// On failure it releases what it opened, so Start can be retried.
func (s *Subscriber) Start(ctx context.Context, sink transport.Sink) error {
	if s.sub != nil {
		return ErrAlreadyStarted
	}

	if s.conn == nil {
		conn, err := nats.Connect(s.config.URL, s.connectOptions()...)
		if err != nil {
			return fmt.Errorf("nats: connect %s: %w", s.config.URL, err)
		}

		s.conn = conn
		s.ownConn = true
	}

	if err := s.subscribe(context.WithoutCancel(ctx), sink); err != nil {
		s.reset()

		return err
	}

	s.log.InfoWithContext(ctx, "Consuming replies",
		slog.String("subject", s.config.Subject),
		slog.String("queue_group", s.config.QueueGroup),
	)

	return nil
}

func (s *Subscriber) subscribe(ctx context.Context, sink transport.Sink) error {
	handler := s.handler(ctx, sink)

	var (
		sub *nats.Subscription
		err error
	)

	if s.config.QueueGroup != "" {
		sub, err = s.conn.QueueSubscribe(s.config.Subject, s.config.QueueGroup, handler)
	} else {
		sub, err = s.conn.Subscribe(s.config.Subject, handler)
	}

	if err != nil {
		return fmt.Errorf("nats: subscribe %s: %w", s.config.Subject, err)
	}

	s.sub = sub

	if err := s.conn.FlushTimeout(flushTimeout); err != nil {
		return fmt.Errorf("nats: flush subscription: %w", err)
	}

	return nil
}

// reset drops a half-made subscription and the connection Start opened.
func (s *Subscriber) reset() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
		s.sub = nil
	}

	if s.ownConn {
		s.conn.Close()
		s.conn = nil
		s.ownConn = false
	}
}

func (s *Subscriber) connectOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name("correlation"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.log.Warn("NATS disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			s.log.Info("NATS reconnected", slog.String("url", conn.ConnectedUrl()))
		}),
	}

	return append(opts, s.natsOptions...)
}

// Close removes the subscription and closes a connection Start opened.
func (s *Subscriber) Close() error {
	var errs error

	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = multierror.Append(errs, err)
		}
	}

	if s.ownConn && s.conn != nil {
		s.conn.Close()
	}

	return errs
}

func (s *Subscriber) handler(ctx context.Context, sink transport.Sink) nats.MsgHandler {
	return func(msg *nats.Msg) {
		s.handle(ctx, sink, msg)
	}
}

func (s *Subscriber) handle(ctx context.Context, sink transport.Sink, msg *nats.Msg) string {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(msg.Header))
	kind := command.Kind(msg.Header.Get(HeaderReplyType))

	result := s.outcome(ctx, kind, msg.Subject, transport.Deliver(ctx, sink, s.codec, kind, msg.Data))

	if msg.Reply == "" {
		return result
	}

	answer := nats.NewMsg(msg.Reply)
	answer.Header.Set(HeaderStatus, result)

	if err := msg.RespondMsg(answer); err != nil {
		s.log.WarnWithContext(ctx, "cannot answer reply request",
			slog.String("subject", msg.Subject),
			slog.String("error", err.Error()),
		)
	}

	return result
}

func (s *Subscriber) outcome(ctx context.Context, kind command.Kind, subject string, err error) string {
	fields := []slog.Attr{
		slog.String("kind", string(kind)),
		slog.String("subject", subject),
	}

	switch {
	case err == nil:
		return StatusAccepted
	case errors.Is(err, transport.ErrUnrecognizedReplyKind):
		s.log.WarnWithContext(ctx, "unrecognized reply kind ignored", fields...)

		return StatusIgnored
	case errors.Is(err, transport.ErrDecode):
		s.log.ErrorWithContext(ctx, "reply rejected", append(fields, slog.String("error", err.Error()))...)

		return StatusRejected
	case errors.Is(err, reply.ErrQueueFull):
		s.log.WarnWithContext(ctx, "reply refused, ingress queue full", fields...)

		return StatusRetry
	default:
		s.log.ErrorWithContext(ctx, "reply not delivered", append(fields, slog.String("error", err.Error()))...)

		return StatusUnavailable
	}
}
