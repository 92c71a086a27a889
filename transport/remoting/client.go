package remoting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/timeout"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/transport"
)

// Client sends replies to a remoting Server. It is used by the command
// processing side.
type Client struct {
	conn  grpc.ClientConnInterface
	codec codec.Codec
}

func NewClient(conn grpc.ClientConnInterface, c codec.Codec) *Client {
	return &Client{conn: conn, codec: c}
}

// DialOption configures Dial.
type DialOption func(*dialer)

type dialer struct {
	interceptors []grpc.UnaryClientInterceptor
	options      []grpc.DialOption
}

// WithClientTracer wires up the otel client handler.
func WithClientTracer(tracer trace.TracerProvider) DialOption {
	return func(d *dialer) {
		if tracer == nil {
			return
		}

		d.options = append(d.options, grpc.WithStatsHandler(
			otelgrpc.NewClientHandler(otelgrpc.WithTracerProvider(tracer)),
		))
	}
}

// WithDialOptions appends raw grpc dial options.
func WithDialOptions(opts ...grpc.DialOption) DialOption {
	return func(d *dialer) {
		d.options = append(d.options, opts...)
	}
}

// Dial connects to REMOTING_GRPC_CLIENT_HOST:REMOTING_GRPC_CLIENT_PORT.
func Dial(log logger.Logger, cfg *config.Config, opts ...DialOption) (*Client, func(), error) {
	cfg.SetDefault("REMOTING_GRPC_CLIENT_HOST", "127.0.0.1")
	cfg.SetDefault("REMOTING_GRPC_CLIENT_PORT", 50061)
	cfg.SetDefault("REMOTING_GRPC_CLIENT_TIMEOUT", "5s")
	cfg.SetDefault("REMOTING_GRPC_LOGGER_ENABLED", true)

	d := &dialer{
		options: []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		},
	}

	d.interceptors = append(d.interceptors, timeout.UnaryClientInterceptor(cfg.GetDuration("REMOTING_GRPC_CLIENT_TIMEOUT")))

	if cfg.GetBool("REMOTING_GRPC_LOGGER_ENABLED") {
		d.interceptors = append(d.interceptors, unaryClientLogger(log))
	}

	for _, opt := range opts {
		opt(d)
	}

	c, err := codec.FromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	uri := fmt.Sprintf("%s:%d", cfg.GetString("REMOTING_GRPC_CLIENT_HOST"), cfg.GetInt("REMOTING_GRPC_CLIENT_PORT"))

	conn, err := grpc.NewClient(uri, append(d.options, grpc.WithChainUnaryInterceptor(d.interceptors...))...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to remoting server: %w", err)
	}

	log.Info("Run remoting gRPC client", slog.String("uri", uri))

	cleanup := func() {
		_ = conn.Close()
	}

	return NewClient(conn, c), cleanup, nil
}

func (c *Client) DeliverExecuted(ctx context.Context, msg command.Executed) error {
	return c.deliver(ctx, msg)
}

func (c *Client) DeliverEventHandled(ctx context.Context, msg command.DomainEventHandled) error {
	return c.deliver(ctx, msg)
}

func (c *Client) DeliverEventStream(ctx context.Context, msg command.EventStream) error {
	return c.deliver(ctx, msg)
}

// DeliverRaw sends an already encoded payload under kind.
func (c *Client) DeliverRaw(ctx context.Context, kind command.Kind, payload []byte) error {
	ctx = metadata.AppendToOutgoingContext(ctx, ReplyTypeHeader, string(kind))

	return c.conn.Invoke(ctx, DeliverMethod, wrapperspb.Bytes(payload), &emptypb.Empty{})
}

func (c *Client) deliver(ctx context.Context, msg any) error {
	kind, payload, err := transport.Encode(c.codec, msg)
	if err != nil {
		return err
	}

	return c.DeliverRaw(ctx, kind, payload)
}
