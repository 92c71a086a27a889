// Package remoting is the RPC-style reply transport: command handlers call
// ReplyService/Deliver with an encoded reply and the server hands it to the
// correlation core.
package remoting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-middleware/providers/prometheus"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/reply"
	"github.com/shortlink-org/correlation/transport"
)

const transportName = "remoting"

// Server is the gRPC reply endpoint.
type Server struct {
	interceptorUnaryServerList []grpc.UnaryServerInterceptor
	optionsNewServer           []grpc.ServerOption

	host     string
	port     int
	listener net.Listener

	log           logger.Logger
	codec         codec.Codec
	serverMetrics *grpc_prometheus.ServerMetrics
	onPanic       func()

	grpcServer *grpc.Server
	sink       transport.Sink
	serving    sync.WaitGroup
}

// Option configures Server.
type Option func(*Server)

// WithListener serves on lis instead of listening on host:port.
func WithListener(lis net.Listener) Option {
	return func(s *Server) {
		s.listener = lis
	}
}

// WithCodec overrides CORRELATION_CODEC.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) {
		s.codec = c
	}
}

// WithTracer - setup tracing.
func WithTracer(tracer trace.TracerProvider) Option {
	return func(s *Server) {
		if tracer == nil {
			return
		}

		s.optionsNewServer = append(s.optionsNewServer, grpc.StatsHandler(
			otelgrpc.NewServerHandler(otelgrpc.WithTracerProvider(tracer))),
		)
	}
}

// WithMetrics - setup server metrics and the panics counter on prom.
func WithMetrics(prom *prometheus.Registry) Option {
	return func(s *Server) {
		if prom == nil {
			return
		}

		s.serverMetrics = grpc_prometheus.NewServerMetrics(
			grpc_prometheus.WithServerHandlingTimeHistogram(
				grpc_prometheus.WithHistogramBuckets([]float64{0.001, 0.01, 0.1, 0.3, 0.6, 1, 3, 6, 9, 20, 30, 60, 90, 120}),
			),
		)
		prom.MustRegister(s.serverMetrics)

		s.interceptorUnaryServerList = append(
			s.interceptorUnaryServerList,
			s.serverMetrics.UnaryServerInterceptor(grpc_prometheus.WithExemplarFromContext(exemplarFromContext)),
		)

		panicsTotal := promauto.With(prom).NewCounter(prometheus.CounterOpts{
			Name: "correlation_remoting_panics_recovered_total",
			Help: "Total number of reply deliveries recovered from internal panic.",
		})
		s.onPanic = panicsTotal.Inc
	}
}

// New builds the server from REMOTING_GRPC_* keys.
func New(log logger.Logger, cfg *config.Config, opts ...Option) (*Server, error) {
	cfg.SetDefault("REMOTING_GRPC_HOST", "0.0.0.0")
	cfg.SetDefault("REMOTING_GRPC_PORT", 50061)
	cfg.SetDefault("REMOTING_GRPC_LOGGER_ENABLED", true)

	s := &Server{
		host: cfg.GetString("REMOTING_GRPC_HOST"),
		port: cfg.GetInt("REMOTING_GRPC_PORT"),
		log:  log,
	}

	if cfg.GetBool("REMOTING_GRPC_LOGGER_ENABLED") {
		s.interceptorUnaryServerList = append(s.interceptorUnaryServerList, unaryServerLogger(log))
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

	// Recovery is last in the chain so logging and metrics see the recovered error.
	s.interceptorUnaryServerList = append(
		s.interceptorUnaryServerList,
		grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandler(s.recoverPanic)),
	)

	s.optionsNewServer = append(s.optionsNewServer, grpc.ChainUnaryInterceptor(s.interceptorUnaryServerList...))

	return s, nil
}

func (s *Server) Name() string {
	return transportName
}

// Endpoint is the address the server listens on.
func (s *Server) Endpoint() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// Start listens and serves in the background.
func (s *Server) Start(ctx context.Context, sink transport.Sink) error {
	if s.grpcServer != nil {
		return errors.New("remoting: server already started")
	}

	if s.listener == nil {
		var lc net.ListenConfig

		lis, err := lc.Listen(ctx, "tcp", s.Endpoint())
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}

		s.listener = lis
	}

	s.sink = sink
	s.grpcServer = grpc.NewServer(s.optionsNewServer...)
	s.grpcServer.RegisterService(&ReplyServiceDesc, &replyService{server: s})

	if s.serverMetrics != nil {
		s.serverMetrics.InitializeMetrics(s.grpcServer)
	}

	s.log.InfoWithContext(ctx, "Run remoting gRPC server", slog.String("endpoint", s.Endpoint()))

	s.serving.Add(1)

	go func() {
		defer s.serving.Done()

		if err := s.grpcServer.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.log.Error("remoting gRPC server stopped", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Close waits for in-flight deliveries and stops the server.
func (s *Server) Close() error {
	if s.grpcServer == nil {
		return nil
	}

	s.log.Info("Shutdown remoting gRPC server")
	s.grpcServer.GracefulStop()
	s.serving.Wait()

	return nil
}

func (s *Server) deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	tags := md.Get(ReplyTypeHeader)
	if len(tags) == 0 {
		return nil, status.Errorf(codes.InvalidArgument, "missing %s metadata", ReplyTypeHeader)
	}

	err := transport.Deliver(ctx, s.sink, s.codec, command.Kind(tags[0]), in.GetValue())

	switch {
	case err == nil:
		return &emptypb.Empty{}, nil
	case errors.Is(err, transport.ErrUnrecognizedReplyKind):
		s.log.WarnWithContext(ctx, "unrecognized reply kind acknowledged", slog.String("kind", tags[0]))
		return &emptypb.Empty{}, nil
	case errors.Is(err, transport.ErrDecode):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, reply.ErrQueueFull):
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, reply.ErrQueueClosed):
		return nil, status.Error(codes.Unavailable, err.Error())
	default:
		return nil, status.Error(codes.Internal, err.Error())
	}
}

func (s *Server) recoverPanic(panicValue any) error {
	if s.onPanic != nil {
		s.onPanic()
	}

	s.log.Error("recovered from panic",
		slog.String("panic", fmt.Sprintf("%v", panicValue)),
		slog.String("stack", string(debug.Stack())),
	)

	return status.Errorf(codes.Internal, "%s", panicValue)
}

type replyService struct {
	server *Server
}

func (r *replyService) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	return r.server.deliver(ctx, in)
}

func exemplarFromContext(ctx context.Context) prometheus.Labels {
	span := trace.SpanContextFromContext(ctx)
	if span.IsSampled() && span.HasTraceID() {
		return prometheus.Labels{"trace_id": span.TraceID().String()}
	}

	return nil
}
