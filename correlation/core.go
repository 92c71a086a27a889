package correlation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/pending"
	"github.com/shortlink-org/correlation/reply"
)

// queued carries a reply and the span it arrived under.
type queued[T any] struct {
	msg  T
	span trace.SpanContext
}

type state int

const (
	stateNew state = iota
	stateRunning
	stateStopped
)

// Core owns the pending registries and the reply workers.
type Core struct {
	log        logger.Logger
	settings   Settings
	transports []Transport
	metrics    *metrics

	commands  *pending.Registry
	processes *pending.Registry

	executed *reply.Queue[queued[command.Executed]]
	handled  *reply.Queue[queued[command.DomainEventHandled]]
	streams  *reply.Queue[queued[command.EventStream]]

	mu      sync.Mutex
	state   state
	stopped atomic.Bool
	group   *errgroup.Group
	cancel  context.CancelFunc
	started []Transport
}

func New(log logger.Logger, opts ...Option) (*Core, error) {
	if log == nil {
		return nil, ErrNilLogger
	}

	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	settings, err := resolveSettings(o)
	if err != nil {
		return nil, err
	}

	if o.meterProvider == nil {
		o.meterProvider = noop.NewMeterProvider()
	}

	c := &Core{
		log:        log,
		settings:   settings,
		transports: o.transports,
		commands:   pending.NewRegistry(pending.ScopeCommand),
		processes:  pending.NewRegistry(pending.ScopeProcess),
		executed:   reply.NewQueue[queued[command.Executed]](settings.QueueCapacity),
		handled:    reply.NewQueue[queued[command.DomainEventHandled]](settings.QueueCapacity),
		streams:    reply.NewQueue[queued[command.EventStream]](settings.QueueCapacity),
	}

	c.metrics, err = newMetrics(o.meterProvider, c.commands, c.processes)
	if err != nil {
		return nil, fmt.Errorf("correlation metrics: %w", err)
	}

	return c, nil
}

func resolveSettings(o options) (Settings, error) {
	if o.settings != nil {
		return o.settings.normalize(), nil
	}

	cfg := o.cfg
	if cfg == nil {
		var err error

		cfg, err = config.New()
		if err != nil {
			return Settings{}, fmt.Errorf("correlation config: %w", err)
		}
	}

	return LoadSettings(cfg), nil
}

// RegisterPendingCommand must be called before the command is sent. Once
// Shutdown has begun it returns ErrStopped.
func (c *Core) RegisterPendingCommand(commandID string, mode command.Mode) (*pending.Handle, error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}

	handle := pending.NewHandle()
	if err := c.commands.Register(commandID, mode, handle); err != nil {
		return nil, err
	}

	return handle, nil
}

// RegisterPendingProcess waits for the completion of a long-running process.
func (c *Core) RegisterPendingProcess(processID string) (*pending.Handle, error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}

	handle := pending.NewHandle()
	if err := c.processes.Register(processID, command.EventHandled, handle); err != nil {
		return nil, err
	}

	return handle, nil
}

// NotifySendFailed resolves a pending command with a Failed result without
// going through the queues. Unknown ids are ignored.
func (c *Core) NotifySendFailed(commandID, reason string) bool {
	return c.fail(c.commands, commandID, reason)
}

func (c *Core) NotifyProcessSendFailed(processID, reason string) bool {
	return c.fail(c.processes, processID, reason)
}

func (c *Core) fail(registry *pending.Registry, key, reason string) bool {
	if !registry.Fail(key, reason) {
		return false
	}

	c.metrics.resolved(context.Background(), registry.Scope(), command.StatusFailed)
	c.log.Debug("pending entry failed on send",
		slog.String("scope", string(registry.Scope())),
		slog.String("key", key),
		slog.String("reason", reason),
	)

	return true
}

// Pending returns the number of waiting command and process entries.
func (c *Core) Pending() (commands, processes int) {
	return c.commands.Len(), c.processes.Len()
}

// OnCommandExecuted enqueues a command-executed reply.
func (c *Core) OnCommandExecuted(ctx context.Context, msg command.Executed) error {
	return enqueue(ctx, c, c.executed, command.KindCommandExecuted, msg)
}

// OnDomainEventHandled enqueues a domain-event-handled reply.
func (c *Core) OnDomainEventHandled(ctx context.Context, msg command.DomainEventHandled) error {
	return enqueue(ctx, c, c.handled, command.KindDomainEventHandled, msg)
}

// OnEventStream enqueues an event-stream reply.
func (c *Core) OnEventStream(ctx context.Context, msg command.EventStream) error {
	return enqueue(ctx, c, c.streams, command.KindEventStream, msg)
}

func enqueue[T any](ctx context.Context, c *Core, q *reply.Queue[queued[T]], kind command.Kind, msg T) error {
	err := q.Push(queued[T]{msg: msg, span: trace.SpanContextFromContext(ctx)})
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}

	c.metrics.replyReceived(ctx, kind)

	return nil
}

func (c *Core) handleExecuted(ctx context.Context, msg command.Executed) error {
	matched, resolved := c.commands.ResolveWith(msg.CommandID, func(mode command.Mode) (command.Result, bool) {
		decision := reply.ClassifyExecuted(msg, mode)
		return decision.Result, decision.Resolve
	})

	switch {
	case !matched:
		c.unmatched(ctx, command.KindCommandExecuted, msg.CommandID)
	case resolved:
		c.metrics.resolved(ctx, pending.ScopeCommand, msg.Status)
	default:
		c.log.DebugWithContext(ctx, "command executed, waiting for domain events",
			slog.String("command_id", msg.CommandID),
			slog.String("status", msg.Status.String()),
		)
	}

	return nil
}

func (c *Core) handleEventHandled(ctx context.Context, msg command.DomainEventHandled) error {
	decision := reply.ClassifyEventHandled(msg)

	if !c.commands.Resolve(msg.CommandID, decision.Result) {
		c.unmatched(ctx, command.KindDomainEventHandled, msg.CommandID)
		return nil
	}

	c.metrics.resolved(ctx, pending.ScopeCommand, decision.Result.Status)

	return nil
}

func (c *Core) handleEventStream(ctx context.Context, msg command.EventStream) error {
	target, decision := reply.ClassifyEventStream(msg)

	registry := c.commands
	if target == reply.TargetProcess {
		registry = c.processes
	}

	key := reply.StreamKey(msg)
	if !decision.Resolve || !registry.Resolve(key, decision.Result) {
		c.unmatched(ctx, command.KindEventStream, key)
		return nil
	}

	c.metrics.resolved(ctx, registry.Scope(), decision.Result.Status)

	return nil
}

func (c *Core) unmatched(ctx context.Context, kind command.Kind, key string) {
	c.metrics.replyUnmatched(ctx, kind)
	c.log.DebugWithContext(ctx, "reply has no pending entry",
		slog.String("kind", string(kind)),
		slog.String("key", key),
	)
}

// Start runs the reply workers, then the transports. The workers live until
// Shutdown; ctx only bounds the start of the transports. When a transport
// fails to start the core stays running and Shutdown releases what started.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateNew {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(runCtx)

	runWorker(groupCtx, group, c, c.executed, command.KindCommandExecuted, c.handleExecuted)
	runWorker(groupCtx, group, c, c.handled, command.KindDomainEventHandled, c.handleEventHandled)
	runWorker(groupCtx, group, c, c.streams, command.KindEventStream, c.handleEventStream)

	c.group = group
	c.cancel = cancel
	c.state = stateRunning

	for _, t := range c.transports {
		if err := t.Start(ctx, c); err != nil {
			c.log.ErrorWithContext(ctx, "reply transport failed to start",
				slog.String("transport", t.Name()),
				slog.String("error", err.Error()),
			)

			return fmt.Errorf("start transport %s: %w", t.Name(), err)
		}

		c.started = append(c.started, t)
		c.log.InfoWithContext(ctx, "reply transport started", slog.String("transport", t.Name()))
	}

	return nil
}

func runWorker[T any](
	ctx context.Context,
	group *errgroup.Group,
	c *Core,
	q *reply.Queue[queued[T]],
	kind command.Kind,
	handle func(context.Context, T) error,
) {
	worker := reply.NewWorker(string(kind), q, func(ctx context.Context, item queued[T]) error {
		if item.span.IsValid() {
			ctx = trace.ContextWithRemoteSpanContext(ctx, item.span)
		}

		return handle(ctx, item.msg)
	}, c.log)

	worker.OnFailure = func(queued[T], error) {
		c.metrics.workerFailed(kind)
	}

	group.Go(func() error {
		return worker.Run(ctx)
	})
}

// Shutdown closes the transports, stops accepting replies and waits for the
// workers. Queued replies are processed or, with DrainOnShutdown disabled,
// dropped with a warning. Replies still queued when ctx ends are dropped too.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateRunning {
		return ErrNotStarted
	}

	c.state = stateStopped
	c.stopped.Store(true)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.settings.ShutdownTimeout)
		defer cancel()
	}

	var errs *multierror.Error

	// Transports first, so nothing is pushed into a closed queue mid-delivery.
	for i := len(c.started) - 1; i >= 0; i-- {
		t := c.started[i]
		if err := t.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("close transport %s: %w", t.Name(), err))
		}
	}

	c.executed.Close()
	c.handled.Close()
	c.streams.Close()

	if !c.settings.DrainOnShutdown {
		c.discard(ctx)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.group.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	case <-ctx.Done():
		c.cancel()
		<-done
		c.discard(ctx)

		errs = multierror.Append(errs, fmt.Errorf("drain reply queues: %w", ctx.Err()))
	}

	c.cancel()

	if err := c.metrics.close(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := errs.ErrorOrNil(); err != nil {
		c.log.WarnWithContext(ctx, "correlation core stopped with errors", slog.String("error", err.Error()))
		return err
	}

	c.log.InfoWithContext(ctx, "correlation core stopped")

	return nil
}

func (c *Core) discard(ctx context.Context) {
	for _, item := range c.executed.Discard() {
		c.logDiscarded(ctx, command.KindCommandExecuted, item.msg.CommandID)
	}

	for _, item := range c.handled.Discard() {
		c.logDiscarded(ctx, command.KindDomainEventHandled, item.msg.CommandID)
	}

	for _, item := range c.streams.Discard() {
		c.logDiscarded(ctx, command.KindEventStream, reply.StreamKey(item.msg))
	}
}

func (c *Core) logDiscarded(ctx context.Context, kind command.Kind, key string) {
	c.log.WarnWithContext(ctx, "reply discarded on shutdown",
		slog.String("kind", string(kind)),
		slog.String("key", key),
	)
}
