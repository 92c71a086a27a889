package reply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/shortlink-org/correlation/logger"
)

// Handler processes one dequeued reply.
type Handler[T any] func(ctx context.Context, item T) error

// Worker is the single consumer of a Queue.
type Worker[T any] struct {
	name    string
	queue   *Queue[T]
	handler Handler[T]
	log     logger.Logger

	// OnFailure, when set, observes every failed or panicking item.
	OnFailure func(item T, err error)
}

func NewWorker[T any](name string, q *Queue[T], handler Handler[T], log logger.Logger) *Worker[T] {
	return &Worker[T]{
		name:    name,
		queue:   q,
		handler: handler,
		log:     log,
	}
}

// Run drains the queue until it is closed and empty, or ctx ends.
func (w *Worker[T]) Run(ctx context.Context) error {
	w.log.Debug("reply worker started", slog.String("worker", w.name))

	for {
		item, err := w.queue.Pop(ctx)
		if errors.Is(err, ErrQueueClosed) {
			w.log.Debug("reply worker stopped", slog.String("worker", w.name))
			return nil
		}

		if err != nil {
			return fmt.Errorf("reply worker %s: %w", w.name, err)
		}

		w.process(ctx, item)
	}
}

// process isolates each item: a panic or an error is logged and the loop goes on.
func (w *Worker[T]) process(ctx context.Context, item T) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)

			w.log.ErrorWithContext(ctx, "reply handler panicked",
				slog.String("worker", w.name),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)

			w.fail(item, err)
		}
	}()

	if err := w.handler(ctx, item); err != nil {
		w.log.ErrorWithContext(ctx, "reply handler failed",
			slog.String("worker", w.name),
			slog.String("error", err.Error()),
		)

		w.fail(item, err)
	}
}

func (w *Worker[T]) fail(item T, err error) {
	if w.OnFailure != nil {
		w.OnFailure(item, err)
	}
}
