package pending

import (
	"context"
	"sync/atomic"

	"github.com/shortlink-org/correlation/command"
)

// Handle is a single-assignment cell carrying the Result to the caller.
type Handle struct {
	resolved atomic.Bool
	done     chan struct{}
	result   command.Result
}

func NewHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// TryResolve stores result if no result was stored before and reports
// whether this call won.
func (h *Handle) TryResolve(result command.Result) bool {
	if !h.resolved.CompareAndSwap(false, true) {
		return false
	}

	h.result = result
	close(h.done)

	return true
}

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the stored result without blocking.
func (h *Handle) Result() (command.Result, bool) {
	select {
	case <-h.done:
		return h.result, true
	default:
		return command.Result{}, false
	}
}

// Wait blocks until the handle resolves or ctx ends. Giving up on the wait
// does not remove the registration.
func (h *Handle) Wait(ctx context.Context) (command.Result, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return command.Result{}, ctx.Err()
	}
}
