package reply

import "errors"

var (
	// ErrQueueFull is returned by a bounded queue at capacity.
	ErrQueueFull = errors.New("reply: ingress queue is full")
	// ErrQueueClosed is returned once the queue stopped accepting replies.
	ErrQueueClosed = errors.New("reply: ingress queue is closed")
)
