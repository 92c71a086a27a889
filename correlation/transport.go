package correlation

import (
	"context"

	"github.com/shortlink-org/correlation/transport"
)

// Sink is the inbound side of the core used by transports.
type Sink = transport.Sink

// Transport delivers replies into a Sink until it is closed.
//
// Start must return once the transport is receiving; delivery happens on
// goroutines the transport owns.
type Transport interface {
	Name() string
	Start(ctx context.Context, sink Sink) error
	Close() error
}

var _ Sink = (*Core)(nil)
