// Package transporttest provides a recording transport.Sink for adapter tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/transport"
)

var _ transport.Sink = (*Sink)(nil)

// Sink records every reply it receives and answers with Err.
type Sink struct {
	mu  sync.Mutex
	err error

	Executed []command.Executed
	Handled  []command.DomainEventHandled
	Streams  []command.EventStream
}

// Fail makes every later hook return err.
func (s *Sink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.err = err
}

func (s *Sink) OnCommandExecuted(_ context.Context, msg command.Executed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	s.Executed = append(s.Executed, msg)

	return nil
}

func (s *Sink) OnDomainEventHandled(_ context.Context, msg command.DomainEventHandled) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	s.Handled = append(s.Handled, msg)

	return nil
}

func (s *Sink) OnEventStream(_ context.Context, msg command.EventStream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	s.Streams = append(s.Streams, msg)

	return nil
}

// Count returns the number of recorded replies of every kind.
func (s *Sink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.Executed) + len(s.Handled) + len(s.Streams)
}
