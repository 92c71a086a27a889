// Package transport turns a raw tagged payload into a typed reply and hands
// it to the correlation core. Every wire adapter goes through Deliver.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
)

var (
	// ErrUnrecognizedReplyKind is returned for a tag the core does not know.
	// Adapters log it and acknowledge the message.
	ErrUnrecognizedReplyKind = errors.New("transport: unrecognized reply kind")
	// ErrDecode wraps payloads the codec could not decode.
	ErrDecode = errors.New("transport: cannot decode reply")
)

// Sink receives decoded replies. correlation.Core implements it.
type Sink interface {
	OnCommandExecuted(ctx context.Context, msg command.Executed) error
	OnDomainEventHandled(ctx context.Context, msg command.DomainEventHandled) error
	OnEventStream(ctx context.Context, msg command.EventStream) error
}

// Deliver decodes payload according to kind and enqueues it on sink.
func Deliver(ctx context.Context, sink Sink, c codec.Codec, kind command.Kind, payload []byte) error {
	switch kind {
	case command.KindCommandExecuted:
		var msg command.Executed
		if err := decode(c, payload, &msg, kind); err != nil {
			return err
		}

		return sink.OnCommandExecuted(ctx, msg)
	case command.KindDomainEventHandled:
		var msg command.DomainEventHandled
		if err := decode(c, payload, &msg, kind); err != nil {
			return err
		}

		return sink.OnDomainEventHandled(ctx, msg)
	case command.KindEventStream:
		var msg command.EventStream
		if err := decode(c, payload, &msg, kind); err != nil {
			return err
		}

		return sink.OnEventStream(ctx, msg)
	default:
		return fmt.Errorf("%w: %q", ErrUnrecognizedReplyKind, kind)
	}
}

func decode(c codec.Codec, payload []byte, v any, kind command.Kind) error {
	if err := c.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w %s: %w", ErrDecode, kind, err)
	}

	return nil
}

// Encode marshals a reply and returns its tag.
func Encode(c codec.Codec, reply any) (command.Kind, []byte, error) {
	var kind command.Kind

	switch reply.(type) {
	case command.Executed, *command.Executed:
		kind = command.KindCommandExecuted
	case command.DomainEventHandled, *command.DomainEventHandled:
		kind = command.KindDomainEventHandled
	case command.EventStream, *command.EventStream:
		kind = command.KindEventStream
	default:
		return "", nil, fmt.Errorf("%w: %T", ErrUnrecognizedReplyKind, reply)
	}

	payload, err := c.Marshal(reply)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", kind, err)
	}

	return kind, payload, nil
}
