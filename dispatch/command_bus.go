// Package dispatch is the outbound side of correlation: it registers the
// caller with the core and then sends the command.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	cwatermill "github.com/shortlink-org/correlation/transport/watermill"
)

// Metadata keys set on every command message.
const (
	MetadataCommandID   = "command_id"
	MetadataProcessID   = "process_id"
	MetadataCommandName = "command_name"
	MetadataReplyMode   = "reply_mode"
	MetadataServiceName = "service_name"
	MetadataContentType = "content_type"
)

var (
	errCommandBusUninitialized = errors.New("dispatch: command bus is not initialized")
	errCommandPublisherNil     = errors.New("dispatch: publisher is required")
	errCommandCodecNil         = errors.New("dispatch: codec is required")
	errCommandNameEmpty        = errors.New("dispatch: command name is empty")
	errCommandIDEmpty          = errors.New("dispatch: command id is empty")
)

// Command is a unit of work addressed to a command handler.
type Command struct {
	// ID correlates the replies. Dispatcher assigns one when empty.
	ID string
	// ProcessID is set for commands that belong to a process.
	ProcessID string
	// Name selects the topic: <prefix>.<name>.
	Name    string
	Payload any
}

// CommandBus publishes commands over a Watermill publisher.
type CommandBus struct {
	publisher   message.Publisher
	codec       codec.Codec
	topicPrefix string
	service     string
}

// NewCommandBus builds a bus backed by Watermill publisher.
func NewCommandBus(pub message.Publisher, c codec.Codec, topicPrefix, service string) *CommandBus {
	return &CommandBus{
		publisher:   pub,
		codec:       c,
		topicPrefix: strings.TrimSuffix(topicPrefix, "."),
		service:     service,
	}
}

// NewCommandBusFromConfig reads DISPATCH_TOPIC_PREFIX and SERVICE_NAME.
func NewCommandBusFromConfig(pub message.Publisher, cfg *config.Config) (*CommandBus, error) {
	cfg.SetDefault("DISPATCH_TOPIC_PREFIX", "commands")
	cfg.SetDefault("SERVICE_NAME", "correlation")

	c, err := codec.FromConfig(cfg)
	if err != nil {
		return nil, err
	}

	return NewCommandBus(pub, c, cfg.GetString("DISPATCH_TOPIC_PREFIX"), cfg.GetString("SERVICE_NAME")), nil
}

// Topic returns the topic a command called name is published on.
func (b *CommandBus) Topic(name string) string {
	if b.topicPrefix == "" {
		return name
	}

	return b.topicPrefix + "." + name
}

func (b *CommandBus) validate(cmd Command) error {
	if b == nil {
		return errCommandBusUninitialized
	}

	if b.publisher == nil {
		return errCommandPublisherNil
	}

	if b.codec == nil {
		return errCommandCodecNil
	}

	if cmd.ID == "" {
		return errCommandIDEmpty
	}

	if cmd.Name == "" {
		return errCommandNameEmpty
	}

	return nil
}

// Send encodes and publishes cmd with correlation metadata and tracing context.
func (b *CommandBus) Send(ctx context.Context, cmd Command, mode command.Mode) error {
	if err := b.validate(cmd); err != nil {
		return err
	}

	payload, err := b.codec.Marshal(cmd.Payload)
	if err != nil {
		return fmt.Errorf("marshal command %s: %w", cmd.Name, err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataCommandID, cmd.ID)
	msg.Metadata.Set(MetadataCommandName, cmd.Name)
	msg.Metadata.Set(MetadataReplyMode, mode.String())
	msg.Metadata.Set(MetadataContentType, b.codec.ContentType())

	if cmd.ProcessID != "" {
		msg.Metadata.Set(MetadataProcessID, cmd.ProcessID)
	}

	if b.service != "" {
		msg.Metadata.Set(MetadataServiceName, b.service)
	}

	msg.SetContext(ctx)
	cwatermill.InjectTrace(ctx, msg)

	return b.publisher.Publish(b.Topic(cmd.Name), msg)
}
