package watermill

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/shortlink-org/correlation/logger"
)

// DLQEvent describes a reply that could not be decoded.
type DLQEvent struct {
	FailedAt    time.Time        `json:"failed_at"`
	Reason      string           `json:"reason"`
	OriginalMsg *message.Message `json:"-"`
	ServiceName string           `json:"service_name,omitempty"`
}

type originalMessageJSON struct {
	UUID          string            `json:"uuid"`
	Metadata      map[string]string `json:"metadata"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	PayloadBase64 string            `json:"payload_base64,omitempty"`
}

// MarshalJSON keeps JSON payloads readable and base64-encodes the rest.
func (event DLQEvent) MarshalJSON() ([]byte, error) {
	if event.OriginalMsg == nil {
		return nil, fmt.Errorf("dlq event missing original message")
	}

	original := originalMessageJSON{
		UUID:     event.OriginalMsg.UUID,
		Metadata: maps.Clone(map[string]string(event.OriginalMsg.Metadata)),
	}

	if original.Metadata == nil {
		original.Metadata = map[string]string{}
	}

	switch {
	case len(event.OriginalMsg.Payload) == 0:
		original.Payload = json.RawMessage("null")
	case json.Valid(event.OriginalMsg.Payload):
		original.Payload = json.RawMessage(event.OriginalMsg.Payload)
	default:
		original.PayloadBase64 = base64.StdEncoding.EncodeToString(event.OriginalMsg.Payload)
	}

	type alias struct {
		FailedAt    time.Time           `json:"failed_at"`
		Reason      string              `json:"reason"`
		ServiceName string              `json:"service_name,omitempty"`
		Original    originalMessageJSON `json:"original_message"`
	}

	return json.Marshal(alias{
		FailedAt:    event.FailedAt,
		Reason:      event.Reason,
		ServiceName: event.ServiceName,
		Original:    original,
	})
}

// BuildDLQMessage serializes event and copies the original metadata with an
// "original_" prefix.
func BuildDLQMessage(event DLQEvent) (*message.Message, error) {
	if event.OriginalMsg == nil {
		return nil, fmt.Errorf("dlq event missing original message")
	}

	if event.FailedAt.IsZero() {
		event.FailedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal dlq event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)

	for k, v := range event.OriginalMsg.Metadata {
		msg.Metadata.Set("original_"+k, v)
	}

	msg.Metadata.Set("poison_reason", event.Reason)
	msg.Metadata.Set("service_name", event.ServiceName)
	msg.Metadata.Set("dlq_version", "1")

	return msg, nil
}

// PublishDLQ builds the DLQ message and publishes it on topic.
func PublishDLQ(ctx context.Context, log logger.Logger, publisher message.Publisher, topic string, event DLQEvent) error {
	if topic == "" {
		return fmt.Errorf("dlq topic is empty")
	}

	msg, err := BuildDLQMessage(event)
	if err != nil {
		return fmt.Errorf("build dlq message: %w", err)
	}

	msg.SetContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))

	if err := publisher.Publish(topic, msg); err != nil {
		log.ErrorWithContext(ctx, "Failed to publish DLQ message",
			slog.String("topic", topic),
			slog.String("reason", event.Reason),
			slog.String("message_id", msg.UUID),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("publish dlq message: %w", err)
	}

	log.WarnWithContext(ctx, "Reply moved to DLQ",
		slog.String("topic", topic),
		slog.String("reason", event.Reason),
		slog.String("original_id", event.OriginalMsg.UUID),
	)

	return nil
}
