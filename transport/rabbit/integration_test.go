//go:build integration

package rabbit

import (
	"context"
	"io"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc_rabbit "github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/correlation"
	"github.com/shortlink-org/correlation/logger"
)

func TestConsumerResolvesProcessWithTestcontainer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	container, err := tc_rabbit.Run(ctx, "rabbitmq:3.13-alpine")
	if err != nil {
		t.Skipf("rabbitmq container not available: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	uri, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	cfg, err := config.New(config.WithPath(t.TempDir()))
	require.NoError(t, err)
	cfg.Set("CORRELATION_RABBIT_URI", uri)

	log, err := logger.New(logger.Configuration{Level: logger.INFO_LEVEL, Writer: io.Discard})
	require.NoError(t, err)

	consumer, err := New(log, cfg, WithCodec(codec.JSON{}))
	require.NoError(t, err)

	core, err := correlation.New(log, correlation.WithConfig(cfg), correlation.WithTransport(consumer))
	require.NoError(t, err)
	require.NoError(t, core.Start(ctx))
	t.Cleanup(func() {
		_ = core.Shutdown(context.Background())
	})

	handle, err := core.RegisterPendingProcess("P1")
	require.NoError(t, err)

	conn, err := amqp.Dial(uri)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ch, err := conn.Channel()
	require.NoError(t, err)

	// The default exchange routes by queue name.
	publisher := NewPublisher(ch, codec.JSON{}, "", consumer.config.Queue)
	require.NoError(t, publisher.Publish(ctx, command.EventStream{
		CommandID:                "C1",
		AggregateRootID:          "P1",
		HasProcessCompletedEvent: true,
	}))

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	defer waitCancel()

	result, err := handle.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, command.StatusSuccess, result.Status)
	assert.Equal(t, "C1", result.CommandID)
}
