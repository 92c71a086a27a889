package watermill_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/correlation"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/pending"
	"github.com/shortlink-org/correlation/transport/watermill"
	"github.com/shortlink-org/correlation/transport/watermill/backends/memory"
)

const repliesTopic = "replies"

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

type pipeline struct {
	core      *correlation.Core
	client    *watermill.Client
	publisher *watermill.ReplyPublisher
	out       *syncBuffer
}

func newPipeline(t *testing.T, c codec.Codec, opts ...watermill.Option) *pipeline {
	t.Helper()

	out := &syncBuffer{}

	log, err := logger.New(logger.Configuration{Level: logger.DEBUG_LEVEL, Writer: out})
	require.NoError(t, err)

	cfg, err := config.New(config.WithPath(t.TempDir()))
	require.NoError(t, err)

	base := []watermill.Option{
		watermill.WithTopics(repliesTopic),
		watermill.DisableRetry(),
		watermill.DisableCircuitBreaker(),
	}

	client, err := watermill.New(log, cfg, memory.New(log, cfg), nil, nil, append(base, opts...)...)
	require.NoError(t, err)

	core, err := correlation.New(log,
		correlation.WithSettings(correlation.Settings{DrainOnShutdown: true}),
		correlation.WithTransport(watermill.NewConsumer(log, client, c)),
	)
	require.NoError(t, err)
	require.NoError(t, core.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, core.Shutdown(context.Background()))
		require.NoError(t, client.Close())
	})

	return &pipeline{
		core:      core,
		client:    client,
		publisher: watermill.NewReplyPublisher(client.Publisher, c, repliesTopic),
		out:       out,
	}
}

func wait(t *testing.T, handle *pending.Handle) command.Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := handle.Wait(ctx)
	require.NoError(t, err)

	return result
}

func TestConsumerResolvesCommandAndProcess(t *testing.T) {
	for _, c := range []codec.Codec{codec.JSON{}, codec.CBOR{}} {
		t.Run(c.ContentType(), func(t *testing.T) {
			p := newPipeline(t, c)
			ctx := context.Background()

			cmd, err := p.core.RegisterPendingCommand("C1", command.EventHandled)
			require.NoError(t, err)

			process, err := p.core.RegisterPendingProcess("P1")
			require.NoError(t, err)

			require.NoError(t, p.publisher.PublishExecuted(ctx, command.Executed{CommandID: "C1", Status: command.StatusSuccess}))
			require.NoError(t, p.publisher.PublishEventStream(ctx, command.EventStream{CommandID: "C1", AggregateRootID: "A1"}))
			require.NoError(t, p.publisher.PublishEventStream(ctx, command.EventStream{
				CommandID:                "C9",
				AggregateRootID:          "P1",
				HasProcessCompletedEvent: true,
			}))

			assert.Equal(t, command.Succeeded("C1", "A1"), wait(t, cmd))
			assert.Equal(t, command.Succeeded("C9", "P1"), wait(t, process))
		})
	}
}

func TestConsumerTerminalStatusSettlesEventHandledEntry(t *testing.T) {
	p := newPipeline(t, codec.JSON{})

	handle, err := p.core.RegisterPendingCommand("C3", command.EventHandled)
	require.NoError(t, err)

	require.NoError(t, p.publisher.PublishExecuted(context.Background(), command.Executed{
		CommandID:         "C3",
		Status:            command.StatusFailed,
		ExceptionTypeName: "InsufficientFunds",
	}))

	result := wait(t, handle)
	assert.Equal(t, command.StatusFailed, result.Status)
	assert.Equal(t, "InsufficientFunds", result.ExceptionTypeName)
}

func TestConsumerAcknowledgesUnrecognizedKind(t *testing.T) {
	p := newPipeline(t, codec.JSON{})

	msg := message.NewMessage("heartbeat-1", []byte(`{}`))
	msg.Metadata.Set(watermill.MetaReplyType, "heartbeat")
	require.NoError(t, p.client.Publisher.Publish(repliesTopic, msg))

	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(p.out.String()), []byte("unrecognized reply kind acknowledged"))
	}, 3*time.Second, 10*time.Millisecond)
}

func TestUndecodableReplyGoesToDLQ(t *testing.T) {
	p := newPipeline(t, codec.JSON{}, watermill.WithDLQ("replies.dlq"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dead, err := p.client.Subscriber.Subscribe(ctx, "replies.dlq")
	require.NoError(t, err)

	msg := message.NewMessage("broken-1", []byte(`{"command_id":`))
	msg.Metadata.Set(watermill.MetaReplyType, string(command.KindCommandExecuted))
	require.NoError(t, p.client.Publisher.Publish(repliesTopic, msg))

	select {
	case dlqMsg := <-dead:
		dlqMsg.Ack()

		assert.Contains(t, dlqMsg.Metadata.Get("poison_reason"), "cannot decode reply")
		assert.Equal(t, string(command.KindCommandExecuted), dlqMsg.Metadata.Get("original_reply_type"))
		assert.Contains(t, string(dlqMsg.Payload), `"uuid":"broken-1"`)
	case <-time.After(3 * time.Second):
		t.Fatal("undecodable reply was not dead-lettered")
	}
}
