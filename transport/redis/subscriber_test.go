package redis

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/rueidis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/reply"
	"github.com/shortlink-org/correlation/transport"
	"github.com/shortlink-org/correlation/transport/transporttest"
)

func newSubscriber(t *testing.T, extra ...func(*config.Config)) (*Subscriber, *bytes.Buffer) {
	t.Helper()

	out := &bytes.Buffer{}

	log, err := logger.New(logger.Configuration{Level: logger.DEBUG_LEVEL, Writer: out})
	require.NoError(t, err)

	cfg, err := config.New(config.WithPath(t.TempDir()))
	require.NoError(t, err)

	for _, fn := range extra {
		fn(cfg)
	}

	s, err := New(log, cfg, WithCodec(codec.CBOR{}))
	require.NoError(t, err)

	return s, out
}

func message(t *testing.T, s *Subscriber, r any) rueidis.PubSubMessage {
	t.Helper()

	kind, payload, err := transport.Encode(s.codec, r)
	require.NoError(t, err)

	return rueidis.PubSubMessage{
		Pattern: s.pattern(),
		Channel: Channel(s.config.ChannelPrefix, kind),
		Message: string(payload),
	}
}

func TestConfigDefaults(t *testing.T) {
	s, _ := newSubscriber(t)

	assert.Equal(t, []string{"localhost:6379"}, s.config.Address)
	assert.Equal(t, "correlation.replies", s.config.ChannelPrefix)
	assert.Equal(t, "correlation.replies.*", s.pattern())
	assert.Equal(t, "redis", s.Name())
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "replies.command-executed", Channel("replies", command.KindCommandExecuted))
}

func TestHandleRoutesByChannel(t *testing.T) {
	s, _ := newSubscriber(t, func(cfg *config.Config) {
		cfg.Set("CORRELATION_REDIS_CHANNEL_PREFIX", "svc.replies")
	})
	sink := &transporttest.Sink{}
	ctx := context.Background()

	s.handle(ctx, sink, message(t, s, command.Executed{CommandID: "C1", Status: command.StatusFailed, ErrorMessage: "boom"}))
	s.handle(ctx, sink, message(t, s, command.EventStream{CommandID: "C2", AggregateRootID: "P1", HasProcessCompletedEvent: true}))

	require.Len(t, sink.Executed, 1)
	assert.Equal(t, "boom", sink.Executed[0].ErrorMessage)
	require.Len(t, sink.Streams, 1)
	assert.True(t, sink.Streams[0].HasProcessCompletedEvent)
}

func TestHandleUnrecognizedKind(t *testing.T) {
	s, out := newSubscriber(t)
	sink := &transporttest.Sink{}

	s.handle(context.Background(), sink, rueidis.PubSubMessage{
		Channel: "correlation.replies.heartbeat",
		Message: "x",
	})

	assert.Zero(t, sink.Count())
	assert.Contains(t, out.String(), "unrecognized reply kind ignored")
}

func TestHandleLogsLostReply(t *testing.T) {
	s, out := newSubscriber(t)
	sink := &transporttest.Sink{}
	sink.Fail(fmt.Errorf("%s: %w", command.KindDomainEventHandled, reply.ErrQueueFull))

	s.handle(context.Background(), sink, message(t, s, command.DomainEventHandled{CommandID: "C1"}))

	assert.Contains(t, out.String(), "reply lost")
}

func TestHandleMalformedPayload(t *testing.T) {
	s, out := newSubscriber(t)
	sink := &transporttest.Sink{}

	s.handle(context.Background(), sink, rueidis.PubSubMessage{
		Channel: Channel(s.config.ChannelPrefix, command.KindCommandExecuted),
		Message: "\xff\xff",
	})

	assert.Zero(t, sink.Count())
	assert.Contains(t, out.String(), "reply lost")
}

func TestCloseBeforeStart(t *testing.T) {
	s, _ := newSubscriber(t)

	assert.NoError(t, s.Close())
}

func TestStartFailureClosesOwnClient(t *testing.T) {
	server := miniredis.RunT(t)

	s, _ := newSubscriber(t, func(cfg *config.Config) {
		cfg.Set("CORRELATION_REDIS_ADDRESS", []string{server.Addr()})
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, s.Start(ctx, &transporttest.Sink{}))

	assert.Nil(t, s.client)
	assert.False(t, s.ownClient)
	assert.Nil(t, s.done)
	require.Eventually(t, func() bool {
		return server.CurrentConnectionCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, s.Close())
}
