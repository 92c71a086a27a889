package nats

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/reply"
	"github.com/shortlink-org/correlation/transport/transporttest"
)

func newSubscriber(t *testing.T) (*Subscriber, *bytes.Buffer) {
	t.Helper()

	out := &bytes.Buffer{}

	log, err := logger.New(logger.Configuration{Level: logger.DEBUG_LEVEL, Writer: out})
	require.NoError(t, err)

	cfg, err := config.New(config.WithPath(t.TempDir()))
	require.NoError(t, err)

	s, err := New(log, cfg, WithCodec(codec.JSON{}))
	require.NoError(t, err)

	return s, out
}

func replyMsg(t *testing.T, r any) *nats.Msg {
	t.Helper()

	msg, err := NewPublisher(nil, codec.JSON{}, "correlation.replies").message(context.Background(), r)
	require.NoError(t, err)

	return msg
}

func TestConfigDefaults(t *testing.T) {
	s, _ := newSubscriber(t)

	assert.Equal(t, nats.DefaultURL, s.config.URL)
	assert.Equal(t, "correlation.replies", s.config.Subject)
	assert.Empty(t, s.config.QueueGroup)
	assert.Equal(t, "nats", s.Name())
}

func TestPublisherMessageCarriesKind(t *testing.T) {
	msg := replyMsg(t, command.EventStream{CommandID: "C1", AggregateRootID: "P1", HasProcessCompletedEvent: true})

	assert.Equal(t, "correlation.replies", msg.Subject)
	assert.Equal(t, string(command.KindEventStream), msg.Header.Get(HeaderReplyType))
	assert.Equal(t, "application/json", msg.Header.Get(HeaderContentType))
}

func TestHandleRoutesByHeader(t *testing.T) {
	s, _ := newSubscriber(t)
	sink := &transporttest.Sink{}
	ctx := context.Background()

	assert.Equal(t, StatusAccepted, s.handle(ctx, sink, replyMsg(t, command.Executed{CommandID: "C1", Status: command.StatusSuccess})))
	assert.Equal(t, StatusAccepted, s.handle(ctx, sink, replyMsg(t, command.DomainEventHandled{CommandID: "C1", AggregateRootID: "A1"})))
	assert.Equal(t, StatusAccepted, s.handle(ctx, sink, replyMsg(t, command.EventStream{CommandID: "C2", AggregateRootID: "P1"})))

	require.Len(t, sink.Executed, 1)
	assert.Equal(t, "C1", sink.Executed[0].CommandID)
	require.Len(t, sink.Handled, 1)
	assert.Equal(t, "A1", sink.Handled[0].AggregateRootID)
	require.Len(t, sink.Streams, 1)
	assert.Equal(t, "P1", sink.Streams[0].AggregateRootID)
}

func TestHandleUnrecognizedKind(t *testing.T) {
	s, out := newSubscriber(t)
	sink := &transporttest.Sink{}

	msg := nats.NewMsg("correlation.replies")
	msg.Header.Set(HeaderReplyType, "heartbeat")
	msg.Data = []byte(`{}`)

	assert.Equal(t, StatusIgnored, s.handle(context.Background(), sink, msg))
	assert.Zero(t, sink.Count())
	assert.Contains(t, out.String(), "unrecognized reply kind ignored")
}

func TestHandleMissingHeader(t *testing.T) {
	s, _ := newSubscriber(t)
	sink := &transporttest.Sink{}

	msg := &nats.Msg{Subject: "correlation.replies", Data: []byte(`{}`)}

	assert.Equal(t, StatusIgnored, s.handle(context.Background(), sink, msg))
}

func TestHandleMalformedPayload(t *testing.T) {
	s, out := newSubscriber(t)
	sink := &transporttest.Sink{}

	msg := replyMsg(t, command.Executed{CommandID: "C1"})
	msg.Data = []byte("{not json")

	assert.Equal(t, StatusRejected, s.handle(context.Background(), sink, msg))
	assert.Zero(t, sink.Count())
	assert.Contains(t, out.String(), "reply rejected")
}

func TestHandleBackPressure(t *testing.T) {
	s, _ := newSubscriber(t)
	sink := &transporttest.Sink{}
	sink.Fail(fmt.Errorf("%s: %w", command.KindCommandExecuted, reply.ErrQueueFull))

	assert.Equal(t, StatusRetry, s.handle(context.Background(), sink, replyMsg(t, command.Executed{CommandID: "C1"})))
}

func TestHandleClosedCore(t *testing.T) {
	s, out := newSubscriber(t)
	sink := &transporttest.Sink{}
	sink.Fail(fmt.Errorf("%s: %w", command.KindCommandExecuted, reply.ErrQueueClosed))

	assert.Equal(t, StatusUnavailable, s.handle(context.Background(), sink, replyMsg(t, command.Executed{CommandID: "C1"})))
	assert.Contains(t, out.String(), "reply not delivered")
}

func TestCloseBeforeStart(t *testing.T) {
	s, _ := newSubscriber(t)

	assert.NoError(t, s.Close())
}

func TestStartFailureClosesOwnConnection(t *testing.T) {
	log, err := logger.New(logger.Configuration{Level: logger.DEBUG_LEVEL, Writer: &bytes.Buffer{}})
	require.NoError(t, err)

	cfg, err := config.New(config.WithPath(t.TempDir()))
	require.NoError(t, err)
	cfg.Set("CORRELATION_NATS_URL", "nats://127.0.0.1:1")
	cfg.Set("CORRELATION_NATS_SUBJECT", "")

	closed := make(chan struct{})

	// RetryOnFailedConnect hands back a connection with no server behind it.
	s, err := New(log, cfg, WithCodec(codec.JSON{}), WithNATSOptions(
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(time.Hour),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	))
	require.NoError(t, err)

	err = s.Start(context.Background(), &transporttest.Sink{})
	require.ErrorIs(t, err, nats.ErrBadSubject)

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("connection opened by Start was not closed")
	}

	assert.Nil(t, s.conn)
	assert.Nil(t, s.sub)
	assert.False(t, s.ownConn)
	assert.NoError(t, s.Close())
}

func TestStartFailureKeepsSharedConnection(t *testing.T) {
	log, err := logger.New(logger.Configuration{Level: logger.DEBUG_LEVEL, Writer: &bytes.Buffer{}})
	require.NoError(t, err)

	cfg, err := config.New(config.WithPath(t.TempDir()))
	require.NoError(t, err)
	cfg.Set("CORRELATION_NATS_SUBJECT", "")

	conn, err := nats.Connect("nats://127.0.0.1:1", nats.RetryOnFailedConnect(true), nats.ReconnectWait(time.Hour))
	require.NoError(t, err)
	t.Cleanup(conn.Close)

	s, err := New(log, cfg, WithConn(conn), WithCodec(codec.JSON{}))
	require.NoError(t, err)

	require.ErrorIs(t, s.Start(context.Background(), &transporttest.Sink{}), nats.ErrBadSubject)
	assert.False(t, conn.IsClosed())
	assert.Same(t, conn, s.conn)
}
