package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shortlink-org/correlation/codec"
	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/correlation"
	"github.com/shortlink-org/correlation/dispatch"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/pending"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type createLink struct {
	URL string `json:"url"`
}

type senderFunc func(ctx context.Context, cmd dispatch.Command, mode command.Mode) error

func (f senderFunc) Send(ctx context.Context, cmd dispatch.Command, mode command.Mode) error {
	return f(ctx, cmd, mode)
}

func newCore(t *testing.T) (*correlation.Core, logger.Logger, *bytes.Buffer) {
	t.Helper()

	out := &bytes.Buffer{}

	log, err := logger.New(logger.Configuration{Level: logger.DEBUG_LEVEL, Writer: out})
	require.NoError(t, err)

	core, err := correlation.New(log, correlation.WithSettings(correlation.Settings{DrainOnShutdown: true}))
	require.NoError(t, err)

	return core, log, out
}

func TestCommandBusSendPublishesMetadata(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 1}, watermill.NopLogger{})
	defer func() { require.NoError(t, pubSub.Close()) }()

	bus := dispatch.NewCommandBus(pubSub, codec.JSON{}, "commands.", "links")
	assert.Equal(t, "commands.link.create", bus.Topic("link.create"))

	messages, err := pubSub.Subscribe(context.Background(), bus.Topic("link.create"))
	require.NoError(t, err)

	err = bus.Send(context.Background(), dispatch.Command{
		ID:        "C1",
		ProcessID: "P1",
		Name:      "link.create",
		Payload:   createLink{URL: "https://example.com"},
	}, command.EventHandled)
	require.NoError(t, err)

	select {
	case msg := <-messages:
		msg.Ack()

		assert.Equal(t, "C1", msg.Metadata.Get(dispatch.MetadataCommandID))
		assert.Equal(t, "P1", msg.Metadata.Get(dispatch.MetadataProcessID))
		assert.Equal(t, "link.create", msg.Metadata.Get(dispatch.MetadataCommandName))
		assert.Equal(t, "EventHandled", msg.Metadata.Get(dispatch.MetadataReplyMode))
		assert.Equal(t, "links", msg.Metadata.Get(dispatch.MetadataServiceName))
		assert.Equal(t, "application/json", msg.Metadata.Get(dispatch.MetadataContentType))
		assert.JSONEq(t, `{"url":"https://example.com"}`, string(msg.Payload))
	case <-time.After(time.Second):
		t.Fatal("command was not published")
	}
}

func TestCommandBusValidates(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer func() { require.NoError(t, pubSub.Close()) }()

	ctx := context.Background()

	var nilBus *dispatch.CommandBus
	require.Error(t, nilBus.Send(ctx, dispatch.Command{ID: "C1", Name: "x"}, command.CommandExecuted))

	require.Error(t, dispatch.NewCommandBus(nil, codec.JSON{}, "", "").Send(ctx, dispatch.Command{ID: "C1", Name: "x"}, command.CommandExecuted))
	require.Error(t, dispatch.NewCommandBus(pubSub, nil, "", "").Send(ctx, dispatch.Command{ID: "C1", Name: "x"}, command.CommandExecuted))

	bus := dispatch.NewCommandBus(pubSub, codec.JSON{}, "", "")
	assert.Equal(t, "x", bus.Topic("x"))
	require.Error(t, bus.Send(ctx, dispatch.Command{Name: "x"}, command.CommandExecuted))
	require.Error(t, bus.Send(ctx, dispatch.Command{ID: "C1"}, command.CommandExecuted))
}

func TestExecuteRegistersBeforeSending(t *testing.T) {
	core, log, _ := newCore(t)

	var pendingAtSend int

	d := dispatch.NewDispatcher(log, core, senderFunc(func(_ context.Context, _ dispatch.Command, _ command.Mode) error {
		pendingAtSend, _ = core.Pending()

		return nil
	}))

	handle, err := d.Execute(context.Background(), dispatch.Command{Name: "link.create"}, command.CommandExecuted)
	require.NoError(t, err)

	assert.Equal(t, 1, pendingAtSend)

	_, done := handle.Result()
	assert.False(t, done)
}

func TestExecuteAssignsCommandID(t *testing.T) {
	core, log, _ := newCore(t)

	var sent dispatch.Command

	d := dispatch.NewDispatcher(log, core, senderFunc(func(_ context.Context, cmd dispatch.Command, _ command.Mode) error {
		sent = cmd

		return nil
	}))

	_, err := d.Execute(context.Background(), dispatch.Command{Name: "link.create"}, command.CommandExecuted)
	require.NoError(t, err)

	assert.NotEmpty(t, sent.ID)
	assert.True(t, core.NotifySendFailed(sent.ID, "cleanup"))
}

func TestExecuteSendFailureResolvesHandle(t *testing.T) {
	core, log, out := newCore(t)

	d := dispatch.NewDispatcher(log, core, senderFunc(func(context.Context, dispatch.Command, command.Mode) error {
		return errors.New("broker unreachable")
	}))

	handle, err := d.Execute(context.Background(), dispatch.Command{ID: "C1", Name: "link.create"}, command.EventHandled)
	require.NoError(t, err)

	result, done := handle.Result()
	require.True(t, done)
	assert.Equal(t, command.StatusFailed, result.Status)
	assert.Equal(t, "C1", result.CommandID)
	assert.Equal(t, "broker unreachable", result.ErrorMessage)

	commands, _ := core.Pending()
	assert.Zero(t, commands)
	assert.Contains(t, out.String(), "command send failed")
}

func TestExecuteDuplicateCommandID(t *testing.T) {
	core, log, _ := newCore(t)
	d := dispatch.NewDispatcher(log, core, senderFunc(func(context.Context, dispatch.Command, command.Mode) error { return nil }))

	_, err := d.Execute(context.Background(), dispatch.Command{ID: "C1", Name: "x"}, command.CommandExecuted)
	require.NoError(t, err)

	_, err = d.Execute(context.Background(), dispatch.Command{ID: "C1", Name: "x"}, command.CommandExecuted)
	require.ErrorIs(t, err, pending.ErrDuplicateRegistration)
}

func TestStartProcessSendFailure(t *testing.T) {
	core, log, _ := newCore(t)

	var mode command.Mode

	d := dispatch.NewDispatcher(log, core, senderFunc(func(_ context.Context, _ dispatch.Command, m command.Mode) error {
		mode = m

		return errors.New("broker unreachable")
	}))

	handle, err := d.StartProcess(context.Background(), dispatch.Command{ProcessID: "P1", Name: "order.place"})
	require.NoError(t, err)
	assert.Equal(t, command.EventHandled, mode)

	result, done := handle.Result()
	require.True(t, done)
	assert.Equal(t, command.StatusFailed, result.Status)
	assert.Equal(t, "P1", result.AggregateRootID)
}

func TestStartProcessRequiresProcessID(t *testing.T) {
	core, log, _ := newCore(t)
	d := dispatch.NewDispatcher(log, core, senderFunc(func(context.Context, dispatch.Command, command.Mode) error { return nil }))

	_, err := d.StartProcess(context.Background(), dispatch.Command{Name: "order.place"})
	require.Error(t, err)
}

func TestExecuteAndWaitResolvedByReply(t *testing.T) {
	core, log, _ := newCore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, core.Start(ctx))
	defer func() { require.NoError(t, core.Shutdown(context.Background())) }()

	// the command handler answers synchronously on the reply path
	d := dispatch.NewDispatcher(log, core, senderFunc(func(ctx context.Context, cmd dispatch.Command, _ command.Mode) error {
		return core.OnCommandExecuted(ctx, command.Executed{
			CommandID:       cmd.ID,
			Status:          command.StatusSuccess,
			AggregateRootID: "A1",
		})
	}))

	result, err := d.ExecuteAndWait(ctx, dispatch.Command{ID: "C1", Name: "link.create"}, command.CommandExecuted)
	require.NoError(t, err)
	assert.Equal(t, command.StatusSuccess, result.Status)
	assert.Equal(t, "A1", result.AggregateRootID)
}
