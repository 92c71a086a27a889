package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/pending"
)

var errProcessIDEmpty = errors.New("dispatch: process id is empty")

// Sender puts a command on the wire. CommandBus implements it.
type Sender interface {
	Send(ctx context.Context, cmd Command, mode command.Mode) error
}

// Registrar is the caller-facing part of correlation.Core.
type Registrar interface {
	RegisterPendingCommand(commandID string, mode command.Mode) (*pending.Handle, error)
	RegisterPendingProcess(processID string) (*pending.Handle, error)
	NotifySendFailed(commandID, reason string) bool
	NotifyProcessSendFailed(processID, reason string) bool
}

// Dispatcher registers the caller before sending so a fast reply always
// finds its pending entry.
type Dispatcher struct {
	log       logger.Logger
	registrar Registrar
	sender    Sender
}

func NewDispatcher(log logger.Logger, registrar Registrar, sender Sender) *Dispatcher {
	return &Dispatcher{
		log:       log,
		registrar: registrar,
		sender:    sender,
	}
}

// Execute sends cmd and returns the handle its reply resolves. When the
// send fails the handle is already resolved with a Failed result.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command, mode command.Mode) (*pending.Handle, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	handle, err := d.registrar.RegisterPendingCommand(cmd.ID, mode)
	if err != nil {
		return nil, fmt.Errorf("register command %s: %w", cmd.ID, err)
	}

	if err := d.sender.Send(ctx, cmd, mode); err != nil {
		d.log.WarnWithContext(ctx, "command send failed",
			slog.String("command_id", cmd.ID),
			slog.String("command", cmd.Name),
			slog.String("error", err.Error()),
		)

		d.registrar.NotifySendFailed(cmd.ID, err.Error())
	}

	return handle, nil
}

// ExecuteAndWait is Execute followed by Handle.Wait.
func (d *Dispatcher) ExecuteAndWait(ctx context.Context, cmd Command, mode command.Mode) (command.Result, error) {
	handle, err := d.Execute(ctx, cmd, mode)
	if err != nil {
		return command.Result{}, err
	}

	return handle.Wait(ctx)
}

// StartProcess sends the first command of a process and returns the handle
// resolved when the process completes or fails.
func (d *Dispatcher) StartProcess(ctx context.Context, cmd Command) (*pending.Handle, error) {
	if cmd.ProcessID == "" {
		return nil, errProcessIDEmpty
	}

	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	handle, err := d.registrar.RegisterPendingProcess(cmd.ProcessID)
	if err != nil {
		return nil, fmt.Errorf("register process %s: %w", cmd.ProcessID, err)
	}

	if err := d.sender.Send(ctx, cmd, command.EventHandled); err != nil {
		d.log.WarnWithContext(ctx, "process command send failed",
			slog.String("process_id", cmd.ProcessID),
			slog.String("command_id", cmd.ID),
			slog.String("error", err.Error()),
		)

		d.registrar.NotifyProcessSendFailed(cmd.ProcessID, err.Error())
	}

	return handle, nil
}
