/*
Package correlation matches asynchronous replies to the callers waiting on them.

A caller registers a pending entry under a command id (or a process id)
before dispatching, then waits on the returned handle. Transports decode
replies on their own goroutines and push them through the Sink hooks into
one ingress queue per reply kind; a single worker per queue classifies each
reply and resolves at most one pending entry.

	core, _ := correlation.New(log, correlation.WithConfig(cfg), correlation.WithTransport(consumer))
	_ = core.Start(ctx)
	defer core.Shutdown(ctx)

	handle, err := core.RegisterPendingCommand(id, command.EventHandled)
	if err := send(ctx, cmd); err != nil {
		core.NotifySendFailed(id, err.Error())
	}
	result, err := handle.Wait(ctx)
*/
package correlation
