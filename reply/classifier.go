package reply

import "github.com/shortlink-org/correlation/command"

// Decision is the outcome of classifying a reply against a pending mode.
type Decision struct {
	Resolve bool
	Result  command.Result
}

// Ignore leaves the pending entry untouched.
var Ignore = Decision{}

func resolveNow(result command.Result) Decision {
	return Decision{Resolve: true, Result: result}
}

// Target is the registry a reply is matched against.
type Target int

const (
	TargetCommand Target = iota
	TargetProcess
)

func (t Target) String() string {
	if t == TargetProcess {
		return "process"
	}

	return "command"
}

// ClassifyExecuted decides a command-executed reply.
func ClassifyExecuted(msg command.Executed, mode command.Mode) Decision {
	switch mode {
	case command.CommandExecuted:
		return resolveNow(msg.Result())
	case command.EventHandled:
		if msg.Status.Terminal() {
			return resolveNow(msg.Result())
		}

		return Ignore
	default:
		return Ignore
	}
}

// ClassifyEventHandled decides a domain-event-handled reply. It always
// resolves by command id.
func ClassifyEventHandled(msg command.DomainEventHandled) Decision {
	return resolveNow(command.Succeeded(msg.CommandID, msg.AggregateRootID))
}

// ClassifyEventStream returns the registry to match and the decision.
func ClassifyEventStream(msg command.EventStream) (Target, Decision) {
	result := command.Succeeded(msg.CommandID, msg.AggregateRootID)

	if msg.HasProcessCompletedEvent {
		return TargetProcess, resolveNow(result)
	}

	return TargetCommand, resolveNow(result)
}

// StreamKey returns the correlation key of an event-stream reply.
func StreamKey(msg command.EventStream) string {
	if msg.HasProcessCompletedEvent {
		return msg.AggregateRootID
	}

	return msg.CommandID
}
