package command

// Kind tags a raw reply on the wire.
type Kind string

const (
	KindCommandExecuted    Kind = "command-executed"
	KindDomainEventHandled Kind = "domain-event-handled"
	KindEventStream        Kind = "event-stream"
)

// Kinds lists every tag understood by the correlation core.
func Kinds() []Kind {
	return []Kind{KindCommandExecuted, KindDomainEventHandled, KindEventStream}
}

// Executed reports that the direct processing of a command has finished.
type Executed struct {
	CommandID         string `json:"command_id"`
	Status            Status `json:"status"`
	AggregateRootID   string `json:"aggregate_root_id,omitempty"`
	ExceptionTypeName string `json:"exception_type_name,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// Result copies the reply fields into a Result.
func (e Executed) Result() Result {
	return Result{
		Status:            e.Status,
		CommandID:         e.CommandID,
		AggregateRootID:   e.AggregateRootID,
		ExceptionTypeName: e.ExceptionTypeName,
		ErrorMessage:      e.ErrorMessage,
	}
}

// DomainEventHandled reports that every domain event raised by a command was handled.
type DomainEventHandled struct {
	CommandID       string `json:"command_id"`
	AggregateRootID string `json:"aggregate_root_id,omitempty"`
}

// EventStream is the single reply shape of the queue-consumer variant.
// With HasProcessCompletedEvent set, AggregateRootID is the id of the
// completed process.
type EventStream struct {
	CommandID                string `json:"command_id"`
	AggregateRootID          string `json:"aggregate_root_id,omitempty"`
	HasProcessCompletedEvent bool   `json:"has_process_completed_event"`
}
