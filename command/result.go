package command

// Result is the terminal value delivered to the original caller.
type Result struct {
	Status            Status `json:"status"`
	CommandID         string `json:"command_id"`
	AggregateRootID   string `json:"aggregate_root_id,omitempty"`
	ExceptionTypeName string `json:"exception_type_name,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

// Succeeded builds a Success result.
func Succeeded(commandID, aggregateRootID string) Result {
	return Result{
		Status:          StatusSuccess,
		CommandID:       commandID,
		AggregateRootID: aggregateRootID,
	}
}

// Failed builds a Failed result.
func Failed(commandID, exceptionTypeName, errorMessage string) Result {
	return Result{
		Status:            StatusFailed,
		CommandID:         commandID,
		ExceptionTypeName: exceptionTypeName,
		ErrorMessage:      errorMessage,
	}
}
