package command

import "fmt"

// Mode declares which reply kind completes a pending registration.
type Mode int

const (
	// CommandExecuted completes on the first command-executed reply.
	CommandExecuted Mode = iota + 1
	// EventHandled waits until the domain events of the command are handled,
	// unless the command-executed reply is already terminal.
	EventHandled
)

func (m Mode) String() string {
	switch m {
	case CommandExecuted:
		return "CommandExecuted"
	case EventHandled:
		return "EventHandled"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Valid reports whether m is one of the declared modes.
func (m Mode) Valid() bool {
	return m == CommandExecuted || m == EventHandled
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMode, int(m))
	}

	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "CommandExecuted":
		*m = CommandExecuted
	case "EventHandled":
		*m = EventHandled
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, text)
	}

	return nil
}
