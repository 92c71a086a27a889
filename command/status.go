package command

import "fmt"

// Status is the outcome of a processed command.
type Status int

const (
	StatusNone Status = iota
	StatusSuccess
	StatusNothingChanged
	StatusFailed
)

var statusNames = map[Status]string{
	StatusNone:           "None",
	StatusSuccess:        "Success",
	StatusNothingChanged: "NothingChanged",
	StatusFailed:         "Failed",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("Status(%d)", int(s))
}

// Terminal reports whether no domain events can follow this status.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusNothingChanged
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStatus, int(s))
	}

	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}

	return fmt.Errorf("%w: %q", ErrUnknownStatus, text)
}
