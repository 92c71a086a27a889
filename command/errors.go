package command

import "errors"

var (
	// ErrUnknownStatus is returned when a status name or value is not declared.
	ErrUnknownStatus = errors.New("command: unknown status")
	// ErrUnknownMode is returned when a completion mode is not declared.
	ErrUnknownMode = errors.New("command: unknown completion mode")
)
