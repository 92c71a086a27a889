package correlation

import "errors"

var (
	ErrAlreadyStarted = errors.New("correlation: core already started")
	ErrNotStarted     = errors.New("correlation: core not started")
	ErrStopped        = errors.New("correlation: core stopped")
	ErrNilLogger      = errors.New("correlation: logger is nil")
)
