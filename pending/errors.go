package pending

import "errors"

var (
	// ErrDuplicateRegistration is returned when the key is already pending.
	ErrDuplicateRegistration = errors.New("pending: duplicate registration")
	// ErrEmptyKey is returned when registering under an empty key.
	ErrEmptyKey = errors.New("pending: empty correlation key")
	// ErrNilHandle is returned when registering without a handle.
	ErrNilHandle = errors.New("pending: handle is nil")
	// ErrInvalidMode is returned for an undeclared completion mode.
	ErrInvalidMode = errors.New("pending: invalid completion mode")
)
