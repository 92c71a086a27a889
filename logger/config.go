package logger

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Log levels, lowest value is the most severe.
const (
	ERROR_LEVEL = iota //nolint:revive,staticcheck // exported names kept stable for callers
	WARN_LEVEL
	INFO_LEVEL
	DEBUG_LEVEL
)

// Configuration of the slog backend.
type Configuration struct {
	Writer     io.Writer
	TimeFormat string
	Level      int
}

// Default returns stdout JSON at INFO.
func Default() Configuration {
	return Configuration{
		Writer:     os.Stdout,
		TimeFormat: time.RFC3339Nano,
		Level:      INFO_LEVEL,
	}
}

// Validate fills empty fields and rejects unknown levels.
func (c *Configuration) Validate() error {
	if c.Level < ERROR_LEVEL || c.Level > DEBUG_LEVEL {
		return fmt.Errorf("%w: %d", ErrInvalidLogLevel, c.Level)
	}

	if c.Writer == nil {
		c.Writer = os.Stdout
	}

	if c.TimeFormat == "" {
		c.TimeFormat = time.RFC3339Nano
	}

	return nil
}
