package logger_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBufferLogger(t *testing.T, level int) (*logger.SlogLogger, *bytes.Buffer) {
	t.Helper()

	var buffer bytes.Buffer

	log, err := logger.New(logger.Configuration{
		Level:      level,
		Writer:     &buffer,
		TimeFormat: time.RFC822,
	})
	require.NoError(t, err, "Error init a logger")

	return log, &buffer
}

func TestOutputInfo(t *testing.T) {
	log, buffer := newBufferLogger(t, logger.INFO_LEVEL)

	log.Info("reply worker started", slog.String("kind", "command-executed"), slog.Int("queue", 1))

	var response map[string]any
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &response), "Error unmarshalling")

	assert.Equal(t, "INFO", response["level"])
	assert.Equal(t, "reply worker started", response["msg"])
	assert.Equal(t, "command-executed", response["kind"])
	assert.Equal(t, float64(1), response["queue"])
	assert.Contains(t, response, "time")
	assert.Contains(t, response, "source")
}

func TestSetLevel(t *testing.T) {
	log, buffer := newBufferLogger(t, logger.ERROR_LEVEL)

	log.Info("Hello World")
	log.Warn("Hello World")

	assert.Empty(t, buffer.String())
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	log, buffer := newBufferLogger(t, logger.INFO_LEVEL)

	log.DebugWithContext(context.Background(), "unmatched reply", slog.String("command_id", "C9"))

	assert.Empty(t, buffer.String())
}

func TestDefaultConfig(t *testing.T) {
	conf := logger.Default()

	assert.Equal(t, os.Stdout, conf.Writer)
	assert.Equal(t, time.RFC3339Nano, conf.TimeFormat)
	assert.Equal(t, logger.INFO_LEVEL, conf.Level)
}

func TestConfigValidation(t *testing.T) {
	conf := logger.Configuration{
		Level:      999,
		Writer:     io.Discard,
		TimeFormat: time.RFC3339,
	}

	err := conf.Validate()
	require.ErrorIs(t, err, logger.ErrInvalidLogLevel)

	conf.Level = logger.DEBUG_LEVEL
	require.NoError(t, conf.Validate())

	empty := logger.Configuration{Level: logger.WARN_LEVEL}
	require.NoError(t, empty.Validate())
	assert.Equal(t, os.Stdout, empty.Writer)
	assert.Equal(t, time.RFC3339Nano, empty.TimeFormat)
}

func TestError(t *testing.T) {
	log, buffer := newBufferLogger(t, logger.ERROR_LEVEL)

	log.Error("reply processing failed", slog.String("kind", "event-stream"), slog.String("command_id", "C1"))

	require.Contains(t, buffer.String(), `"level":"ERROR"`)
	require.Contains(t, buffer.String(), `"msg":"reply processing failed"`)
	require.Contains(t, buffer.String(), `"kind":"event-stream"`)
	require.Contains(t, buffer.String(), `"command_id":"C1"`)
}

func TestErrorWithContext(t *testing.T) {
	log, buffer := newBufferLogger(t, logger.ERROR_LEVEL)

	log.ErrorWithContext(context.Background(), "Request failed", slog.Int("status", 500))

	require.Contains(t, buffer.String(), `"level":"ERROR"`)
	require.Contains(t, buffer.String(), `"status":500`)
	require.Contains(t, buffer.String(), `"error":true`)
	require.Contains(t, buffer.String(), `"traceID"`)
}

func TestWarnWithContext(t *testing.T) {
	log, buffer := newBufferLogger(t, logger.WARN_LEVEL)

	log.WarnWithContext(context.Background(), "unrecognized reply kind", slog.String("tag", "bogus"))

	require.Contains(t, buffer.String(), `"level":"WARN"`)
	require.Contains(t, buffer.String(), `"tag":"bogus"`)
	require.Contains(t, buffer.String(), `"traceID"`)
}

func TestWith(t *testing.T) {
	log, buffer := newBufferLogger(t, logger.INFO_LEVEL)

	child := log.With(slog.String("component", "correlation"))
	child.Info("started")

	require.Contains(t, buffer.String(), `"component":"correlation"`)
	assert.Same(t, log, log.With())
}

func TestNewDefault(t *testing.T) {
	cfg, err := config.New(config.WithPath(t.TempDir()))
	require.NoError(t, err)

	cfg.Set("LOG_LEVEL", logger.DEBUG_LEVEL)

	log, cleanup, err := logger.NewDefault(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, log)

	cleanup()
}

func TestNewDefaultRejectsLevel(t *testing.T) {
	cfg, err := config.New(config.WithPath(t.TempDir()))
	require.NoError(t, err)

	cfg.Set("LOG_LEVEL", 42)

	_, _, err = logger.NewDefault(context.Background(), cfg)
	require.ErrorIs(t, err, logger.ErrInvalidLogLevel)
}
