package tracing

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/logger"
)

func TestDisabledTracingIsNoop(t *testing.T) {
	log, err := logger.New(logger.Configuration{Writer: io.Discard})
	require.NoError(t, err)

	cfg, err := config.New(config.WithPath(t.TempDir()))
	require.NoError(t, err)

	tp, cleanup, err := New(context.Background(), log, cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, noop.TracerProvider{}, tp)
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}
