package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortlink-org/correlation/command"
	"github.com/shortlink-org/correlation/config"
	"github.com/shortlink-org/correlation/correlation"
	"github.com/shortlink-org/correlation/logger"
	"github.com/shortlink-org/correlation/observability/metrics"
)

func newMonitoring(t *testing.T) (*metrics.Monitoring, logger.Logger) {
	t.Helper()

	log, err := logger.New(logger.Configuration{Level: logger.ERROR_LEVEL, Writer: io.Discard})
	require.NoError(t, err)

	cfg, err := config.New(config.WithPath(t.TempDir()))
	require.NoError(t, err)

	m, err := metrics.New(context.Background(), log, cfg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	return m, log
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)

	return rec.Code, string(body)
}

func TestCoreMetricsAreScraped(t *testing.T) {
	m, log := newMonitoring(t)

	core, err := correlation.New(log, correlation.WithSettings(correlation.Settings{}), correlation.WithMeterProvider(m.Metrics))
	require.NoError(t, err)

	_, err = core.RegisterPendingCommand("C1", command.CommandExecuted)
	require.NoError(t, err)
	require.True(t, core.NotifySendFailed("C1", "unreachable"))

	_, err = core.RegisterPendingProcess("P1")
	require.NoError(t, err)

	code, body := get(t, m.Handler, "/metrics")
	require.Equal(t, http.StatusOK, code)

	assert.Contains(t, body, "correlation_pending")
	assert.Contains(t, body, "correlation_resolutions")
	assert.Contains(t, body, `scope="process"`)
}

func TestHealthEndpoints(t *testing.T) {
	m, _ := newMonitoring(t)

	code, _ := get(t, m.Handler, "/live")
	assert.Equal(t, http.StatusOK, code)

	code, _ = get(t, m.Handler, "/ready")
	assert.Equal(t, http.StatusOK, code)

	m.AddReadinessCheck("core", func() error { return errors.New("not started") })

	code, _ = get(t, m.Handler, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
