package observability_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"TimeMarket/internal/observability"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadiness_NotReadyUntilSet(t *testing.T) {
	h := observability.NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadiness_FailingDependency(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetReady(true)
	h.AddCheck("postgres", func(ctx context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestReadiness_ReportsEveryDependency(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetReady(true)
	h.AddCheck("redis", func(context.Context) error { return nil })
	h.AddCheck("nats", func(context.Context) error { return nil })

	rep := h.Report(context.Background())
	assert.Equal(t, "ready", rep.Status)
	require.Len(t, rep.Dependencies, 2)
	assert.Equal(t, "nats", rep.Dependencies[0].Name)
	assert.True(t, rep.Dependencies[1].OK)

	h.AddCheck("nats", func(context.Context) error { return errors.New("no responders") })
	rep = h.Report(context.Background())
	assert.Equal(t, "degraded", rep.Status)
	require.Len(t, rep.Dependencies, 2, "re-registering a name replaces the probe")
	assert.Equal(t, "no responders", rep.Dependencies[0].Error)
}

func TestReadiness_ListenersSeeChanges(t *testing.T) {
	h := observability.NewHealthChecker()
	var seen []bool
	h.OnReadyChange(func(ready bool) { seen = append(seen, ready) })

	h.SetReady(true)
	h.SetReady(true)
	h.SetReady(false)
	assert.Equal(t, []bool{false, true, false}, seen)
}

func TestNewLoggerTo_WritesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := observability.NewLoggerTo(&buf, "core", zerolog.InfoLevel)
	log.Debug().Msg("hidden")
	log.Info().Int64("seq", 7).Msg("applied")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"component":"core"`)
	assert.Contains(t, out, `"seq":7`)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, observability.ParseLogLevel("warn"))
	assert.Equal(t, zerolog.DebugLevel, observability.ParseLogLevel(" DEBUG "))
	assert.Equal(t, zerolog.InfoLevel, observability.ParseLogLevel("bogus"))
	assert.Equal(t, zerolog.InfoLevel, observability.ParseLogLevel(""))
}
