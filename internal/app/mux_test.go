package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fansync/fansync/internal/client"
	"github.com/fansync/fansync/internal/config"
	"github.com/fansync/fansync/internal/metrics"

	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func newMux(t *testing.T, mutate func(*config.Config)) *http.ServeMux {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c := client.New(cfg, zerolog.Nop(), metrics.NewCollector())
	t.Cleanup(func() { _ = c.Disconnect() })
	return Mux(cfg, c)
}

func TestMuxHealthNotConnected(t *testing.T) {
	t.Parallel()
	mux := newMux(t, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["connected"])
	require.Equal(t, "idle", body["state"])
}

func TestMuxDiagnosticsDisabledByDefault(t *testing.T) {
	t.Parallel()
	mux := newMux(t, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/diagnostics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMuxDiagnosticsEnabled(t *testing.T) {
	t.Parallel()
	mux := newMux(t, func(cfg *config.Config) { cfg.Debug.Enabled = true })

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/diagnostics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var diag client.Diagnostics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &diag))
	require.Equal(t, "idle", diag.State)
	require.NotEmpty(t, diag.ClientID)
}

func TestMuxMetricsEndpoint(t *testing.T) {
	t.Parallel()
	mux := newMux(t, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
