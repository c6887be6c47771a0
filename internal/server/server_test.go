// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pnp-device.
//
// go-pnp-device is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pnp-device/pkg/correlation"
	"github.com/jeremyhahn/go-pnp-device/pkg/health"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
	"github.com/jeremyhahn/go-pnp-device/pkg/metrics"
	"github.com/jeremyhahn/go-pnp-device/pkg/ratelimit"
)

func newTestServer(t *testing.T, cfg Config, checker *health.Checker) *Server {
	t.Helper()
	cfg.Logger = logging.Discard()
	s, err := New(cfg, checker)
	require.NoError(t, err)
	t.Cleanup(func() { s.limiter.Stop() })
	return s
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestReadiness(t *testing.T) {
	checker := health.NewChecker()
	var hb health.Heartbeat
	checker.RegisterCheck("poll_loop", hb.Check(time.Minute))

	s := newTestServer(t, Config{HealthEnabled: true}, checker)

	rec := get(t, s.Handler(), DefaultHealthPath)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(correlation.CorrelationIDHeader))

	checker.MarkStarted()
	hb.Beat()
	rec = get(t, s.Handler(), DefaultHealthPath)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, health.StatusHealthy, resp.Status)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, "poll_loop", resp.Checks[0].Name)
	require.NotNil(t, resp.RateLimit)
	assert.Equal(t, false, resp.RateLimit["enabled"])
}

func TestLiveness(t *testing.T) {
	s := newTestServer(t, Config{HealthEnabled: true}, nil)
	rec := get(t, s.Handler(), LivenessPath)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, health.StatusHealthy, resp.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Enable()
	metrics.RecordCommand("", "reboot", 200)

	s := newTestServer(t, Config{MetricsEnabled: true}, nil)
	rec := get(t, s.Handler(), DefaultMetricsPath)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pnp_commands_total")

	// Health routes are not mounted.
	assert.Equal(t, http.StatusNotFound, get(t, s.Handler(), DefaultHealthPath).Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{
		HealthEnabled: true,
		RateLimit:     &ratelimit.Config{Enabled: true, PerSecond: 0.001, Burst: 2},
	}, nil)

	assert.Equal(t, http.StatusOK, get(t, s.Handler(), LivenessPath).Code)
	assert.Equal(t, http.StatusOK, get(t, s.Handler(), LivenessPath).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, s.Handler(), LivenessPath).Code)
}

func TestReadinessReportsRateLimit(t *testing.T) {
	s := newTestServer(t, Config{
		HealthEnabled: true,
		RateLimit:     &ratelimit.Config{Enabled: true, PerSecond: 100, Burst: 5},
	}, nil)

	rec := get(t, s.Handler(), DefaultHealthPath)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.RateLimit)
	assert.Equal(t, true, resp.RateLimit["enabled"])
	assert.EqualValues(t, 5, resp.RateLimit["burst"])
	assert.EqualValues(t, 1, resp.RateLimit["active_keys"])
}

func TestStartLogsRateLimit(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New("info", "json", &buf)
	require.NoError(t, err)

	s, err := New(Config{
		Address:       "127.0.0.1:0",
		HealthEnabled: true,
		RateLimit:     &ratelimit.Config{Enabled: true, PerSecond: 10, Burst: 1},
		Logger:        logger,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	assert.Contains(t, buf.String(), `"rate_limit":true`)
}

func TestRecovery(t *testing.T) {
	s := newTestServer(t, Config{HealthEnabled: true}, nil)
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := get(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartShutdown(t *testing.T) {
	s := newTestServer(t, Config{Address: "127.0.0.1:0", HealthEnabled: true}, nil)
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + LivenessPath)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"healthy"`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestStartListenError(t *testing.T) {
	s := newTestServer(t, Config{Address: "256.0.0.1:bad", HealthEnabled: true}, nil)
	assert.Error(t, s.Start())
}
