package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/gsod-etl/internal/adapter/http"
	"github.com/couchcryptid/gsod-etl/internal/update"
)

type mockUpdater struct {
	err    error
	status update.Status
}

func (m *mockUpdater) CheckReadiness(_ context.Context) error { return m.err }

func (m *mockUpdater) Status() update.Status { return m.status }

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockUpdater{err: readyErr}, slog.Default())
}

func TestHealthzReturns200(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv := newTestServer(fmt.Errorf("no update has completed yet"))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no update has completed yet", body["error"])
}

func TestStatusReportsLastUpdate(t *testing.T) {
	finished := time.Date(2024, 6, 2, 3, 0, 0, 0, time.UTC)
	srv := httpadapter.NewServer(":0", &mockUpdater{status: update.Status{
		FinishedAt: finished,
		Outcome:    "partial",
		Last:       update.Summary{Years: []int{2024}, Files: 12, Rows: 4380, Failures: 1},
	}}, slog.Default())
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Running    bool      `json:"running"`
		FinishedAt time.Time `json:"finished_at"`
		Outcome    string    `json:"outcome"`
		Last       struct {
			Years    []int `json:"years"`
			Rows     int   `json:"rows"`
			Failures int   `json:"failures"`
		} `json:"last"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Running)
	assert.True(t, finished.Equal(body.FinishedAt))
	assert.Equal(t, "partial", body.Outcome)
	assert.Equal(t, []int{2024}, body.Last.Years)
	assert.Equal(t, 4380, body.Last.Rows)
	assert.Equal(t, 1, body.Last.Failures)
}

func TestStatusBeforeFirstRunOmitsFinishedAt(t *testing.T) {
	srv := newTestServer(errors.New("no update run has completed yet"))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "finished_at")
}

func TestUnknownRouteReturns404(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stations", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	runs := prometheus.NewCounter(prometheus.CounterOpts{Name: "gsod_test_update_runs_total", Help: "test"})
	prometheus.MustRegister(runs)
	t.Cleanup(func() { prometheus.Unregister(runs) })
	runs.Inc()

	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), "gsod_test_update_runs_total 1")
}
