package http_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	httpapi "github.com/commonassist/casehub/internal/clientsync/http"
	"github.com/commonassist/casehub/internal/clientsync/registry"
	"github.com/commonassist/casehub/internal/clientsync/service"
	"github.com/commonassist/casehub/internal/clientsync/store/drivers/sqlite"
)

func newTestRouter(t *testing.T) (*httpapi.Router, service.Conns) {
	t.Helper()
	dir := t.TempDir()

	core, err := sqlite.Open("file:" + filepath.Join(dir, "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = core.Close() })

	housing, err := sqlite.Open("file:" + filepath.Join(dir, "housing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = housing.Close() })

	reg, err := registry.New(registry.File{Stores: []*registry.Store{
		{ID: "core", DSN: "seeded", Master: true},
		{ID: "housing", DSN: "seeded"},
	}})
	require.NoError(t, err)

	conns := service.Conns{"core": core, "housing": housing}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := httpapi.NewRouter("test", reg, conns, prometheus.NewRegistry(), logger)
	router.ApplyRoutes()
	return router, conns
}

func getHealth(t *testing.T, router *httpapi.Router, path string) (int, httpapi.HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body httpapi.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func TestLivezAlwaysOK(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	code, body := getHealth(t, router, "/livez")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body.Status)
	require.Equal(t, "test", body.Version)
	require.NotEmpty(t, body.Uptime)
	require.Empty(t, body.Checks)
}

func TestReadyzChecksEveryStore(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	code, body := getHealth(t, router, "/readyz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body.Status)
	require.Equal(t, map[string]string{"core": "ok", "housing": "ok"}, body.Checks)
}

func TestReadyzDegradesWhenStoreUnreachable(t *testing.T) {
	t.Parallel()
	router, conns := newTestRouter(t)
	require.NoError(t, conns["housing"].Close())

	code, body := getHealth(t, router, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "ok", body.Checks["core"])
	require.Contains(t, body.Checks["housing"], "error:")
}

func TestMetricsEndpointServes(t *testing.T) {
	t.Parallel()
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
