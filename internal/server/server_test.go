package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearth-engine/hearth/internal/app"
	"github.com/hearth-engine/hearth/internal/capability"
	"github.com/hearth-engine/hearth/internal/infrastructure/config"
	"github.com/hearth-engine/hearth/internal/kernel"
)

func testServer(t *testing.T) (*Server, *kernel.Kernel) {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit.Enabled = false

	k := kernel.New(cfg, nil, nil)
	require.NoError(t, k.Start())
	return New(cfg, k, nil), k
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func loadApp(t *testing.T, k *kernel.Kernel, name string) app.App {
	t.Helper()
	a, err := k.Apps().Load(app.Manifest{
		Name:         name,
		Capabilities: []capability.Kind{capability.CreateEntity},
		MaxRestarts:  3,
	}, nil)
	require.NoError(t, err)
	return *a
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(t, s, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(t, s, "GET", "/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status struct {
			State   string `json:"state"`
			Backend string `json:"backend"`
		} `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status.State)
	assert.Equal(t, "software", resp.Status.Backend)
}

func TestAppEndpoints(t *testing.T) {
	s, k := testServer(t)
	a := loadApp(t, k, "calculator")

	w := doRequest(t, s, "GET", "/apps", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "calculator")

	w = doRequest(t, s, "GET", "/apps/"+a.ID.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, "GET", "/apps/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, s, "DELETE", "/apps/"+a.ID.String(), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, k.Apps().Count())

	w = doRequest(t, s, "DELETE", "/apps/"+a.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPauseResumeEndpoints(t *testing.T) {
	s, k := testServer(t)

	w := doRequest(t, s, "POST", "/kernel/pause", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paused", string(k.State()))

	// Pausing twice conflicts.
	w = doRequest(t, s, "POST", "/kernel/pause", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, s, "POST", "/kernel/resume", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", string(k.State()))
}

func TestBackendEndpoints(t *testing.T) {
	s, _ := testServer(t)

	w := doRequest(t, s, "GET", "/backend", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "software")

	w = doRequest(t, s, "POST", "/backend/force", `{"backend":"software"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, "POST", "/backend/force", `{"backend":"vulkan"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, s, "POST", "/backend/force", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, k := testServer(t)
	_, err := k.BeginFrame(0.016)
	require.NoError(t, err)
	k.EndFrame()

	w := doRequest(t, s, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hearth_frames_total")
}

func TestRecoveryEndpoint(t *testing.T) {
	s, _ := testServer(t)
	w := doRequest(t, s, "GET", "/recovery", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"panic_count":0`)
}
