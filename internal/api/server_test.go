package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/loadprobe/internal/loadtest"
	"github.com/FairForge/loadprobe/internal/metrics"
)

type testServer struct {
	*httptest.Server
	manager *Manager
	hub     *Hub
}

func newTestServer(t *testing.T, gen func() loadtest.Generator) *testServer {
	t.Helper()
	// The websocket handler may outlive the test, so it must not log through t.
	logger := zap.NewNop()
	reg := prometheus.NewRegistry()
	hub := NewHub(logger)
	probe := metrics.NewProbeCollector(reg)

	manager := newTestManager(t, gen, func(c *ManagerConfig) {
		c.Observers = []loadtest.Observer{hub, probe}
	})
	srv := NewServer(":0", manager, hub, reg, metrics.NewHTTPCollector(reg, "api"), logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return &testServer{Server: ts, manager: manager, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(bytes.TrimSpace(raw)) > 0 && resp.Header.Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp.StatusCode, decoded
}

func TestServer_StartStopFlow(t *testing.T) {
	gate := make(chan struct{})
	ts := newTestServer(t, func() loadtest.Generator {
		return &fakeGenerator{passBursts: 100, gate: gate}
	})

	code, body := ts.do(t, http.MethodPost, "/api/v1/probe/start", `{"window":"1s"}`)
	require.Equal(t, http.StatusAccepted, code)
	id, _ := body["run_id"].(string)
	require.NotEmpty(t, id)

	code, body = ts.do(t, http.MethodPost, "/api/v1/probe/start", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body["error"], "already running")

	code, body = ts.do(t, http.MethodGet, "/api/v1/probe/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["running"])
	assert.Equal(t, id, body["run_id"])

	code, _ = ts.do(t, http.MethodPost, "/api/v1/probe/stop", "")
	assert.Equal(t, http.StatusAccepted, code)
	close(gate)
	ts.manager.Wait()

	code, body = ts.do(t, http.MethodGet, "/api/v1/probe/runs", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["count"])

	code, body = ts.do(t, http.MethodGet, "/api/v1/probe/runs/"+id, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "cancelled", body["stop_reason"])

	code, _ = ts.do(t, http.MethodPost, "/api/v1/probe/stop", "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestServer_StartErrors(t *testing.T) {
	ts := newTestServer(t, passing(0))

	code, body := ts.do(t, http.MethodPost, "/api/v1/probe/start", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid JSON body", body["error"])

	code, _ = ts.do(t, http.MethodPost, "/api/v1/probe/start", `{"initial_rate":-2}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = ts.do(t, http.MethodGet, "/api/v1/probe/runs/6f1c3a52-8f0e-4c55-9a57-0d3c1f1e2b7a", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServer_IdleStatus(t *testing.T) {
	ts := newTestServer(t, passing(0))

	code, body := ts.do(t, http.MethodGet, "/api/v1/probe/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, false, body["running"])

	code, body = ts.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_Metrics(t *testing.T) {
	ts := newTestServer(t, passing(1))

	_, err := ts.manager.Start(StartRequest{})
	require.NoError(t, err)
	ts.manager.Wait()
	ts.do(t, http.MethodGet, "/api/v1/probe/status", "")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(raw)
	assert.Contains(t, out, `loadprobe_bursts_total{verdict="pass"} 1`)
	assert.Contains(t, out, `loadprobe_searches_total{reason="exhausted"} 1`)
	assert.Contains(t, out, `route="/api/v1/probe/status"`)
}

func TestServer_EventStream(t *testing.T) {
	ts := newTestServer(t, passing(1))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/probe/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return ts.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	id, err := ts.manager.Start(StartRequest{})
	require.NoError(t, err)

	var bursts int
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var event loadtest.Event
		require.NoError(t, conn.ReadJSON(&event))

		if event.Type == loadtest.EventBurst {
			bursts++
		}
		if event.Type == loadtest.EventFinished {
			require.NotNil(t, event.Report)
			assert.Equal(t, id, event.Report.ID)
			assert.Equal(t, loadtest.StopExhausted, event.Report.StopReason)
			break
		}
	}
	assert.Equal(t, 4, bursts)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(loadtest.ErrAlreadyRunning))
	assert.Equal(t, http.StatusConflict, statusFor(ErrNotRunning))
	assert.Equal(t, http.StatusBadRequest, statusFor(ErrInvalidRequest))
	assert.Equal(t, http.StatusBadRequest, statusFor(loadtest.ErrInvalidRate))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}
