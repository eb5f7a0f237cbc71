package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/handsfree-vad/internal/config"
	"github.com/skypro1111/handsfree-vad/internal/metrics"
	"github.com/skypro1111/handsfree-vad/internal/session"
	"github.com/skypro1111/handsfree-vad/internal/vad"
)

type fakeEngine struct {
	mu        sync.Mutex
	calls     []string
	startErr  error
	profile   *vad.Profile
	handsFree bool
}

func (e *fakeEngine) record(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, name)
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) StartCalibration(ctx context.Context) error {
	e.record("calibrate")
	return nil
}

func (e *fakeEngine) StartHandsFree(ctx context.Context) error {
	e.record("handsfree_on")
	if e.startErr != nil {
		return e.startErr
	}
	e.mu.Lock()
	e.handsFree = true
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) StopHandsFree(ctx context.Context) error {
	e.record("handsfree_off")
	e.mu.Lock()
	e.handsFree = false
	e.mu.Unlock()
	return nil
}

func (e *fakeEngine) Snapshot() session.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	status := session.StatusIdle
	if e.handsFree {
		status = session.StatusListening
	}
	return session.Snapshot{Status: status, HandsFree: e.handsFree, Profile: e.profile}
}

func (e *fakeEngine) GetStats() session.Stats {
	return session.Stats{Utterances: 3}
}

func (e *fakeEngine) setProfile(p vad.Profile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.profile = &p
}

func (e *fakeEngine) Profile() (vad.Profile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.profile == nil {
		return vad.Profile{}, false
	}
	return *e.profile, true
}

type testServer struct {
	*httptest.Server
	engine *fakeEngine
	hub    *Hub
}

func newTestServer(t *testing.T, engine *fakeEngine) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Backend.APIKey = "secret-key"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	hub := NewHub(logger)
	hub.Attach(engine)

	h := NewHTTPServer(cfg, logger, engine, nil, hub, reg, metrics.NewMetrics(reg))
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)

	return &testServer{Server: srv, engine: engine, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path string) (*http.Response, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, s.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})

	resp, body := s.do(t, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["status"])
	assert.Equal(t, false, body["hands_free"])

	resp, _ = s.do(t, http.MethodPost, "/status")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestProfileEndpoint(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(t, engine)

	resp, body := s.do(t, http.MethodGet, "/profile")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "calibrate first")

	engine.setProfile(vad.Profile{NoiseFloor: 0.01, VoiceMean: 0.2, PitchMin: 110, PitchMax: 180})
	resp, body = s.do(t, http.MethodGet, "/profile")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.2, body["voiceMean"])
	assert.Equal(t, 110.0, body["pitchMin"])
}

func TestControlEndpoints(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(t, engine)

	resp, _ := s.do(t, http.MethodPost, "/calibrate")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/handsfree")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "listening", body["status"])

	resp, body = s.do(t, http.MethodDelete, "/handsfree")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["status"])

	resp, _ = s.do(t, http.MethodGet, "/handsfree")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	assert.Equal(t, []string{"calibrate", "handsfree_on", "handsfree_off"}, engine.Calls())
}

func TestHandsFreeWithoutProfile(t *testing.T) {
	s := newTestServer(t, &fakeEngine{startErr: session.ErrNotCalibrated})

	resp, body := s.do(t, http.MethodPost, "/handsfree")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["error"], "calibrate first")
}

func TestConfigEndpointRedactsSecrets(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})

	resp, body := s.do(t, http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	backend, ok := body["backend"].(map[string]interface{})
	require.True(t, ok, "backend section missing: %v", body)
	assert.Equal(t, "***", backend["api_key"])
	assert.Equal(t, "http://localhost:8000", backend["url"])
}

func TestStatsAndHealth(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})

	resp, body := s.do(t, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	engine, ok := body["engine"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 3.0, engine["utterances"])

	resp, body = s.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeEngine{})

	s.do(t, http.MethodGet, "/status")
	s.do(t, http.MethodGet, "/missing")

	resp, err := http.Get(s.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `vadd_http_requests_total{endpoint="/status",method="GET",status_code="200"} 1`)
	assert.Contains(t, string(data), `vadd_http_errors_total{endpoint="/",error_type="client_error",method="GET"} 1`)
}

func dialWS(t *testing.T, s *testServer) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketStream(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(t, engine)
	conn := dialWS(t, s)

	msg := readMessage(t, conn)
	require.Equal(t, "snapshot", msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, session.StatusIdle, msg.Snapshot.Status)

	require.Eventually(t, func() bool { return s.hub.Stats().Clients == 1 }, 2*time.Second, 10*time.Millisecond)

	s.hub.Notify(session.Event{Kind: session.EventStatus, Status: session.StatusListening, Text: session.TextListening})
	msg = readMessage(t, conn)
	require.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, session.StatusListening, msg.Event.Status)
	assert.Equal(t, "Listening…", msg.Event.Text)
}

func TestWebSocketCommands(t *testing.T) {
	engine := &fakeEngine{}
	s := newTestServer(t, engine)
	conn := dialWS(t, s)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(Command{Type: "calibrate"}))
	require.NoError(t, conn.WriteJSON(Command{Type: "reboot"}))

	msg := readMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, `unknown command "reboot"`)
	assert.Equal(t, []string{"calibrate"}, engine.Calls())
}
