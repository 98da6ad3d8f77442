package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-therapist/backend/internal/config"
	"github.com/zhouzirui/z-therapist/backend/internal/imaging"
	"github.com/zhouzirui/z-therapist/backend/internal/metrics"
	"github.com/zhouzirui/z-therapist/backend/internal/service/classifier"
	"github.com/zhouzirui/z-therapist/backend/internal/service/conversation"
	"github.com/zhouzirui/z-therapist/backend/internal/service/orchestrator"
	"github.com/zhouzirui/z-therapist/backend/internal/session"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	m := metrics.New()
	cond, err := imaging.NewConditioner(imaging.StrategyCombined, imaging.DefaultParams())
	require.NoError(t, err)
	store := conversation.NewStore()
	registry := session.NewRegistry(m)
	orch, err := orchestrator.New(orchestrator.Deps{
		Conditioner: cond,
		Classifiers: classifier.NewGuard(nil, classifier.Heuristic{}, time.Second, m),
		Store:       store,
		Registry:    registry,
		Metrics:     m,
	})
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}, MaxBodyBytes: 1 << 20},
		Realtime: config.RealtimeConfig{
			FrameRate: 10, FrameBurst: 5, SendBuffer: 8,
			PingInterval: time.Second, ReadTimeout: 2 * time.Second, MaxMessageBytes: 1 << 20,
		},
	}
	return NewRouter(Deps{
		Config:       cfg,
		Orchestrator: orch,
		Store:        store,
		Registry:     registry,
		Conditioner:  cond,
		Metrics:      m,
	})
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "therapist_websocket_connections_active")
}

func TestProcessTextEndToEndUsesFallback(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/process_text", strings.NewReader(`{"text":"I feel so sad and lonely"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body orchestrator.TextResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "sadness", string(body.TextEmotion))
	assert.Equal(t, "sadness", string(body.FusedEmotion))
	assert.NotEmpty(t, body.AIResponse)

	conv, err := http.Get(srv.URL + "/api/conversation")
	require.NoError(t, err)
	defer conv.Body.Close()
	raw, err := io.ReadAll(conv.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "I feel so sad and lonely")
}

func TestUnknownSessionIs404(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
