package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCondition("combined", time.Millisecond)
		m.ObserveClassifier("face", StatusOK, time.Millisecond)
		m.ObserveFusion("joy", "face")
		m.ObserveResponse("model")
		m.ObserveMembership(1, 2)
		m.ObserveBroadcast("emotion_broadcast", 1, 1)
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.FrameThrottled()
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCountersAndGauges(t *testing.T) {
	m := New()

	m.ObserveBroadcast("emotion_broadcast", 3, 1)
	m.ObserveBroadcast("emotion_broadcast", 2, 0)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.broadcastEvents.WithLabelValues("emotion_broadcast", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcastEvents.WithLabelValues("emotion_broadcast", "dropped")))

	m.ObserveMembership(2, 5)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.participantsActive))

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsActive))

	m.ObserveClassifier("text", StatusUnavailable, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.classifierRequests.WithLabelValues("text", StatusUnavailable)))

	m.FrameThrottled()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesThrottled))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveFusion("sadness", "text")
	m.ObserveResponse("fallback")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `therapist_fused_emotions_total{emotion="sadness",source="text"} 1`)
	assert.Contains(t, string(body), `therapist_responses_total{origin="fallback"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
