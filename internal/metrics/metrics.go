// Package metrics exposes the backend's Prometheus collectors. Every method is
// safe on a nil *Metrics so components can run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "therapist"

// Classifier call outcomes.
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
	StatusNoFace      = "no_face"
)

// Metrics 持有所有指标及其专属注册表。
type Metrics struct {
	registry *prometheus.Registry

	conditionDuration  *prometheus.HistogramVec
	classifierRequests *prometheus.CounterVec
	classifierDuration *prometheus.HistogramVec
	fusedEmotions      *prometheus.CounterVec
	responses          *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	participantsActive prometheus.Gauge
	connectionsActive  prometheus.Gauge
	broadcastEvents    *prometheus.CounterVec
	framesThrottled    prometheus.Counter
}

// New builds the collectors and registers them, together with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		conditionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "frame_condition_duration_seconds",
				Help:      "Time spent conditioning one frame",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"strategy"},
		),
		classifierRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classifier_requests_total",
				Help:      "Classifier calls by outcome",
			},
			[]string{"classifier", "status"},
		),
		classifierDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "classifier_duration_seconds",
				Help:      "Classifier call latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"classifier"},
		),
		fusedEmotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fused_emotions_total",
				Help:      "Fused emotions by label and winning input",
			},
			[]string{"emotion", "source"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "responses_total",
				Help:      "Therapist responses by origin",
			},
			[]string{"origin"},
		),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions with at least one participant",
		}),
		participantsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "participants_active",
			Help:      "Connections joined to a session",
		}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Open realtime connections",
		}),
		broadcastEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcast_events_total",
				Help:      "Fan-out deliveries by event and outcome",
			},
			[]string{"event", "outcome"}, // outcome: delivered, dropped
		),
		framesThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_throttled_total",
			Help:      "Frames rejected by the per-connection rate limiter",
		}),
	}

	m.registry.MustRegister(
		m.conditionDuration,
		m.classifierRequests,
		m.classifierDuration,
		m.fusedEmotions,
		m.responses,
		m.sessionsActive,
		m.participantsActive,
		m.connectionsActive,
		m.broadcastEvents,
		m.framesThrottled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// ObserveCondition records one conditioning run.
func (m *Metrics) ObserveCondition(strategy string, d time.Duration) {
	if m == nil {
		return
	}
	m.conditionDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// ObserveClassifier records one classifier call.
func (m *Metrics) ObserveClassifier(classifier, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.classifierRequests.WithLabelValues(classifier, status).Inc()
	m.classifierDuration.WithLabelValues(classifier).Observe(d.Seconds())
}

// ObserveFusion counts a fused emotion and which input decided it.
func (m *Metrics) ObserveFusion(emotion, source string) {
	if m == nil {
		return
	}
	m.fusedEmotions.WithLabelValues(emotion, source).Inc()
}

// ObserveResponse counts a generated reply; origin is "model" or "fallback".
func (m *Metrics) ObserveResponse(origin string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(origin).Inc()
}

// ObserveMembership sets the session and participant gauges.
func (m *Metrics) ObserveMembership(sessions, participants int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(sessions))
	m.participantsActive.Set(float64(participants))
}

// ObserveBroadcast counts the outcome of one fan-out.
func (m *Metrics) ObserveBroadcast(event string, delivered, dropped int) {
	if m == nil {
		return
	}
	if delivered > 0 {
		m.broadcastEvents.WithLabelValues(event, "delivered").Add(float64(delivered))
	}
	if dropped > 0 {
		m.broadcastEvents.WithLabelValues(event, "dropped").Add(float64(dropped))
	}
}

// ConnectionOpened increments the open connection gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsActive.Inc()
}

// ConnectionClosed decrements the open connection gauge.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// FrameThrottled counts a frame rejected by rate limiting.
func (m *Metrics) FrameThrottled() {
	if m == nil {
		return
	}
	m.framesThrottled.Inc()
}
