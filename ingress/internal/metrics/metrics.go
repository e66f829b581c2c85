// Package metrics exposes prometheus collectors for the call-control engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests can build isolated instances.
type Metrics struct {
	registry      *prometheus.Registry
	framesIn      *prometheus.CounterVec
	framesOut     *prometheus.CounterVec
	decodeErrors  prometheus.Counter
	unknownCalls  *prometheus.CounterVec
	connections   prometheus.Gauge
	rejected      *prometheus.CounterVec
	sessions      prometheus.Gauge
	dispatchTimes *prometheus.HistogramVec
}

// New registers every collector under namespace.
func New(namespace string) *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry:     r,
		framesIn:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "frames_received_total"}, []string{"kind"}),
		framesOut:    prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "frames_sent_total"}, []string{"type", "status"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "malformed_frames_total"}),
		unknownCalls: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "unknown_call_id_total"}, []string{"kind"}),
		connections:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "connections_active"}),
		rejected:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "connections_rejected_total"}, []string{"reason"}),
		sessions:     prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "sessions_active"}),
		dispatchTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	r.MustRegister(m.framesIn, m.framesOut, m.decodeErrors, m.unknownCalls, m.connections, m.rejected, m.sessions, m.dispatchTimes)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// FrameReceived counts a decoded inbound frame.
func (m *Metrics) FrameReceived(kind string) {
	m.framesIn.WithLabelValues(kind).Inc()
}

// FrameSent counts an outbound write attempt.
func (m *Metrics) FrameSent(frameType string, err error) {
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.framesOut.WithLabelValues(frameType, status).Inc()
}

// MalformedFrame counts a frame that failed to decode.
func (m *Metrics) MalformedFrame() {
	m.decodeErrors.Inc()
}

// UnknownCall counts a lookup miss.
func (m *Metrics) UnknownCall(kind string) {
	m.unknownCalls.WithLabelValues(kind).Inc()
}

// ConnectionOpened and ConnectionClosed track live connections.
func (m *Metrics) ConnectionOpened() { m.connections.Inc() }

func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

// ConnectionRejected counts a refused handshake.
func (m *Metrics) ConnectionRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// SetSessions records the registry size.
func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}

// ObserveDispatch records how long one dispatch took.
func (m *Metrics) ObserveDispatch(kind string, seconds float64) {
	m.dispatchTimes.WithLabelValues(kind).Observe(seconds)
}
