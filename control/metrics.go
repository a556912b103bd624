// File: control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus collectors for the socket facade.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hioload_mq"

// Metrics groups every collector exported by the bridge.
type Metrics struct {
	ticks            prometheus.Counter
	delivered        *prometheus.CounterVec
	receiveFailures  *prometheus.CounterVec
	listenerFailures *prometheus.CounterVec
	decodeSkips      prometheus.Counter
	endpoints        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Dispatch loop passes executed.",
		}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages drained by the dispatch loop and handed to listeners.",
		}, []string{"socket"}),
		receiveFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_failures_total",
			Help:      "Poll or receive failures reported by the gateway.",
		}, []string{"socket"}),
		listenerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_failures_total",
			Help:      "Listener invocations that returned an error or panicked.",
		}, []string{"channel"}),
		decodeSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "text_decode_skips_total",
			Help:      "Messages not forwarded to text listeners because they are not valid UTF-8.",
		}),
		endpoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "endpoints",
			Help:      "Endpoints currently registered.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.delivered, m.receiveFailures, m.listenerFailures, m.decodeSkips, m.endpoints)
	}
	return m
}

// Tick counts one dispatch pass.
func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

// Delivered counts one message drained from socket.
func (m *Metrics) Delivered(socket string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(socket).Inc()
}

// ReceiveFailed counts one gateway failure on socket.
func (m *Metrics) ReceiveFailed(socket string) {
	if m == nil {
		return
	}
	m.receiveFailures.WithLabelValues(socket).Inc()
}

// ListenerFailed counts one failed listener on channel (binary, text, error).
func (m *Metrics) ListenerFailed(channel string) {
	if m == nil {
		return
	}
	m.listenerFailures.WithLabelValues(channel).Inc()
}

// DecodeSkipped counts one message dropped from the text channel.
func (m *Metrics) DecodeSkipped() {
	if m == nil {
		return
	}
	m.decodeSkips.Inc()
}

// SetEndpoints publishes the registry size.
func (m *Metrics) SetEndpoints(n int) {
	if m == nil {
		return
	}
	m.endpoints.Set(float64(n))
}
