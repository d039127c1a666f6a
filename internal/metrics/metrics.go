// Package metrics exposes daemon health as Prometheus collectors fed from
// the domain event bus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teng-lin/beamcode/internal/event"
)

// Metrics bundles the daemon's collectors around one registry.
type Metrics struct {
	registry *prometheus.Registry

	sessionsByState *prometheus.GaugeVec
	consumers       prometheus.Gauge
	messagesFanned  *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	adapterErrors   *prometheus.CounterVec
	relaunches      prometheus.Counter

	unsubs []func()
}

// New creates and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		sessionsByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "beamcode_sessions",
			Help: "Live sessions by lifecycle state.",
		}, []string{"state"}),
		consumers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "beamcode_consumers",
			Help: "Attached consumer connections.",
		}),
		messagesFanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beamcode_messages_fanned_out_total",
			Help: "Unified messages fanned out to consumers, by type.",
		}, []string{"type"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "beamcode_queue_depth",
			Help: "Outbound queue depth per session.",
		}, []string{"session"}),
		adapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beamcode_adapter_errors_total",
			Help: "Backend errors by taxonomy kind.",
		}, []string{"kind"}),
		relaunches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beamcode_cli_relaunches_total",
			Help: "CLI child relaunches driven by the reconnect policy.",
		}),
	}

	reg.MustRegister(m.sessionsByState, m.consumers, m.messagesFanned, m.queueDepth, m.adapterErrors, m.relaunches)
	return m
}

// Observe wires the collectors to the bus.
func (m *Metrics) Observe(bus *event.Bus) {
	// A session's first launch is not a relaunch.
	var launchedMu sync.Mutex
	launched := make(map[string]bool)

	m.unsubs = append(m.unsubs,
		bus.Subscribe(event.MessageFanout, func(e event.Event) {
			if t, ok := e.Data.(string); ok {
				m.messagesFanned.WithLabelValues(t).Inc()
			}
		}),
		bus.Subscribe(event.ConsumerConnected, func(e event.Event) {
			m.consumers.Inc()
		}),
		bus.Subscribe(event.ConsumerDisconnected, func(e event.Event) {
			m.consumers.Dec()
		}),
		bus.Subscribe(event.QueueChanged, func(e event.Event) {
			if depth, ok := e.Data.(int); ok {
				m.queueDepth.WithLabelValues(e.SessionID).Set(float64(depth))
			}
		}),
		bus.Subscribe(event.BackendError, func(e event.Event) {
			if kind, ok := e.Data.(string); ok {
				m.adapterErrors.WithLabelValues(kind).Inc()
			}
		}),
		bus.Subscribe(event.ProcessLaunched, func(e event.Event) {
			launchedMu.Lock()
			relaunch := launched[e.SessionID]
			launched[e.SessionID] = true
			launchedMu.Unlock()
			if relaunch {
				m.relaunches.Inc()
			}
		}),
		bus.Subscribe(event.SessionClosed, func(e event.Event) {
			m.queueDepth.DeleteLabelValues(e.SessionID)
			launchedMu.Lock()
			delete(launched, e.SessionID)
			launchedMu.Unlock()
		}),
	)
}

// SetSessionStates replaces the per-state session gauge.
func (m *Metrics) SetSessionStates(counts map[string]int) {
	m.sessionsByState.Reset()
	for state, n := range counts {
		m.sessionsByState.WithLabelValues(state).Set(float64(n))
	}
}

// Handler serves the Prometheus text exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Stop unsubscribes from the bus.
func (m *Metrics) Stop() {
	for _, unsub := range m.unsubs {
		unsub()
	}
	m.unsubs = nil
}
