package engine

import (
	"tradeloop/internal/execution"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's prometheus instruments. A nil *Metrics records
// nothing.
type Metrics struct {
	transitions *prometheus.CounterVec
	events      *prometheus.CounterVec
	eventErrors *prometheus.CounterVec
	requests    *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_transitions_total",
			Help: "Engine phase transitions.",
		}, []string{"from", "to"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_events_total",
			Help: "Items consumed from the event feed, by kind.",
		}, []string{"kind"}),
		eventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_event_errors_total",
			Help: "Recoverable per-event errors, by phase.",
		}, []string{"phase"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradeloop_execution_requests_total",
			Help: "Execution requests by origin, kind and result.",
		}, []string{"origin", "kind", "result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradeloop_execution_queue_depth",
			Help: "Execution requests queued and not yet taken by the venue.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.events, m.eventErrors, m.requests, m.queueDepth)
	}
	return m
}

func (m *Metrics) transition(from, to Phase) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (m *Metrics) event(kind string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) eventError(phase Phase) {
	if m == nil {
		return
	}
	m.eventErrors.WithLabelValues(phase.String()).Inc()
}

func (m *Metrics) request(req execution.Request, result string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(req.Origin), string(req.Kind), result).Inc()
}

func (m *Metrics) queued(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
