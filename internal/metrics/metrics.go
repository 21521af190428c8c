// Package metrics exposes interlock and safety loop state to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/monitor"
)

const namespace = "wheelguard"

var allStates = []interlock.StateKind{
	interlock.KindSafeTorque,
	interlock.KindHighTorqueChallenge,
	interlock.KindAwaitingPhysicalAck,
	interlock.KindHighTorqueActive,
	interlock.KindFaulted,
}

// Metrics owns a private registry and the wheelguard collectors.
type Metrics struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	faults      *prometheus.CounterVec
	challenges  *prometheus.CounterVec
	revocations *prometheus.CounterVec
	state       *prometheus.GaugeVec
	events      prometheus.Counter
}

// New registers the event-driven collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Interlock state transitions.",
		}, []string{"from", "to"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "faults_total",
			Help:      "Faults reported to the interlock, by type and whether torque was cut.",
		}, []string{"fault", "critical"}),
		challenges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_total",
			Help:      "High-torque challenge outcomes.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_revocations_total",
			Help:      "Device tokens revoked by faults, by reason.",
		}, []string{"reason"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "1 for the current interlock state, 0 otherwise.",
		}, []string{"state"}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_observed_total",
			Help:      "Interlock events seen by the recorder.",
		}),
	}

	m.registry.MustRegister(m.transitions, m.faults, m.challenges, m.revocations, m.state, m.events)
	m.setState(interlock.KindSafeTorque)
	return m
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe updates counters for one interlock event.
func (m *Metrics) Observe(ev interlock.Event) {
	m.events.Inc()

	switch ev.Type {
	case interlock.EventTransition:
		m.transitions.WithLabelValues(string(ev.From), string(ev.To)).Inc()
		m.setState(ev.To)
	case interlock.EventFault:
		m.faults.WithLabelValues(string(ev.Fault), "true").Inc()
	case interlock.EventWarning:
		m.faults.WithLabelValues(string(ev.Fault), "false").Inc()
	case interlock.EventChallengeIssued:
		m.challenges.WithLabelValues("issued").Inc()
	case interlock.EventConfirmed:
		m.challenges.WithLabelValues("confirmed").Inc()
	case interlock.EventRejected:
		m.challenges.WithLabelValues("rejected").Inc()
	case interlock.EventCancelled:
		m.challenges.WithLabelValues("cancelled").Inc()
	case interlock.EventExpired:
		m.challenges.WithLabelValues("expired").Inc()
	case interlock.EventRevoked:
		m.revocations.WithLabelValues(ev.Detail).Inc()
	}
}

func (m *Metrics) setState(current interlock.StateKind) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
}

// RegisterInterlock adds gauges read from the interlock's lock-free
// snapshot at scrape time.
func (m *Metrics) RegisterInterlock(il *interlock.Interlock) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "torque_ceiling_nm",
			Help:      "Torque ceiling implied by the current state.",
		}, func() float64 { return float64(il.CurrentLimit()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "device_tokens",
			Help:      "Devices holding a live high-torque token.",
		}, func() float64 { return float64(len(il.Tokens())) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Interlock events dropped on a full buffer.",
		}, func() float64 { return float64(il.DroppedEvents()) }),
	)
}

// RegisterLoop adds counters for the safety loop.
func (m *Metrics) RegisterLoop(stats func() monitor.Stats) {
	counter := func(name, help string, get func(monitor.Stats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(get(stats())) })
	}

	m.registry.MustRegister(
		counter("ticks_total", "Safety loop ticks.", func(s monitor.Stats) uint64 { return s.Ticks }),
		counter("frames_total", "Telemetry frames processed.", func(s monitor.Stats) uint64 { return s.Frames }),
		counter("missed_polls_total", "Ticks with no telemetry.", func(s monitor.Stats) uint64 { return s.MissedPoll }),
		counter("overruns_total", "Ticks that took longer than the tick interval.", func(s monitor.Stats) uint64 { return s.Overruns }),
		counter("clamped_total", "Torque commands reduced to the ceiling.", func(s monitor.Stats) uint64 { return s.Clamped }),
	)
}
