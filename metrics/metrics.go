// Package metrics exposes Prometheus instrumentation for the scheduling
// engine. All methods are nil-safe so instrumentation stays optional.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	sweeps           prometheus.Counter
	promoted         prometheus.Counter
	demoted          prometheus.Counter
	timeoutRecovered prometheus.Counter
	timeoutFailed    prometheus.Counter
	assignments      *prometheus.CounterVec
	claimConflicts   prometheus.Counter
	escalations      *prometheus.CounterVec
	enginesActive    prometheus.Gauge
}

// New creates and registers the engine collectors. Pass
// prometheus.DefaultRegisterer for the process-global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Name:      "sweeps_total",
			Help:      "Maintenance sweeps run.",
		}),
		promoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Name:      "tasks_promoted_total",
			Help:      "Tasks promoted to a running slot by the concurrency sweep.",
		}),
		demoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Name:      "tasks_demoted_total",
			Help:      "Assigned tasks demoted to queued by the concurrency sweep.",
		}),
		timeoutRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Name:      "timeouts_recovered_total",
			Help:      "Timed-out tasks requeued with a backoff.",
		}),
		timeoutFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Name:      "timeouts_failed_total",
			Help:      "Timed-out tasks that exhausted their retries.",
		}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Name:      "assignments_total",
			Help:      "Successful task assignments.",
		}, []string{"degraded"}),
		claimConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Name:      "claim_conflicts_total",
			Help:      "Claim attempts lost to a concurrent claimant.",
		}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatchkit",
			Name:      "escalations_total",
			Help:      "Human or specialist escalations by kind.",
		}, []string{"kind"}),
		enginesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dispatchkit",
			Name:      "engines_active",
			Help:      "Agent engines currently started.",
		}),
	}

	reg.MustRegister(m.sweeps, m.promoted, m.demoted, m.timeoutRecovered,
		m.timeoutFailed, m.assignments, m.claimConflicts, m.escalations,
		m.enginesActive)
	return m
}

// SweepRun counts one maintenance sweep.
func (m *Metrics) SweepRun() {
	if m == nil {
		return
	}
	m.sweeps.Inc()
}

// TasksPromoted counts sweep promotions.
func (m *Metrics) TasksPromoted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.promoted.Add(float64(n))
}

// TasksDemoted counts sweep demotions.
func (m *Metrics) TasksDemoted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.demoted.Add(float64(n))
}

// TimeoutRecovered counts a timed-out task requeued for retry.
func (m *Metrics) TimeoutRecovered() {
	if m == nil {
		return
	}
	m.timeoutRecovered.Inc()
}

// TimeoutFailed counts a timed-out task converted to terminal failure.
func (m *Metrics) TimeoutFailed() {
	if m == nil {
		return
	}
	m.timeoutFailed.Inc()
}

// Assignment counts a successful assignment.
func (m *Metrics) Assignment(degraded bool) {
	if m == nil {
		return
	}
	label := "false"
	if degraded {
		label = "true"
	}
	m.assignments.WithLabelValues(label).Inc()
}

// ClaimConflict counts a lost claim race.
func (m *Metrics) ClaimConflict() {
	if m == nil {
		return
	}
	m.claimConflicts.Inc()
}

// Escalation counts a human_required or assist_required escalation.
func (m *Metrics) Escalation(kind string) {
	if m == nil {
		return
	}
	m.escalations.WithLabelValues(kind).Inc()
}

// EngineStarted tracks a newly started engine.
func (m *Metrics) EngineStarted() {
	if m == nil {
		return
	}
	m.enginesActive.Inc()
}

// EngineStopped tracks an engine eviction or disposal.
func (m *Metrics) EngineStopped() {
	if m == nil {
		return
	}
	m.enginesActive.Dec()
}
