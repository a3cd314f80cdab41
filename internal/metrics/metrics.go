package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mir00r/failover-controller/internal/domain"
)

// Metrics exposes the controller's Prometheus collectors on a private
// registry so the status API serves only this process's series.
type Metrics struct {
	registry *prometheus.Registry

	cpuPercent     prometheus.Gauge
	activeRole     *prometheus.GaugeVec
	ticks          prometheus.Counter
	sampleFailures prometheus.Counter
	transitions    *prometheus.CounterVec
}

// New creates and registers the controller metrics
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "failover_controller",
			Name:      "cpu_percent",
			Help:      "Most recent sampled CPU utilization of the observed host.",
		}),
		activeRole: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "failover_controller",
			Name:      "active_role",
			Help:      "Which backend role the controller currently believes is active (1 for active).",
		}, []string{"role"}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "failover_controller",
			Name:      "ticks_total",
			Help:      "Completed controller ticks.",
		}),
		sampleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "failover_controller",
			Name:      "sample_failures_total",
			Help:      "Ticks whose CPU sample was unavailable.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "failover_controller",
			Name:      "transitions_total",
			Help:      "Attempted backend transitions by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(m.cpuPercent, m.activeRole, m.ticks, m.sampleFailures, m.transitions)

	return m
}

// ObserveSample records a successful sample and the current active role
func (m *Metrics) ObserveSample(sample domain.Sample, active domain.BackendRole) {
	m.cpuPercent.Set(sample.CPUPercent)
	m.setActiveRole(active)
}

// ObserveSampleFailure records a tick whose sample was unavailable
func (m *Metrics) ObserveSampleFailure() {
	m.sampleFailures.Inc()
}

// ObserveTick records a completed tick
func (m *Metrics) ObserveTick() {
	m.ticks.Inc()
}

// ObserveTransition records an attempted transition by outcome
func (m *Metrics) ObserveTransition(record domain.TransitionRecord) {
	m.transitions.WithLabelValues(record.Outcome.String()).Inc()
}

// SetActiveRole publishes the controller's current belief
func (m *Metrics) SetActiveRole(active domain.BackendRole) {
	m.setActiveRole(active)
}

func (m *Metrics) setActiveRole(active domain.BackendRole) {
	for _, role := range []domain.BackendRole{domain.RolePrimary, domain.RoleBackup} {
		value := 0.0
		if role == active {
			value = 1.0
		}
		m.activeRole.WithLabelValues(role.String()).Set(value)
	}
}

// Handler returns the HTTP handler serving the private registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
