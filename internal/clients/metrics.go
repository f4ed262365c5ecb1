package clients

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the collaborator call metrics. A nil registerer yields
// working but unregistered collectors.
type Metrics struct {
	calls       *prometheus.CounterVec
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sendplan_collaborator_calls_total",
			Help: "Collaborator calls by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sendplan_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		}, []string{"endpoint"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sendplan_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		}, []string{"endpoint", "from", "to"}),
	}
}

func (m *Metrics) recordCall(endpoint, outcome string) {
	m.calls.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) recordTransition(endpoint string, from, to BreakerState) {
	m.transitions.WithLabelValues(endpoint, from.String(), to.String()).Inc()
	m.state.WithLabelValues(endpoint).Set(float64(to))
}
