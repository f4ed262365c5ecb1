package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the run level metrics.
type Metrics struct {
	runs   *prometheus.CounterVec
	phases *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sendplan_runs_total",
			Help: "Schedule generation runs by outcome",
		}, []string{"status"}),
		phases: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sendplan_phase_duration_seconds",
			Help:    "Duration of each generation phase",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"phase"}),
	}
}

func (m *Metrics) observePhase(phase string, started time.Time) {
	m.phases.WithLabelValues(phase).Observe(time.Since(started).Seconds())
}

func (m *Metrics) recordRun(status string) {
	m.runs.WithLabelValues(status).Inc()
}
