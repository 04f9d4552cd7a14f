// Package metrics exposes Prometheus instrumentation for the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "greenlight"

// Metrics holds the orchestrator's Prometheus collectors. A nil *Metrics is
// valid and records nothing, so wiring stays optional in tests and dry runs.
type Metrics struct {
	deployments     *prometheus.CounterVec
	rolloutPolls    prometheus.Counter
	rolloutDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Deployment attempts by final phase.",
		}, []string{"final_phase"}),
		rolloutPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollout_polls_total",
			Help:      "Control plane polls performed by the rollout monitor.",
		}),
		rolloutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rollout_duration_seconds",
			Help:      "Wall-clock duration of deployment attempts.",
			Buckets:   prometheus.ExponentialBuckets(15, 2, 8), // 15s .. 32m
		}),
	}
	reg.MustRegister(m.deployments, m.rolloutPolls, m.rolloutDuration)
	return m
}

// DeploymentFinished counts one finished attempt under its final phase.
func (m *Metrics) DeploymentFinished(finalPhase string, took time.Duration) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(finalPhase).Inc()
	m.rolloutDuration.Observe(took.Seconds())
}

// RolloutPoll counts one monitor poll.
func (m *Metrics) RolloutPoll() {
	if m == nil {
		return
	}
	m.rolloutPolls.Inc()
}
