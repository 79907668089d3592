package mutation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts pipeline activity.
type Metrics struct {
	Proposals     *prometheus.CounterVec
	Operations    *prometheus.CounterVec
	Retries       prometheus.Counter
	Verifications *prometheus.CounterVec
}

// NewMetrics creates the pipeline collectors on reg. A nil reg builds
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Proposals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dayplan", Subsystem: "mutation", Name: "proposals_total",
			Help: "Proposals by decision: submitted, invalid, approved, rejected.",
		}, []string{"state"}),
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dayplan", Subsystem: "mutation", Name: "operations_total",
			Help: "Operations by type and outcome.",
		}, []string{"type", "outcome"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan", Subsystem: "mutation", Name: "apply_retries_total",
			Help: "Apply attempts beyond the first.",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dayplan", Subsystem: "mutation", Name: "verifications_total",
			Help: "Post-apply persistence checks by result.",
		}, []string{"result"}),
	}
}
