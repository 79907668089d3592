package diagnostic

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts diagnostic activity.
type Metrics struct {
	Runs        *prometheus.CounterVec
	Issues      prometheus.Counter
	Fixes       prometheus.Counter
	Restores    prometheus.Counter
	Backups     prometheus.Counter
	DeepSkipped prometheus.Counter
}

// NewMetrics creates the diagnostic collectors on reg. A nil reg builds
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dayplan", Subsystem: "diagnostic", Name: "runs_total",
			Help: "Diagnostic passes by kind (load, deep) and result.",
		}, []string{"kind", "result"}),
		Issues: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan", Subsystem: "diagnostic", Name: "issues_total",
			Help: "Problems detected in the planner collection.",
		}),
		Fixes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan", Subsystem: "diagnostic", Name: "fixes_total",
			Help: "Repairs applied to the planner collection.",
		}),
		Restores: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan", Subsystem: "diagnostic", Name: "restores_total",
			Help: "Restores of the planner collection from the backup store.",
		}),
		Backups: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan", Subsystem: "diagnostic", Name: "backups_total",
			Help: "Snapshots written to the backup store.",
		}),
		DeepSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan", Subsystem: "diagnostic", Name: "deep_validation_skipped_total",
			Help: "Deep validation triggers skipped because a pass was already running.",
		}),
	}
}
