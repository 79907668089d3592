package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cache and physical-write activity.
type Metrics struct {
	PhysicalWrites *prometheus.CounterVec
	WriteFailures  *prometheus.CounterVec
	Coalesced      prometheus.Counter
	Flushes        prometheus.Counter
	Optimizations  prometheus.Counter
	Hits           prometheus.Counter
	Misses         prometheus.Counter
}

// NewMetrics registers the cache collectors on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PhysicalWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dayplan",
			Subsystem: "cache",
			Name:      "physical_writes_total",
			Help:      "Values committed to the store, by key.",
		}, []string{"key"}),
		WriteFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dayplan",
			Subsystem: "cache",
			Name:      "write_failures_total",
			Help:      "Physical writes that failed after any retry, by reason.",
		}, []string{"reason"}),
		Coalesced: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan",
			Subsystem: "cache",
			Name:      "coalesced_writes_total",
			Help:      "Pending writes replaced by a newer value before commit.",
		}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan",
			Subsystem: "cache",
			Name:      "flushes_total",
			Help:      "Flush calls, explicit or debounced.",
		}),
		Optimizations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan",
			Subsystem: "cache",
			Name:      "optimizations_total",
			Help:      "Storage optimization passes that changed the store.",
		}),
		Hits: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Reads served from memory.",
		}),
		Misses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dayplan",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Reads that went to the store.",
		}),
	}
}
