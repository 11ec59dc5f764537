// Package metrics exports ledger outcomes to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rl1809/part-ledger/internal/port"
)

var _ port.Metrics = (*Prometheus)(nil)

type Prometheus struct {
	items      *prometheus.CounterVec
	conflicts  prometheus.Counter
	transition prometheus.Histogram
	snapshot   prometheus.Histogram
}

// New registers the ledger collectors with reg.
func New(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	return &Prometheus{
		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partledger",
			Name:      "items_total",
			Help:      "Transition items by outcome.",
		}, []string{"status"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "partledger",
			Name:      "close_conflicts_total",
			Help:      "Conditional closes lost to a concurrent writer.",
		}),
		transition: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "partledger",
			Name:      "transition_duration_seconds",
			Help:      "Time spent applying a transition.",
			Buckets:   prometheus.DefBuckets,
		}),
		snapshot: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "partledger",
			Name:      "snapshot_duration_seconds",
			Help:      "Time spent reconstructing a container snapshot.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (p *Prometheus) ItemApplied(status string) { p.items.WithLabelValues(status).Inc() }

func (p *Prometheus) CloseConflict() { p.conflicts.Inc() }

func (p *Prometheus) TransitionDuration(d time.Duration) { p.transition.Observe(d.Seconds()) }

func (p *Prometheus) SnapshotDuration(d time.Duration) { p.snapshot.Observe(d.Seconds()) }
