package app

import (
	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts reconciliation outcomes. A nil *Metrics records nothing.
type Metrics struct {
	decisions  *prometheus.CounterVec
	syncErrors prometheus.Counter
	runs       *prometheus.CounterVec
}

// NewMetrics registers the reconciliation collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eldsal",
			Subsystem: "sync",
			Name:      "decisions_total",
			Help:      "Reconciliation decisions per fee flavour.",
		}, []string{"flavour", "outcome"}),
		syncErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eldsal",
			Subsystem: "sync",
			Name:      "member_errors_total",
			Help:      "Members whose reconciliation failed on an upstream call.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eldsal",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Batch reconciliation runs by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(m.decisions, m.syncErrors, m.runs)
	return m
}

func (m *Metrics) observeDecision(f domain.Flavour, updated bool) {
	if m == nil {
		return
	}
	outcome := "unchanged"
	if updated {
		outcome = "updated"
	}
	m.decisions.WithLabelValues(string(f), outcome).Inc()
}

func (m *Metrics) observeSyncError() {
	if m == nil {
		return
	}
	m.syncErrors.Inc()
}

func (m *Metrics) observeRun(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}
