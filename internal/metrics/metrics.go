// Package metrics exposes sync and execution activity as Prometheus collectors.
package metrics

import (
	"time"

	"github.com/desertthunder/audioarchitect/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "audioarchitect"

// Collector implements tasks.Observer on top of Prometheus metrics.
type Collector struct {
	SessionTransitions *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge
	OpsTotal           *prometheus.CounterVec
	RetriesTotal       *prometheus.CounterVec
	PlanDuration       *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		SessionTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_transitions_total",
				Help:      "Sync session state transitions by target state",
			},
			[]string{"to"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Sync sessions that have not reached a terminal state",
			},
		),
		OpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ops_total",
				Help:      "Executed mutation ops by platform, kind and status",
			},
			[]string{"platform", "kind", "status"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "op_retries_total",
				Help:      "Retried platform calls by platform",
			},
			[]string{"platform"},
		),
		PlanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "plan_execution_seconds",
				Help:      "Time spent executing a mutation plan",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		c.SessionTransitions,
		c.ActiveSessions,
		c.OpsTotal,
		c.RetriesTotal,
		c.PlanDuration,
	)
	return c
}

func (c *Collector) SessionTransition(_ string, from, to models.SyncState) {
	c.SessionTransitions.WithLabelValues(string(to)).Inc()
	switch {
	case from == models.StateIdle && to == models.StateDiffing:
		c.ActiveSessions.Inc()
	case !from.Terminal() && to.Terminal():
		c.ActiveSessions.Dec()
	}
}

func (c *Collector) OpCompleted(platform models.Platform, kind models.OpKind, status models.OpStatus, attempts int) {
	c.OpsTotal.WithLabelValues(string(platform), string(kind), string(status)).Inc()
	if attempts > 1 {
		c.RetriesTotal.WithLabelValues(string(platform)).Add(float64(attempts - 1))
	}
}

func (c *Collector) PlanExecuted(outcome models.Outcome, elapsed time.Duration) {
	c.PlanDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}
