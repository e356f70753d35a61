// Package metrics holds the Prometheus collectors for the decision pipeline.
// They register with the default registry and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_decisions_total",
	Help: "Total number of moderation decisions by action.",
}, []string{"action"})

var RoutedToHumanTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vigil_routed_to_human_total",
	Help: "Total number of decisions routed to a human reviewer.",
})

var InferDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "vigil_infer_duration_sec",
	Help:    "Time spent scoring and deciding one message.",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
})

var ScorerFallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_scorer_fallbacks_total",
	Help: "Total number of times the fixture scorers were used in place of served models.",
}, []string{"reason"})

var Degraded = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vigil_degraded",
	Help: "1 while decisions are made with the fixture scorers.",
})

var ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "vigil_active_sessions",
	Help: "Number of conversations with a live escalation tracker.",
})

var ReviewsResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vigil_reviews_resolved_total",
	Help: "Total number of human reviews resolved by verdict.",
}, []string{"verdict"})

// SetDegraded records the degraded state as 0 or 1.
func SetDegraded(degraded bool) {
	if degraded {
		Degraded.Set(1)
		return
	}
	Degraded.Set(0)
}
