package floor

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "judge_floor_transitions_total",
        Help: "Turn state transitions",
    }, []string{"from", "to"})

    metricRejections = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "judge_floor_rejections_total",
        Help: "Turn requests rejected without a state change",
    }, []string{"op", "reason"})

    metricFinalize = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "judge_floor_finalize_total",
        Help: "Finalize window completions by trigger",
    }, []string{"trigger"})

    metricStaleResults = promauto.NewCounter(prometheus.CounterOpts{
        Name: "judge_floor_stale_results_total",
        Help: "Generated replies discarded because their turn was cancelled or superseded",
    })

    metricTurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
        Name:    "judge_floor_turn_seconds",
        Help:    "Time from floor acquisition to reply delivery",
        Buckets: prometheus.ExponentialBuckets(0.5, 1.8, 10),
    })
)
