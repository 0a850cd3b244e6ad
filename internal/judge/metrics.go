package judge

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    metricGenerations = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "judge_generation_total",
        Help: "Reply generations by kind and outcome (ok, default, fallback)",
    }, []string{"kind", "outcome"})

    metricGenerationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
        Name:    "judge_generation_seconds",
        Help:    "Reasoning service round trip",
        Buckets: prometheus.ExponentialBuckets(0.1, 1.8, 10),
    }, []string{"kind"})
)
