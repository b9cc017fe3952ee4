// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "checkins_total",
		Help:      "Check-in submissions by result (recorded, repeat).",
	}, []string{"result"})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "status_transitions_total",
		Help:      "Student status flips by target state.",
	}, []string{"to"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rollcall",
		Name:      "notifications_total",
		Help:      "Below-threshold notification attempts by result.",
	}, []string{"result"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "rollcall",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of daily status sweeps.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})
)
