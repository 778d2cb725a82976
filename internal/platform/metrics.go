package platform

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchesTotal counts transport calls actually sent, per endpoint family.
	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "armory_dispatches_total",
			Help: "Total number of transport calls dispatched",
		},
		[]string{"family"},
	)

	// attemptsTotal counts classified attempt outcomes.
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "armory_attempts_total",
			Help: "Total number of attempt outcomes by failure kind",
		},
		[]string{"family", "kind"},
	)

	// attemptLatency tracks transport round-trip latency.
	attemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "armory_attempt_latency_seconds",
			Help:    "Transport round-trip latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family"},
	)

	// throttleSeverity tracks the current backoff severity level.
	throttleSeverity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "armory_throttle_severity",
			Help: "Current throttle backoff severity",
		},
	)

	// queueDepth tracks requests admitted but not yet completed.
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "armory_queue_depth",
			Help: "Requests admitted to the sequencer but not yet completed",
		},
	)

	// pacingWait tracks time spent waiting on pacing constraints.
	pacingWait = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "armory_pacing_wait_seconds_total",
			Help: "Cumulative time spent waiting on dispatch pacing",
		},
	)
)
