package dispatch

import "github.com/prometheus/client_golang/prometheus"

var queueDepthMetrics = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "ocbot_dispatch_queue_depth",
		Help: "number of jobs waiting in the request scheduler",
	}, []string{"lane"})

var droppedJobsMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ocbot_dispatch_dropped_jobs_total",
		Help: "jobs dropped under queue backpressure",
	}, []string{"lane"})

var throttleMultiplierMetrics = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "ocbot_rategate_throttle_multiplier",
		Help: "current adaptive throttle multiplier",
	})

var circuitOpenMetrics = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "ocbot_rategate_circuit_open",
		Help: "1 while the rate gate circuit breaker is open",
	})

var timeoutFailureMetrics = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ocbot_rategate_timeout_failures_total",
		Help: "timeout-class failures reported to the rate gate",
	})

func init() {
	prometheus.MustRegister(
		queueDepthMetrics,
		droppedJobsMetrics,
		throttleMultiplierMetrics,
		circuitOpenMetrics,
		timeoutFailureMetrics,
	)
}
