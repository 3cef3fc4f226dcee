package admission

import "github.com/prometheus/client_golang/prometheus"

var reservationsIssuedMetrics = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ocbot_admission_reservations_issued_total",
		Help: "reservation tokens issued",
	})

var limitReachedMetrics = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ocbot_admission_limit_reached_total",
		Help: "reserve calls denied by the concurrency ceiling",
	})

var sweptReservationsMetrics = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ocbot_admission_swept_reservations_total",
		Help: "expired reservations cancelled by the background sweep",
	})

func init() {
	prometheus.MustRegister(
		reservationsIssuedMetrics,
		limitReachedMetrics,
		sweptReservationsMetrics,
	)
}
