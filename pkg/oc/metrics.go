package oc

import "github.com/prometheus/client_golang/prometheus"

var anchorResolutionsMetrics = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ocbot_oc_anchor_resolutions_total",
		Help: "bucket anchor resolutions by source",
	}, []string{"source"})

var fetchFailureMetrics = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "ocbot_oc_fetch_failures_total",
		Help: "failed REST open-price fetches",
	})

func recordAnchorResolution(source AnchorSource) {
	anchorResolutionsMetrics.WithLabelValues(string(source)).Inc()
}

func init() {
	prometheus.MustRegister(
		anchorResolutionsMetrics,
		fetchFailureMetrics,
	)
}
