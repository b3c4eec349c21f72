// SPDX-License-Identifier: MIT

package spanpanel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spand_panel_requests_total",
		Help: "Requests against the panel REST API by operation and outcome",
	}, []string{"operation", "outcome"}) // outcome=success|failure

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spand_panel_request_duration_seconds",
		Help:    "Duration of panel REST API requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

func observeRequest(op string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	requestsTotal.WithLabelValues(op, outcome).Inc()
	requestDuration.WithLabelValues(op).Observe(d.Seconds())
}
